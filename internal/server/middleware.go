package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request through the global zerolog logger.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Handled request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// WriteDeadline moves the write deadline of the connection to d from now, so
// routes that wait on the embedder or the model can outlive the server's
// WriteTimeout. d <= 0 keeps the server's deadline.
func WriteDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d > 0 {
				err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d))
				if err != nil && !errors.Is(err, http.ErrNotSupported) {
					log.Warn().Err(err).Msg("Could not extend write deadline")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
