package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthHandler)
	r.With(WriteDeadline(h.opts.UploadWriteTimeout)).Post("/upload_pdf", h.UploadHandler)
	r.With(WriteDeadline(h.opts.ChatWriteTimeout)).Post("/chat", h.ChatHandler)
	r.Delete("/documents/{name}", h.DeleteDocumentHandler)

	return r
}
