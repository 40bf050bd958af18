package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"studybot/internal/chromemdb"
	"studybot/internal/helper"
	"studybot/internal/models"
	"studybot/internal/parser"
	"studybot/internal/rag"
)

// Pipeline is what the handlers need from the retrieval pipeline.
type Pipeline interface {
	Ingest(ctx context.Context, filename, path string) (*rag.UploadResult, error)
	Replace(ctx context.Context, filename, path string) (*rag.UploadResult, error)
	Forget(ctx context.Context, filename string) (int, error)
	Chat(ctx context.Context, message string) string
}

// Counter reports how many chunks are stored.
type Counter interface {
	Count() int
}

type Options struct {
	UploadDir   string
	MaxUploadMB int64
	// Write deadlines of the upload and chat routes, which outlast the
	// server-wide WriteTimeout. Zero leaves the server's deadline in place.
	UploadWriteTimeout time.Duration
	ChatWriteTimeout   time.Duration
}

type Handler struct {
	pipeline Pipeline
	counter  Counter
	opts     Options
}

func NewHandler(pipeline Pipeline, counter Counter, opts Options) *Handler {
	return &Handler{
		pipeline: pipeline,
		counter:  counter,
		opts:     opts,
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: models.StatusOK, Chunks: h.counter.Count()})
}

// UploadHandler stores the multipart field "file" under a unique name in the
// upload directory and hands it to the pipeline, which deletes it.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadMB<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeUploadError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("The file is larger than the %d MB upload limit.", h.opts.MaxUploadMB))
			return
		}
		writeUploadError(w, http.StatusBadRequest, "A document is required in the \"file\" field.")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		writeUploadError(w, http.StatusBadRequest, "Invalid file name.")
		return
	}
	if !parser.Supported(filename) {
		writeUploadError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported file format: %s", filepath.Ext(filename)))
		return
	}

	path, err := h.save(file, filename)
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Failed to save upload")
		writeUploadError(w, http.StatusInternalServerError, "Could not save the uploaded file.")
		return
	}

	ingest := h.pipeline.Ingest
	if r.FormValue("replace") == "true" {
		ingest = h.pipeline.Replace
	}
	result, err := ingest(r.Context(), filename, path)
	if err != nil {
		status, message := uploadFailure(filename, err)
		log.Error().Err(err).Str("file", filename).Msg("Upload failed")
		writeUploadError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, models.UploadResponse{Status: models.StatusOK, Message: result.Message()})
}

func (h *Handler) save(src io.Reader, filename string) (string, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	path := filepath.Join(h.opts.UploadDir, id+"_"+filename)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		helper.RemoveFile(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		helper.RemoveFile(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

func uploadFailure(filename string, err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrNoTextFound):
		return http.StatusUnprocessableEntity, models.NoTextMessage
	case errors.Is(err, parser.ErrExtraction):
		return http.StatusUnprocessableEntity, fmt.Sprintf("Could not read %s: the file is corrupt or not a supported document.", filename)
	case errors.Is(err, chromemdb.ErrDuplicateID):
		return http.StatusConflict, fmt.Sprintf("%s was already uploaded. Delete it first or upload again with replace=true.", filename)
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Could not store %s.", filename)
	}
}

// ChatHandler always answers 200 once the request is well formed; pipeline
// failures are part of the reply.
func (h *Handler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	reply := h.pipeline.Chat(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, models.ChatResponse{Reply: reply})
}

func (h *Handler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	removed, err := h.pipeline.Forget(r.Context(), name)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to delete document")
		writeJSON(w, http.StatusInternalServerError, models.UploadResponse{
			Status:  models.StatusError,
			Message: fmt.Sprintf("Could not delete %s.", name),
		})
		return
	}
	if removed == 0 {
		writeJSON(w, http.StatusNotFound, models.UploadResponse{
			Status:  models.StatusError,
			Message: fmt.Sprintf("No chunks stored for %s.", name),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.UploadResponse{
		Status:  models.StatusOK,
		Message: fmt.Sprintf("Deleted %d chunks of %s.", removed, name),
	})
}

func writeUploadError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.UploadResponse{Status: models.StatusError, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
