package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybot/internal/chromemdb"
	"studybot/internal/models"
	"studybot/internal/parser"
	"studybot/internal/rag"
)

type ingestCall struct {
	filename string
	content  string
}

type fakePipeline struct {
	ingestErr error
	forgetErr error
	forgotten []string
	ingested  []ingestCall
	replaced  []ingestCall
	delay     time.Duration
	messages  []string
	removed   int
	reply     string
}

func (p *fakePipeline) Ingest(_ context.Context, filename, path string) (*rag.UploadResult, error) {
	return p.consume(&p.ingested, filename, path)
}

func (p *fakePipeline) Replace(_ context.Context, filename, path string) (*rag.UploadResult, error) {
	return p.consume(&p.replaced, filename, path)
}

func (p *fakePipeline) consume(calls *[]ingestCall, filename, path string) (*rag.UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	os.Remove(path)
	*calls = append(*calls, ingestCall{filename: filename, content: string(data)})
	if p.ingestErr != nil {
		return nil, p.ingestErr
	}
	return &rag.UploadResult{Filename: filename, Chunks: 3}, nil
}

func (p *fakePipeline) Forget(_ context.Context, filename string) (int, error) {
	p.forgotten = append(p.forgotten, filename)
	return p.removed, p.forgetErr
}

func (p *fakePipeline) Chat(_ context.Context, message string) string {
	time.Sleep(p.delay)
	p.messages = append(p.messages, message)
	return p.reply
}

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

func newTestRouter(t *testing.T, p *fakePipeline) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRouter(NewHandler(p, fixedCounter(7), Options{UploadDir: dir, MaxUploadMB: 1})), dir
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_pdf", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakePipeline{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.HealthResponse{Status: "ok", Chunks: 7}, decode[models.HealthResponse](t, rec))
}

func TestUpload(t *testing.T) {
	p := &fakePipeline{}
	router, dir := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "notes.pdf", "%PDF-1.4", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.UploadResponse{
		Status:  "ok",
		Message: "Added 3 chunks from notes.pdf and deleted the original file.",
	}, decode[models.UploadResponse](t, rec))
	require.Len(t, p.ingested, 1)
	assert.Equal(t, ingestCall{filename: "notes.pdf", content: "%PDF-1.4"}, p.ingested[0])
	assert.Empty(t, p.forgotten)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadStripsDirectories(t *testing.T) {
	p := &fakePipeline{}
	router, _ := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "../../etc/notes.txt", "text", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, p.ingested, 1)
	assert.Equal(t, "notes.txt", p.ingested[0].filename)
}

func TestUploadReplace(t *testing.T) {
	p := &fakePipeline{}
	router, _ := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "notes.txt", "v2", map[string]string{"replace": "true"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []ingestCall{{filename: "notes.txt", content: "v2"}}, p.replaced)
	assert.Empty(t, p.ingested)
	assert.Empty(t, p.forgotten)
}

func TestUploadReplaceRejected(t *testing.T) {
	p := &fakePipeline{ingestErr: fmt.Errorf("%w: notes.txt", rag.ErrNoTextFound)}
	router, dir := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "notes.txt", " ", map[string]string{"replace": "true"}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.UploadResponse{Status: "error", Message: "No readable text found in document."}, decode[models.UploadResponse](t, rec))
	assert.Len(t, p.replaced, 1)
	assert.Empty(t, p.forgotten)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		err      error
		status   int
		message  string
	}{
		{
			name:    "missing file",
			status:  http.StatusBadRequest,
			message: "A document is required in the \"file\" field.",
		},
		{
			name:     "unsupported format",
			filename: "photo.png",
			status:   http.StatusUnsupportedMediaType,
			message:  "Unsupported file format: .png",
		},
		{
			name:     "no text",
			filename: "scan.pdf",
			err:      fmt.Errorf("%w: scan.pdf", rag.ErrNoTextFound),
			status:   http.StatusUnprocessableEntity,
			message:  "No readable text found in document.",
		},
		{
			name:     "corrupt",
			filename: "broken.pdf",
			err:      fmt.Errorf("%w: broken.pdf: bad xref", parser.ErrExtraction),
			status:   http.StatusUnprocessableEntity,
			message:  "Could not read broken.pdf: the file is corrupt or not a supported document.",
		},
		{
			name:     "duplicate",
			filename: "notes.pdf",
			err:      fmt.Errorf("failed to store notes.pdf: %w", &chromemdb.DuplicateIDError{ID: "notes.pdf_chunk_0"}),
			status:   http.StatusConflict,
			message:  "notes.pdf was already uploaded. Delete it first or upload again with replace=true.",
		},
		{
			name:     "store failure",
			filename: "notes.pdf",
			err:      fmt.Errorf("disk full"),
			status:   http.StatusInternalServerError,
			message:  "Could not store notes.pdf.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakePipeline{ingestErr: tt.err})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, tt.filename, "content", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, models.UploadResponse{Status: "error", Message: tt.message}, decode[models.UploadResponse](t, rec))
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	p := &fakePipeline{}
	router, _ := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "big.txt", strings.Repeat("x", 2<<20), nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, models.UploadResponse{
		Status:  "error",
		Message: "The file is larger than the 1 MB upload limit.",
	}, decode[models.UploadResponse](t, rec))
	assert.Empty(t, p.ingested)
}

func TestChat(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "answer", reply: "Mitochondria produce ATP."},
		{name: "model failure", reply: "Error: model request timed out."},
		{name: "empty reply", reply: "No response from model."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{reply: tt.reply}
			router, _ := newTestRouter(t, p)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"What is ATP?"}`))
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, models.ChatResponse{Reply: tt.reply}, decode[models.ChatResponse](t, rec))
			assert.Equal(t, []string{"What is ATP?"}, p.messages)
		})
	}
}

func TestChatMalformed(t *testing.T) {
	p := &fakePipeline{}
	router, _ := newTestRouter(t, p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.messages)
}

func TestDeleteDocument(t *testing.T) {
	tests := []struct {
		name     string
		pipeline *fakePipeline
		status   int
		response models.UploadResponse
	}{
		{
			name:     "deleted",
			pipeline: &fakePipeline{removed: 4},
			status:   http.StatusOK,
			response: models.UploadResponse{Status: "ok", Message: "Deleted 4 chunks of notes.pdf."},
		},
		{
			name:     "unknown",
			pipeline: &fakePipeline{},
			status:   http.StatusNotFound,
			response: models.UploadResponse{Status: "error", Message: "No chunks stored for notes.pdf."},
		},
		{
			name:     "failure",
			pipeline: &fakePipeline{forgetErr: fmt.Errorf("read-only")},
			status:   http.StatusInternalServerError,
			response: models.UploadResponse{Status: "error", Message: "Could not delete notes.pdf."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, tt.pipeline)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/documents/notes.pdf", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.response, decode[models.UploadResponse](t, rec))
			assert.Equal(t, []string{"notes.pdf"}, tt.pipeline.forgotten)
		})
	}
}

func TestRecovererKeepsServing(t *testing.T) {
	router, _ := newTestRouter(t, &fakePipeline{})
	h := NewHandler(nil, fixedCounter(0), Options{UploadDir: t.TempDir()})
	panicking := NewRouter(h)

	rec := httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatOutlastsServerWriteTimeout(t *testing.T) {
	p := &fakePipeline{reply: "slow answer", delay: 300 * time.Millisecond}
	h := NewHandler(p, fixedCounter(0), Options{UploadDir: t.TempDir(), ChatWriteTimeout: 5 * time.Second})

	srv := httptest.NewUnstartedServer(NewRouter(h))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body models.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "slow answer", body.Reply)
}
