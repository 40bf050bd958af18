package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"studybot/internal/chunker"
	"studybot/internal/helper"
	"studybot/internal/llmservice"
	"studybot/internal/models"
	"studybot/internal/parser"
)

// ErrNoTextFound is returned for documents that parse but contain no text.
var ErrNoTextFound = errors.New("no readable text found in document")

// VectorStore is the part of the vector database the pipeline needs.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	Query(ctx context.Context, text string, k int) ([]string, error)
	DeleteBySource(ctx context.Context, filename string) (int, error)
	ReplaceSource(ctx context.Context, filename string, chunks []models.Chunk) (int, error)
}

// Hook is notified after every successful upload and every chat turn.
type Hook interface {
	AfterUpload(ctx context.Context, event models.UploadEvent)
	AfterChat(ctx context.Context, event models.ChatEvent)
}

type Options struct {
	ChunkSize int
	TopK      int
	Hooks     []Hook
}

type RAG struct {
	parser    parser.Parser
	store     VectorStore
	generator llmservice.Generator
	assembler *ContextAssembler
	chunkSize int
	hooks     []Hook
}

func NewRAG(p parser.Parser, store VectorStore, generator llmservice.Generator, opts Options) *RAG {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	return &RAG{
		parser:    p,
		store:     store,
		generator: generator,
		assembler: NewContextAssembler(store, opts.TopK),
		chunkSize: opts.ChunkSize,
		hooks:     opts.Hooks,
	}
}

type UploadResult struct {
	Filename string
	Chunks   int
	// Replaced counts the chunks of an earlier version removed by Replace.
	Replaced int
}

func (r *UploadResult) Message() string {
	return fmt.Sprintf(models.UploadOKMessage, r.Chunks, r.Filename)
}

// Ingest extracts, chunks and stores the document at path under filename.
// The file at path is removed in every case; only a failed removal after a
// successful ingest is tolerated (and logged).
func (r *RAG) Ingest(ctx context.Context, filename, path string) (*UploadResult, error) {
	chunks, err := r.prepare(filename, path)
	if err != nil {
		return nil, err
	}

	if err := r.store.AddChunks(ctx, chunks); err != nil {
		helper.RemoveFile(path)
		return nil, fmt.Errorf("failed to store %s: %w", filename, err)
	}

	return r.finishUpload(ctx, filename, path, len(chunks), 0), nil
}

// Replace is Ingest for a document that may already be stored. The previous
// chunks of filename are only swapped out once the new document has been read
// and chunked, so a rejected upload leaves the stored version in place.
func (r *RAG) Replace(ctx context.Context, filename, path string) (*UploadResult, error) {
	chunks, err := r.prepare(filename, path)
	if err != nil {
		return nil, err
	}

	replaced, err := r.store.ReplaceSource(ctx, filename, chunks)
	if err != nil {
		helper.RemoveFile(path)
		return nil, fmt.Errorf("failed to replace %s: %w", filename, err)
	}

	return r.finishUpload(ctx, filename, path, len(chunks), replaced), nil
}

// prepare extracts and chunks the document, removing the file at path when
// it cannot be used.
func (r *RAG) prepare(filename, path string) ([]models.Chunk, error) {
	text, err := r.parser.ExtractText(path)
	if err != nil {
		helper.RemoveFile(path)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		helper.RemoveFile(path)
		return nil, fmt.Errorf("%w: %s", ErrNoTextFound, filename)
	}

	chunks := chunker.Chunks(filename, text, r.chunkSize)
	log.Debug().Str("file", filename).Int("chars", utf8.RuneCountInString(text)).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks, nil
}

func (r *RAG) finishUpload(ctx context.Context, filename, path string, chunks, replaced int) *UploadResult {
	logger := log.With().Str("file", filename).Logger()
	if !helper.RemoveFile(path) {
		logger.Warn().Str("path", path).Msg("Stored document but could not delete the uploaded file")
	}

	result := &UploadResult{Filename: filename, Chunks: chunks, Replaced: replaced}
	logger.Info().Int("chunks", result.Chunks).Int("replaced", replaced).Msg("Ingested document")

	event := models.UploadEvent{Filename: filename, Chunks: result.Chunks, UploadedAt: time.Now().UTC()}
	for _, h := range r.hooks {
		h.AfterUpload(context.WithoutCancel(ctx), event)
	}
	return result
}

// Forget removes every stored chunk of filename so it can be ingested again.
func (r *RAG) Forget(ctx context.Context, filename string) (int, error) {
	removed, err := r.store.DeleteBySource(ctx, filename)
	if err != nil {
		return 0, err
	}
	log.Info().Str("file", filename).Int("chunks", removed).Msg("Removed document chunks")
	return removed, nil
}

// Chat answers message from the stored documents. It always yields a reply:
// failures are described in the reply text.
func (r *RAG) Chat(ctx context.Context, message string) string {
	var reply string
	retrieved, err := r.assembler.Retrieve(ctx, message)
	if err != nil {
		log.Error().Err(err).Msg("Context retrieval failed")
		reply = fmt.Sprintf("Error: could not retrieve context. Details: %v", err)
	} else {
		prompt := models.BuildPrompt(retrieved, message)
		log.Debug().Str("prompt", prompt).Msg("Sending prompt to model")
		reply = r.generator.Generate(ctx, prompt)
	}

	event := models.ChatEvent{Message: message, Reply: reply, Timestamp: time.Now().UTC()}
	for _, h := range r.hooks {
		h.AfterChat(context.WithoutCancel(ctx), event)
	}
	return reply
}
