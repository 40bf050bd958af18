package db

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"studybot/internal/models"
)

// AuditLog records uploads and chat turns. It is subscribed to the pipeline
// as a hook; failures are logged and never reach the user.
type AuditLog struct {
	db *bun.DB

	mu         sync.Mutex
	lastFileID *int64
}

func NewAuditLog(db *bun.DB) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) AfterUpload(ctx context.Context, event models.UploadEvent) {
	file, err := StoreUpload(ctx, a.db, event.Filename, event.Chunks, event.UploadedAt)
	if err != nil {
		log.Warn().Err(err).Str("file", event.Filename).Msg("Failed to record upload")
		return
	}
	a.mu.Lock()
	a.lastFileID = &file.ID
	a.mu.Unlock()
}

// AfterChat links the turn to the most recently uploaded file of this process.
func (a *AuditLog) AfterChat(ctx context.Context, event models.ChatEvent) {
	a.mu.Lock()
	fileID := a.lastFileID
	a.mu.Unlock()

	if _, err := StoreChat(ctx, a.db, event.Message, event.Reply, fileID, event.Timestamp); err != nil {
		log.Warn().Err(err).Msg("Failed to record chat")
	}
}
