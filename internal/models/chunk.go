package models

import "time"

// Chunk represents a slice of a document's extracted text
type Chunk struct {
	ID      string
	Source  string
	Index   int
	Content string
}

type UploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

// UploadEvent is published to pipeline hooks after a document was stored.
type UploadEvent struct {
	Filename   string
	Chunks     int
	UploadedAt time.Time
}

// ChatEvent is published to pipeline hooks after every chat turn.
type ChatEvent struct {
	Message   string
	Reply     string
	Timestamp time.Time
}

type HealthResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}
