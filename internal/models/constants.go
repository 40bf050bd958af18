package models

import "fmt"

const (
	ChunkIDFormat = "%s_chunk_%d"

	// Metadata keys stored next to every chunk in the vector store.
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"

	UploadOKMessage  = "Added %d chunks from %s and deleted the original file."
	NoTextMessage    = "No readable text found in document."
	StatusOK         = "ok"
	StatusError      = "error"
	ContextSeparator = "\n"
)

var (
	PromptTemplate = `You are a helpful study assistant.
Use the context below to answer the question as accurately as possible.

Context:
%s

Question:
%s
`
)

// ChunkID returns the deterministic vector store id of the i-th chunk of filename.
func ChunkID(filename string, i int) string {
	return fmt.Sprintf(ChunkIDFormat, filename, i)
}

// BuildPrompt fills PromptTemplate. An empty context still produces a prompt.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(PromptTemplate, context, question)
}
