package chunker

import (
	"iter"
	"slices"

	"studybot/internal/models"
)

const DefaultChunkSize = 1000 // characters

// Split yields consecutive, non-overlapping windows of at most size
// characters (code points). The last window may be shorter and an empty text
// yields nothing. The sequence can be ranged over any number of times.
func Split(text string, size int) iter.Seq[string] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func(string) bool) {
		start, n := 0, 0
		for i := range text {
			if n == size {
				if !yield(text[start:i]) {
					return
				}
				start, n = i, 0
			}
			n++
		}
		if start < len(text) {
			yield(text[start:])
		}
	}
}

// Chunks materialises Split for filename, assigning the ids the vector store
// keys records by.
func Chunks(filename, text string, size int) []models.Chunk {
	var chunks []models.Chunk
	for i, content := range slices.Collect(Split(text, size)) {
		chunks = append(chunks, models.Chunk{
			ID:      models.ChunkID(filename, i),
			Source:  filename,
			Index:   i,
			Content: content,
		})
	}
	return chunks
}
