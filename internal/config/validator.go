package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/rs/zerolog"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.RAG.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_size",
			Message: "chunk_size must be positive",
		})
	}
	if c.RAG.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k",
			Message: "top_k must be at least 1",
		})
	}

	if c.VectorDB.Collection == "" {
		errors = append(errors, ValidationError{
			Field:   "vector_db.collection",
			Message: "collection name is required",
		})
	}

	if !slices.Contains([]string{ProviderOllama, ProviderOpenAI}, c.EmbedLLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embed_llm.provider",
			Message: "provider must be one of ollama, openai",
		})
	}
	if u, err := url.Parse(c.EmbedLLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "embed_llm.base_url",
			Message: "invalid base URL",
		})
	}

	switch c.InferLLM.Provider {
	case ProviderExec:
		if c.InferLLM.Command == "" {
			errors = append(errors, ValidationError{
				Field:   "infer_llm.command",
				Message: "command is required for the exec provider",
			})
		}
	case ProviderOllama, ProviderOpenAI:
		if u, err := url.Parse(c.InferLLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "infer_llm.base_url",
				Message: "invalid base URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "infer_llm.provider",
			Message: "provider must be one of exec, ollama, openai",
		})
	}
	if c.InferLLM.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "infer_llm.timeout",
			Message: "timeout cannot be negative",
		})
	}

	if c.Database.Enabled {
		if !slices.Contains([]string{DriverSQLite, DriverPostgres, DriverPQ}, c.Database.Driver) {
			errors = append(errors, ValidationError{
				Field:   "database.driver",
				Message: "driver must be one of sqlite, postgres, pq",
			})
		}
		if c.Database.DSN == "" {
			errors = append(errors, ValidationError{
				Field:   "database.dsn",
				Message: "dsn is required when the database is enabled",
			})
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: "unknown log level",
		})
	}

	return errors
}
