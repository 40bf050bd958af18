package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	VectorDB VectorDBConfig `yaml:"vector_db"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	InferLLM LLMConfig      `yaml:"infer_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	UploadDir string `yaml:"upload_dir"`
	// MaxUploadMB bounds the multipart body accepted by the upload endpoint.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
	// UploadTimeout is the write deadline of an upload, which includes
	// embedding every chunk.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type VectorDBConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

// LLMConfig describes either the embedding provider or the inference backend.
// Command, Args and Timeout only apply to the "exec" provider and to timeouts.
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Key      string        `yaml:"key"`
	Model    string        `yaml:"model"`
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RAGConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	TopK      int `yaml:"top_k"`
}

type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Key     string `yaml:"key"`
	Debug   bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

const (
	ProviderExec   = "exec"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPQ       = "pq"

	defaultTimeout       = 120 * time.Second
	defaultUploadTimeout = 10 * time.Minute
)

// LoadConfig reads the YAML file at path (an empty path or a missing file
// yields the defaults), then applies .env and environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	var cfg Config
	cfg.Log.Pretty = true
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		case os.IsNotExist(err):
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	mergeWithEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploads"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Server.UploadTimeout == 0 {
		cfg.Server.UploadTimeout = defaultUploadTimeout
	}

	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = "./chromemdb"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "study_material"
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOllama
	}
	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "nomic-embed-text"
	}

	if cfg.InferLLM.Provider == "" {
		cfg.InferLLM.Provider = ProviderExec
	}
	if cfg.InferLLM.Model == "" {
		cfg.InferLLM.Model = "mistral"
	}
	if cfg.InferLLM.BaseURL == "" {
		cfg.InferLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.InferLLM.Command == "" {
		cfg.InferLLM.Command = "ollama"
	}
	if len(cfg.InferLLM.Args) == 0 {
		cfg.InferLLM.Args = []string{"run", cfg.InferLLM.Model}
	}
	if cfg.InferLLM.Timeout == 0 {
		cfg.InferLLM.Timeout = defaultTimeout
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 3
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "studybot.db"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func mergeWithEnv(cfg *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		cfg.EmbedLLM.BaseURL = baseURL
		cfg.InferLLM.BaseURL = baseURL
	}
	if addr := os.Getenv("STUDYBOT_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if model := os.Getenv("STUDYBOT_MODEL"); model != "" {
		cfg.InferLLM.Model = model
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = key
		}
		if cfg.InferLLM.Key == "" {
			cfg.InferLLM.Key = key
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if key := os.Getenv("STUDYBOT_ENCRYPTION_KEY"); key != "" {
		cfg.VectorDB.EncryptionKey = key
	}
	if timeout := os.Getenv("STUDYBOT_MODEL_TIMEOUT_SECS"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil {
			cfg.InferLLM.Timeout = time.Duration(secs) * time.Second
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}
