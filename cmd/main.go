package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/uptrace/bun"

	"studybot/internal/chromemdb"
	"studybot/internal/chunker"
	"studybot/internal/config"
	"studybot/internal/db"
	"studybot/internal/embedding"
	"studybot/internal/helper"
	"studybot/internal/llmservice"
	"studybot/internal/parser"
	"studybot/internal/rag"
	"studybot/internal/server"
)

const (
	configFilePath  = "./configs/config.yaml"
	shutdownTimeout = 30 * time.Second
	historyLimit    = 20
)

type app struct {
	cfg      *config.Config
	vectorDB *chromemdb.VectorDBManager
	sqlDB    *bun.DB
	rag      *rag.RAG
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Document or directory of documents to ingest")
	query := flag.String("query", "", "Question to answer from the stored documents")
	dryRun := flag.Bool("dry-run", false, "Print the chunks of -file without storing them")
	export := flag.Bool("export", false, "Write an encrypted backup of the collection")
	importBackup := flag.Bool("import", false, "Restore the collection from the encrypted backup")
	reset := flag.Bool("reset", false, "Delete the collection and every stored chunk")
	history := flag.Bool("history", false, "Print the most recent uploads and chat turns")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := helper.SetupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logger: %v\n", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Int("errors", len(errs)).Msg("Invalid config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document using the -file flag or a query using the -query flag, but not both")
	}

	ctx := context.Background()

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("-dry-run needs a document given with -file")
		}
		printChunks(*filePath, cfg.RAG.ChunkSize)
		return
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.close()

	switch {
	case *reset:
		if err := a.vectorDB.DeleteCollection(); err != nil {
			log.Fatal().Err(err).Msg("Error deleting collection")
		}
		log.Info().Str("collection", cfg.VectorDB.Collection).Msg("Deleted collection")
	case *export:
		if err := a.vectorDB.Export(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
		log.Info().Str("file", a.vectorDB.ExportFilePath()).Msg("Exported collection")
	case *importBackup:
		if err := a.vectorDB.Import(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error importing collection")
		}
		log.Info().Int("chunks", a.vectorDB.Count()).Msg("Imported collection")
	case *history:
		a.printHistory(ctx)
	case *filePath != "":
		a.ingest(ctx, *filePath)
	case *query != "":
		a.answer(ctx, *query)
	default:
		a.serve()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if !cfg.VectorDB.InMemory {
		if err := helper.CreateFolder(cfg.VectorDB.Path); err != nil {
			return nil, err
		}
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}

	vectorDB, err := chromemdb.NewVectorDBManager(cfg.VectorDB.Path, cfg.VectorDB.Collection,
		cfg.VectorDB.InMemory, cfg.VectorDB.Compress, cfg.VectorDB.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("error creating vector database manager: %w", err)
	}
	if _, err := vectorDB.GetOrCreateCollection(cfg.VectorDB.Collection, embedding.EmbeddingFunc(embedder)); err != nil {
		return nil, fmt.Errorf("error creating collection: %w", err)
	}

	generator, err := llmservice.NewGenerator(&cfg.InferLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing generator: %w", err)
	}

	a := &app{cfg: cfg, vectorDB: vectorDB}

	var hooks []rag.Hook
	if cfg.Database.Enabled {
		a.sqlDB, err = db.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		hooks = append(hooks, db.NewAuditLog(a.sqlDB))
	}

	a.rag = rag.NewRAG(parser.New(), vectorDB, generator, rag.Options{
		ChunkSize: cfg.RAG.ChunkSize,
		TopK:      cfg.RAG.TopK,
		Hooks:     hooks,
	})
	return a, nil
}

func (a *app) close() {
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

func (a *app) serve() {
	if err := helper.CreateFolder(a.cfg.Server.UploadDir); err != nil {
		log.Fatal().Err(err).Msg("Error creating upload folder")
	}

	handler := server.NewHandler(a.rag, a.vectorDB, server.Options{
		UploadDir:          a.cfg.Server.UploadDir,
		MaxUploadMB:        a.cfg.Server.MaxUploadMB,
		UploadWriteTimeout: a.cfg.Server.UploadTimeout,
		// a chat turn can take as long as the model timeout
		ChatWriteTimeout: a.cfg.InferLLM.Timeout + 30*time.Second,
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: 15 * time.Second,
		// upload and chat set their own, longer write deadlines
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Int("chunks", a.vectorDB.Count()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", srv.Addr).Msg("Could not listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}

// ingest stores a single document or every supported document below a
// directory. The CLI works on a copy so the user's file is not deleted.
func (a *app) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document path")
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && parser.Supported(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Error listing documents")
		}
	} else {
		files = []string{path}
	}

	tmpDir, err := os.MkdirTemp("", "studybot-")
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating temp folder")
	}
	defer os.RemoveAll(tmpDir)

	bar := progressbar.Default(int64(len(files)), "ingesting")
	var failed int
	for _, f := range files {
		if err := a.ingestCopy(ctx, f, tmpDir); err != nil {
			failed++
			log.Error().Err(err).Str("file", f).Msg("Error ingesting document")
		}
		bar.Add(1)
	}
	log.Info().Int("documents", len(files)-failed).Int("failed", failed).Int("chunks", a.vectorDB.Count()).Msg("Ingestion finished")
}

func (a *app) ingestCopy(ctx context.Context, path, tmpDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	filename := filepath.Base(path)
	tmp := filepath.Join(tmpDir, id+"_"+filename)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	result, err := a.rag.Ingest(ctx, filename, tmp)
	if err != nil {
		return err
	}
	log.Debug().Msg(result.Message())
	return nil
}

func (a *app) answer(ctx context.Context, query string) {
	reply := a.rag.Chat(ctx, query)

	header := color.New(color.FgCyan, color.Bold)
	header.Println("Query:")
	fmt.Printf("%s\n\n", query)
	header.Println("Assistant:")
	fmt.Printf("%s\n\n", reply)
}

func (a *app) printHistory(ctx context.Context) {
	if a.sqlDB == nil {
		log.Fatal().Msg("History needs database.enabled in the config")
	}

	uploads, err := db.ListUploads(ctx, a.sqlDB, historyLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing uploads")
	}
	chats, err := db.ListChats(ctx, a.sqlDB, historyLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing chats")
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Println("Uploads:")
	helper.PrettyPrint(uploads)
	header.Println("Chats:")
	helper.PrettyPrint(chats)
}

func printChunks(path string, size int) {
	text, err := parser.New().ExtractText(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	chunks := chunker.Chunks(filepath.Base(path), text, size)
	log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}
