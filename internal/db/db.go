package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"studybot/internal/config"
)

type UploadedFile struct {
	bun.BaseModel `bun:"table:uploaded_files,alias:uf" json:"-"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Filename      string    `bun:"filename,notnull" json:"filename"`
	Chunks        int       `bun:"chunks,notnull,default:0" json:"chunks"`
	UploadedAt    time.Time `bun:"uploaded_at,notnull,default:current_timestamp" json:"uploaded_at"`
}

type ChatHistory struct {
	bun.BaseModel `bun:"table:chat_history,alias:ch" json:"-"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Message       string    `bun:"message,notnull" json:"message"`
	Reply         string    `bun:"reply,notnull" json:"reply"`
	Timestamp     time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`
	FileID        *int64    `bun:"file_id" json:"file_id,omitempty"`
}

// NewDB wraps sqldb with the bun dialect matching driver.
func NewDB(sqldb *sql.DB, driver string, debug bool) *bun.DB {
	var db *bun.DB
	if driver == config.DriverSQLite {
		// a single connection avoids "database is locked" on concurrent writes
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	} else {
		db = bun.NewDB(sqldb, pgdialect.New())
	}
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database described by cfg. "postgres" uses bun's own
// pgdriver, "pq" the lib/pq driver, "sqlite" a local file.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sql.Open("sqlite3", cfg.DSN)
	case config.DriverPostgres:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Key != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Key))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case config.DriverPQ:
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects, wraps and initialises the schema in one go.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := NewDB(sqldb, cfg.Driver, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*UploadedFile)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewCreateTable().Model((*ChatHistory)(nil)).IfNotExists().
		ForeignKey(`("file_id") REFERENCES "uploaded_files" ("id") ON DELETE SET NULL`).
		Exec(ctx)
	return err
}

func StoreUpload(ctx context.Context, db *bun.DB, filename string, chunks int, at time.Time) (*UploadedFile, error) {
	file := &UploadedFile{Filename: filename, Chunks: chunks, UploadedAt: at}
	_, err := db.NewInsert().Model(file).Exec(ctx)
	return file, err
}

func StoreChat(ctx context.Context, db *bun.DB, message, reply string, fileID *int64, at time.Time) (*ChatHistory, error) {
	entry := &ChatHistory{Message: message, Reply: reply, FileID: fileID, Timestamp: at}
	_, err := db.NewInsert().Model(entry).Exec(ctx)
	return entry, err
}

// ListUploads returns the most recent uploads first.
func ListUploads(ctx context.Context, db *bun.DB, limit int) ([]UploadedFile, error) {
	var files []UploadedFile
	err := db.NewSelect().
		Model(&files).
		Order("uploaded_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	return files, err
}

// ListChats returns the most recent chat turns first.
func ListChats(ctx context.Context, db *bun.DB, limit int) ([]ChatHistory, error) {
	var chats []ChatHistory
	err := db.NewSelect().
		Model(&chats).
		Order("timestamp DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	return chats, err
}

// drop tables
func DropTables(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*ChatHistory)(nil)).IfExists().Exec(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewDropTable().Model((*UploadedFile)(nil)).IfExists().Exec(ctx)
	return err
}
