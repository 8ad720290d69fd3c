package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Config describes the sqlite file and its pool
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig returns pool settings suited to a single sqlite file
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// DB is an open sqlite pool
type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// dsn enables WAL and foreign keys. _txlock=immediate takes the write lock
// at BEGIN so two writers on one letter queue on the busy timeout instead of
// failing a read-to-write upgrade.
func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	return "file:" + c.Path + "?" + q.Encode()
}

// New opens the database, creating its parent directory when needed
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	pool, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database opened", zap.String("path", cfg.Path), zap.Int("max_open_conns", cfg.MaxOpenConns))
	return &DB{DB: pool, path: cfg.Path, logger: logger}, nil
}

// Path returns the file the pool was opened on
func (db *DB) Path() string {
	return db.path
}

// Close releases the pool
func (db *DB) Close() error {
	db.logger.Info("Closing database", zap.String("path", db.path))
	return db.DB.Close()
}
