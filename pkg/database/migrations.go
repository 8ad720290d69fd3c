package database

import (
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migration is one NNN_name.sql file
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Migrator applies migrations in version order and records a checksum for
// each, so an edited migration that was already applied is reported instead
// of silently skipped.
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a migrator for db
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger}
}

// RunMigrations applies the schema shipped with the binary
func (m *Migrator) RunMigrations() error {
	return m.RunMigrationsFS(embedded, "migrations")
}

// RunMigrationsFS applies every pending migration under dir in fsys
func (m *Migrator) RunMigrationsFS(fsys fs.FS, dir string) error {
	ctx := context.Background()

	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	wanted, err := LoadMigrations(fsys, dir)
	if err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, mig := range wanted {
		if sum, ok := applied[mig.Version]; ok {
			if sum != "" && sum != mig.Checksum {
				return fmt.Errorf("migration %d (%s) changed after it was applied", mig.Version, mig.Name)
			}
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("apply migration %d: %w", mig.Version, err)
		}
		m.logger.Info("Applied migration", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		count++
	}

	m.logger.Info("Schema up to date", zap.Int("applied", count), zap.Int("total", len(wanted)))
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var v int
		var sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		out[v] = sum
	}
	return out, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		mig.Version, mig.Name, mig.Checksum,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadMigrations reads NNN_name.sql files under dir sorted by version.
// Duplicate versions are an error.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, name, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, e.Name(), version)
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sum := blake2b.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
