// Package postgres provides a Postgres-backed archive ledger, for operators
// who keep one shelf index across several hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for archive rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Ledger implements manga.ArchiveStore on a Postgres table. As with the
// local ledgers, a row only counts when its file is still on disk.
type Ledger struct {
	pool  pool
	table string
	files archive.FileStore
}

// NewLedger connects to Postgres and ensures the ledger table exists.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewLedgerWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "archives"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: p, table: table}, nil
}

// EnsureSchema creates the ledger table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	path        TEXT PRIMARY KEY,
	source_url  TEXT NOT NULL,
	title       TEXT NOT NULL,
	chapter_key TEXT NOT NULL,
	pages       INTEGER NOT NULL,
	bytes       BIGINT NOT NULL,
	digest      TEXT NOT NULL,
	written_at  TIMESTAMPTZ NOT NULL
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Exists reports whether archivePath has a row and a file on disk.
func (l *Ledger) Exists(ctx context.Context, archivePath string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE path = $1", l.table)
	var one int
	err := l.pool.QueryRow(ctx, query, archivePath).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query archive %s: %w", archivePath, err)
	}
	return l.files.Exists(ctx, archivePath)
}

// Record upserts rec.
func (l *Ledger) Record(ctx context.Context, rec manga.ArchiveRecord) error {
	if rec.Path == "" {
		return fmt.Errorf("record path is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	path,
	source_url,
	title,
	chapter_key,
	pages,
	bytes,
	digest,
	written_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (path) DO UPDATE SET
	source_url = EXCLUDED.source_url,
	title = EXCLUDED.title,
	chapter_key = EXCLUDED.chapter_key,
	pages = EXCLUDED.pages,
	bytes = EXCLUDED.bytes,
	digest = EXCLUDED.digest,
	written_at = EXCLUDED.written_at`, l.table)

	args := []any{
		rec.Path,
		rec.SourceURL,
		rec.Title,
		rec.ChapterKey,
		rec.Pages,
		rec.Bytes,
		rec.Digest,
		rec.WrittenAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert archive: %w", err)
	}
	return nil
}

// List returns every recorded archive ordered by title and chapter key.
func (l *Ledger) List(ctx context.Context) ([]manga.ArchiveRecord, error) {
	query := fmt.Sprintf("SELECT path, source_url, title, chapter_key, pages, bytes, digest, written_at FROM %s ORDER BY title, chapter_key", l.table)
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var out []manga.ArchiveRecord
	for rows.Next() {
		var rec manga.ArchiveRecord
		if err := rows.Scan(&rec.Path, &rec.SourceURL, &rec.Title, &rec.ChapterKey,
			&rec.Pages, &rec.Bytes, &rec.Digest, &rec.WrittenAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archives: %w", err)
	}
	return out, nil
}
