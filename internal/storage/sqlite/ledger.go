// Package sqlite records written archives in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

const schema = `
CREATE TABLE IF NOT EXISTS archives (
	path        TEXT PRIMARY KEY,
	source_url  TEXT NOT NULL,
	title       TEXT NOT NULL,
	chapter_key TEXT NOT NULL,
	pages       INTEGER NOT NULL,
	bytes       INTEGER NOT NULL,
	digest      TEXT NOT NULL,
	written_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS archives_source ON archives (source_url, chapter_key);
`

// Ledger implements manga.ArchiveStore. A chapter counts as archived only
// when it has a row and its file is still on disk.
type Ledger struct {
	db    *sql.DB
	path  string
	files archive.FileStore
}

// Open creates or opens the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file location.
func (l *Ledger) Path() string {
	return l.path
}

// Exists reports whether archivePath is recorded and present on disk.
func (l *Ledger) Exists(ctx context.Context, archivePath string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM archives WHERE path = ?", archivePath).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query archive %s: %w", archivePath, err)
	}
	return l.files.Exists(ctx, archivePath)
}

// Record upserts rec.
func (l *Ledger) Record(ctx context.Context, rec manga.ArchiveRecord) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO archives (path, source_url, title, chapter_key, pages, bytes, digest, written_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	source_url = excluded.source_url,
	title = excluded.title,
	chapter_key = excluded.chapter_key,
	pages = excluded.pages,
	bytes = excluded.bytes,
	digest = excluded.digest,
	written_at = excluded.written_at`,
		rec.Path, rec.SourceURL, rec.Title, rec.ChapterKey, rec.Pages, rec.Bytes, rec.Digest,
		rec.WrittenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record archive %s: %w", rec.Path, err)
	}
	return nil
}

// List returns every recorded archive ordered by source and chapter key.
func (l *Ledger) List(ctx context.Context) ([]manga.ArchiveRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT path, source_url, title, chapter_key, pages, bytes, digest, written_at
FROM archives ORDER BY title, chapter_key`)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []manga.ArchiveRecord
	for rows.Next() {
		var (
			rec     manga.ArchiveRecord
			written string
		)
		if err := rows.Scan(&rec.Path, &rec.SourceURL, &rec.Title, &rec.ChapterKey,
			&rec.Pages, &rec.Bytes, &rec.Digest, &written); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		if rec.WrittenAt, err = time.Parse(time.RFC3339Nano, written); err != nil {
			return nil, fmt.Errorf("parse written_at for %s: %w", rec.Path, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archives: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
