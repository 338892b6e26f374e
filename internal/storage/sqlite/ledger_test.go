package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

func openLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(context.Background(), filepath.Join(dir, "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, dir
}

func record(path string) manga.ArchiveRecord {
	return manga.ArchiveRecord{
		Path:       path,
		SourceURL:  "https://reader.example/manga/night-sky",
		Title:      "Night Sky",
		ChapterKey: "0001_0",
		Pages:      12,
		Bytes:      4096,
		Digest:     "abc",
		WrittenAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestLedgerExistsNeedsRowAndFile(t *testing.T) {
	ctx := context.Background()
	l, dir := openLedger(t)
	archivePath := filepath.Join(dir, "Night Sky", "chapter_0001_0_Night_Sky.cbz")

	ok, err := l.Exists(ctx, archivePath)
	require.NoError(t, err)
	assert.False(t, ok, "no row")

	require.NoError(t, l.Record(ctx, record(archivePath)))
	ok, err = l.Exists(ctx, archivePath)
	require.NoError(t, err)
	assert.False(t, ok, "row without file")

	require.NoError(t, os.MkdirAll(filepath.Dir(archivePath), 0o750))
	require.NoError(t, os.WriteFile(archivePath, []byte("zip"), 0o600))
	ok, err = l.Exists(ctx, archivePath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerRecordUpserts(t *testing.T) {
	ctx := context.Background()
	l, dir := openLedger(t)
	archivePath := filepath.Join(dir, "a.cbz")

	rec := record(archivePath)
	require.NoError(t, l.Record(ctx, rec))
	rec.Pages = 20
	rec.Digest = "def"
	require.NoError(t, l.Record(ctx, rec))

	all, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 20, all[0].Pages)
	assert.Equal(t, "def", all[0].Digest)
	assert.True(t, rec.WrittenAt.Equal(all[0].WrittenAt))
}

func TestLedgerReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	l, dir := openLedger(t)
	require.NoError(t, l.Record(ctx, record(filepath.Join(dir, "a.cbz"))))
	require.NoError(t, l.Close())

	again, err := Open(ctx, l.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	all, err := again.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
