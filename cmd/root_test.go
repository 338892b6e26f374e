package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/batch"
	"github.com/JakeFAU/mangashelf/internal/config"
	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/processor"
	"github.com/JakeFAU/mangashelf/internal/storage/sqlite"
)

type fakeArchiver struct {
	report      batch.SweepReport
	err         error
	gotURL      string
	gotReset    bool
	selfService bool
	closed      bool
}

func (f *fakeArchiver) RunOnce(_ context.Context, sourceURL string, fullReset bool) (batch.SweepReport, error) {
	f.gotURL = sourceURL
	f.gotReset = fullReset
	return f.report, f.err
}

func (f *fakeArchiver) RunSelfService(_ context.Context, fullReset bool) error {
	f.selfService = true
	f.gotReset = fullReset
	return f.err
}

func (f *fakeArchiver) Close() { f.closed = true }

func useArchiver(t *testing.T, fake *fakeArchiver) {
	t.Helper()
	prev := newArchiver
	newArchiver = func(context.Context, config.Config, *zap.Logger) (Archiver, error) {
		return fake, nil
	}
	t.Cleanup(func() { newArchiver = prev })
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	saveRoot := filepath.Join(dir, "shelf")
	path := filepath.Join(dir, "mangashelf.yaml")
	body := fmt.Sprintf("paths:\n  save_root: %s\n  url_list_file: %s\nlogging:\n  level: error\n",
		saveRoot, filepath.Join(dir, "urls.txt"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, saveRoot
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRunsSingleSource(t *testing.T) {
	fake := &fakeArchiver{report: batch.SweepReport{Sources: []batch.SourceOutcome{{
		Result: processor.Result{
			SourceURL: "https://reader.example/manga/night-sky",
			Title:        "Night Sky",
			Status:       processor.StatusCompleted,
			SeriesStatus: "Ongoing",
			Archived:     2,
		},
	}}}}
	useArchiver(t, fake)
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--url", "https://reader.example/manga/night-sky", "--full-reset")

	require.NoError(t, err)
	assert.Equal(t, "https://reader.example/manga/night-sky", fake.gotURL)
	assert.True(t, fake.gotReset)
	assert.True(t, fake.closed)
	assert.Contains(t, out, "Night Sky")
	assert.Contains(t, out, "Series")
	assert.Contains(t, out, "Ongoing")
	assert.Contains(t, out, "completed")
}

func TestRootFailsWhenEverySourceFailed(t *testing.T) {
	fake := &fakeArchiver{report: batch.SweepReport{Sources: []batch.SourceOutcome{
		{Result: processor.Result{SourceURL: "https://a.example/manga/x", Status: processor.StatusFailed}, Err: errors.New("disk full")},
		{Result: processor.Result{
			SourceURL: "https://b.example/manga/y",
			Status:    processor.StatusAborted,
			Reason:    errors.New("retries exhausted"),
		}},
	}}}
	useArchiver(t, fake)
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath)

	require.ErrorIs(t, err, errAllFailed)
	assert.Empty(t, fake.gotURL, "no --url means the list file")
	assert.Contains(t, out, "disk full")
}

func TestRootPropagatesRunErrors(t *testing.T) {
	boom := errors.New("list unreadable")
	useArchiver(t, &fakeArchiver{err: boom})
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath)
	require.ErrorIs(t, err, boom)
}

func TestRootSelfService(t *testing.T) {
	fake := &fakeArchiver{}
	useArchiver(t, fake)
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "--self-service")

	require.NoError(t, err)
	assert.True(t, fake.selfService)
	assert.False(t, fake.gotReset)
}

func TestRootRejectsURLWithSelfService(t *testing.T) {
	useArchiver(t, &fakeArchiver{})
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "--self-service", "--url", "https://a.example/manga/x")
	require.Error(t, err)
}

func TestRootBadConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestListEmptyShelf(t *testing.T) {
	cfgPath, saveRoot := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "list")

	require.NoError(t, err)
	assert.Contains(t, out, "No archives under "+saveRoot)
}

func TestListRendersArchives(t *testing.T) {
	cfgPath, saveRoot := writeConfig(t)
	path := archive.Path(saveRoot, "Night Sky", "0002_5")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for i := 1; i <= 3; i++ {
		_, err := zw.Create(fmt.Sprintf("Night_Sky_page_%03d.jpg", i))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	out, err := execute(t, "--config", cfgPath, "list")

	require.NoError(t, err)
	assert.Contains(t, out, "Night Sky")
	assert.Contains(t, out, "2.5")
	assert.Contains(t, out, "Pages")
}

func TestListReadsSQLiteLedger(t *testing.T) {
	dir := t.TempDir()
	saveRoot := filepath.Join(dir, "shelf")
	ledgerPath := filepath.Join(dir, "ledger.db")
	cfgPath := filepath.Join(dir, "mangashelf.yaml")
	body := fmt.Sprintf("paths:\n  save_root: %s\n  ledger_db: %s\nstore:\n  backend: sqlite\nlogging:\n  level: error\n",
		saveRoot, ledgerPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	ctx := context.Background()
	ledger, err := sqlite.Open(ctx, ledgerPath)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(ctx, manga.ArchiveRecord{
		Path:       archive.Path(saveRoot, "Night Sky", "0003_0"),
		SourceURL:  "https://reader.example/manga/night-sky",
		Title:      "Night Sky",
		ChapterKey: "0003_0",
		Pages:      7,
		Bytes:      4096,
		Digest:     "0123456789abcdef",
		WrittenAt:  time.Unix(1700000000, 0),
	}))
	require.NoError(t, ledger.Close())

	out, err := execute(t, "--config", cfgPath, "list")

	require.NoError(t, err)
	assert.Contains(t, out, "Night Sky")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "missing", "the archive file was never written")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}
