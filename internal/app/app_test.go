package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/config"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

const (
	sourceURL  = "https://reader.example/manga/night-sky"
	chapterURL = "https://reader.example/manga/night-sky/chapter-1"
)

type page struct {
	url    string
	html   string
	images map[string][]byte
}

func (p *page) URL() string  { return p.url }
func (p *page) HTML() string { return p.html }
func (p *page) Close() error { return nil }

func (p *page) Captured(rawURL string) ([]byte, bool) {
	b, ok := p.images[rawURL]
	return b, ok
}

func (p *page) FetchBytes(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("unexpected direct fetch")
}

type siteFetcher struct {
	pages map[string]*page
}

func (f *siteFetcher) Load(_ context.Context, rawURL string, _ manga.LoadOptions) (manga.PageHandle, error) {
	p, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("no page for %s", rawURL)
	}
	return p, nil
}

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, _ time.Duration, _ string) error {
	return ctx.Err()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSite(t *testing.T) *siteFetcher {
	t.Helper()
	source := `<html><body>
<ul class="manga-info-text">
  <h1>Night Sky</h1>
  <li>Author(s) : Jane Doe</li>
  <li>Status : Ongoing</li>
  <li>Last updated : Jan-01-2026</li>
  <li>View : 10</li>
  <li>Genres : Drama</li>
</ul>
<div class="chapter-list">
  <div class="row"><span><a href="/manga/night-sky/chapter-1">Chapter 1</a></span></div>
</div>
</body></html>`
	reader := `<html><body><div class="container-chapter-reader">
<img src="https://cdn.example/night-sky/1.png">
<img src="https://cdn.example/night-sky/2.png">
<img src="https://cdn.example/ads/banner.png">
</div></body></html>`
	return &siteFetcher{pages: map[string]*page{
		sourceURL: {url: sourceURL, html: source},
		chapterURL: {url: chapterURL, html: reader, images: map[string][]byte{
			"https://cdn.example/night-sky/1.png": pngBytes(t, 200, 300),
			"https://cdn.example/night-sky/2.png": pngBytes(t, 220, 320),
			"https://cdn.example/ads/banner.png":  pngBytes(t, 728, 90),
		}},
	}}
}

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		Paths: config.PathsConfig{
			SaveRoot:      filepath.Join(root, "shelf"),
			URLListFile:   filepath.Join(root, "urls.txt"),
			HeartbeatFile: filepath.Join(root, "shelf", ".heartbeat"),
			LedgerDB:      filepath.Join(root, "shelf", ".mangashelf.db"),
		},
		Filter:    config.FilterConfig{MinWidth: 200, MinHeight: 300},
		Processor: config.ProcessorConfig{MaxRetries: 3, MetadataRetries: 3},
		Scheduler: config.SchedulerConfig{HeartbeatInterval: time.Minute, HeartbeatTicks: 1},
		Store:     config.StoreConfig{Backend: backend},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{
		Fetcher: newSite(t),
		Sleeper: instantSleeper{},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunOnceArchivesSource(t *testing.T) {
	cfg := testConfig(t, config.BackendFS)
	a := newTestApp(t, cfg)

	report, err := a.RunOnce(context.Background(), sourceURL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived())
	assert.False(t, report.AllFailed())

	entries, err := archive.Scan(cfg.Paths.SaveRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0001_0", entries[0].ChapterKey)
	assert.Equal(t, 2, entries[0].Pages, "undersized banner is filtered out")
}

func TestRunOnceSkipsRecordedChaptersWithSQLiteLedger(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	first, err := a.RunOnce(ctx, sourceURL, false)
	require.NoError(t, err)
	require.Equal(t, 1, first.Archived())

	second, err := a.RunOnce(ctx, sourceURL, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Archived())
	require.Len(t, second.Sources, 1)
	assert.Equal(t, 1, second.Sources[0].Result.Skipped)
}

func TestListRecordsReadsLedger(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	_, err := a.RunOnce(ctx, sourceURL, false)
	require.NoError(t, err)

	recs, ok, err := ListRecords(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.Equal(t, "0001_0", recs[0].ChapterKey)
	assert.Equal(t, sourceURL, recs[0].SourceURL)
	assert.NotEmpty(t, recs[0].Digest)
}

func TestListRecordsWithoutLedger(t *testing.T) {
	recs, ok, err := ListRecords(context.Background(), testConfig(t, config.BackendFS), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, recs)
}

func TestRunOnceUsesURLList(t *testing.T) {
	cfg := testConfig(t, config.BackendFS)
	require.NoError(t, os.WriteFile(cfg.Paths.URLListFile, []byte("# shelf\n"+sourceURL+"\n"), 0o600))
	a := newTestApp(t, cfg)

	report, err := a.RunOnce(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived())
}

func TestRunOnceMissingURLList(t *testing.T) {
	a := newTestApp(t, testConfig(t, config.BackendFS))

	_, err := a.RunOnce(context.Background(), "", false)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckPathsCreatesSaveRoot(t *testing.T) {
	cfg := testConfig(t, config.BackendFS)

	require.NoError(t, CheckPaths(cfg, zap.NewNop()))

	info, err := os.Stat(cfg.Paths.SaveRoot)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "s3")

	_, _, err := newStore(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a := newTestApp(t, testConfig(t, config.BackendSQLite))
	a.Close()
	a.Close()
}
