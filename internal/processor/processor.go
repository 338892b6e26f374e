// Package processor drives one source end to end: list its chapters,
// resolve metadata, then archive every chapter that is not on disk yet.
//
// Empty chapter fetches are treated as rate limiting. They are retried after
// a flat backoff with one retry budget shared by the whole source. Once the
// budget is spent the rest of the source is left for the next sweep, which
// resumes from whatever archives already exist.
package processor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/metrics"
	"github.com/JakeFAU/mangashelf/internal/telemetry"
)

// Source outcomes reported in Result.Status.
const (
	StatusCompleted   = "completed"
	StatusNoChapters  = "no_chapters"
	StatusUnhealthy   = "metadata_unhealthy"
	StatusAborted     = "aborted"
	StatusFailed      = "failed"
	StatusInvalidURL  = "invalid_url"
	StatusInterrupted = "interrupted"
)

// Catalog is the subset of the catalog client the processor needs.
type Catalog interface {
	ListChapters(ctx context.Context, sourceURL string) []manga.ChapterRef
	FetchMetadata(ctx context.Context, sourceURL string) manga.SourceMetadata
	FetchChapterImages(ctx context.Context, chapterURL string) []manga.CandidateImage
}

// Writer resolves archive paths and writes archives.
type Writer interface {
	Path(title, chapterKey string) string
	Write(ctx context.Context, meta manga.SourceMetadata, chapterKey string, images []manga.CandidateImage) (manga.ArchiveRecord, error)
}

// Config holds the retry budgets and fixed waits.
type Config struct {
	MaxRetries         int
	MetadataRetries    int
	MetadataRetryDelay time.Duration
	ListingDelay       time.Duration
	EmptyBackoff       time.Duration
	ChapterDelay       time.Duration
}

// DefaultConfig returns the production budgets and waits.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		MetadataRetries:    3,
		MetadataRetryDelay: 20 * time.Second,
		ListingDelay:       5 * time.Second,
		EmptyBackoff:       15 * time.Second,
		ChapterDelay:       15 * time.Second,
	}
}

// Result summarizes one Process call.
type Result struct {
	SourceURL string
	Title     string
	Status    string
	// SeriesStatus is the publication status scraped from the source page,
	// empty when metadata was never resolved.
	SeriesStatus string
	// Reason is the soft failure that ended processing early, if any.
	Reason   error
	Chapters int
	Archived int
	Skipped  int
	Retries  int
	Paths    []string
}

// Failed reports whether the source produced nothing usable this run.
func (r Result) Failed() bool {
	switch r.Status {
	case StatusCompleted, StatusAborted:
		return false
	default:
		return true
	}
}

// Processor runs the per-source state machine.
type Processor struct {
	catalog Catalog
	writer  Writer
	store   manga.ArchiveStore
	sleeper manga.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Processor. Non-positive budgets fall back to defaults.
func New(
	catalog Catalog,
	writer Writer,
	store manga.ArchiveStore,
	sleeper manga.Sleeper,
	cfg Config,
	logger *zap.Logger,
) (*Processor, error) {
	if catalog == nil || writer == nil || store == nil || sleeper == nil {
		return nil, errors.New("processor requires catalog, writer, store, and sleeper")
	}
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MetadataRetries <= 0 {
		cfg.MetadataRetries = def.MetadataRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		catalog: catalog,
		writer:  writer,
		store:   store,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Process archives every missing chapter of sourceURL. With fullReset every
// chapter is fetched again and its archive replaced.
//
// Soft outcomes (no chapters, unusable metadata, retries exhausted) are
// reported through Result with a nil error. The error is reserved for invalid
// input, archive or store I/O failures and cancellation.
func (p *Processor) Process(ctx context.Context, sourceURL string, fullReset bool) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "processor.Process", trace.WithAttributes(
		attribute.String("source_url", sourceURL),
		attribute.Bool("full_reset", fullReset),
	))
	res, err := p.process(ctx, sourceURL, fullReset)
	span.SetAttributes(
		attribute.String("status", res.Status),
		attribute.String("series_status", res.SeriesStatus),
		attribute.Int("archived", res.Archived),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("retries", res.Retries),
	)
	telemetry.End(span, err)
	return res, err
}

func (p *Processor) process(ctx context.Context, sourceURL string, fullReset bool) (Result, error) {
	res := Result{SourceURL: sourceURL, Status: StatusFailed}
	logger := p.logger.With(zap.String("source_url", sourceURL))

	if _, err := manga.ValidateURL(sourceURL); err != nil {
		res.Status = StatusInvalidURL
		return p.finish(res, err)
	}

	// ListingChapters
	chapters := p.catalog.ListChapters(ctx, sourceURL)
	if len(chapters) == 0 {
		logger.Warn("no chapters found")
		res.Status = StatusNoChapters
		res.Reason = manga.ErrNoChapters
		return p.finish(res, nil)
	}
	// Sites list newest first.
	chapters = slices.Clone(chapters)
	slices.Reverse(chapters)
	res.Chapters = len(chapters)
	logger.Info("chapters listed", zap.Int("chapters", len(chapters)))

	if err := p.sleeper.Sleep(ctx, p.cfg.ListingDelay, "before metadata"); err != nil {
		res.Status = StatusInterrupted
		return p.finish(res, err)
	}

	// ResolvingMetadata
	meta, err := p.resolveMetadata(ctx, sourceURL, logger)
	if err != nil {
		if errors.Is(err, manga.ErrMetadataUnhealthy) {
			res.Status = StatusUnhealthy
			res.Reason = err
			return p.finish(res, nil)
		}
		res.Status = StatusInterrupted
		return p.finish(res, err)
	}
	res.Title = meta.Title
	res.SeriesStatus = meta.Status
	if !meta.Ongoing() {
		logger.Info("series is not listed as ongoing", zap.String("series_status", meta.Status))
	}

	// ProcessingChapters
	return p.processChapters(ctx, res, meta, chapters, fullReset, logger)
}

func (p *Processor) resolveMetadata(ctx context.Context, sourceURL string, logger *zap.Logger) (manga.SourceMetadata, error) {
	var meta manga.SourceMetadata
	for attempt := 1; attempt <= p.cfg.MetadataRetries; attempt++ {
		meta = p.catalog.FetchMetadata(ctx, sourceURL)
		if meta.Healthy() {
			logger.Info("metadata resolved",
				zap.String("title", meta.Title),
				zap.String("status", meta.Status),
				zap.Int("attempt", attempt),
			)
			return meta, nil
		}
		logger.Warn("metadata healthcheck failed", zap.Int("attempt", attempt), zap.Int("max_attempts", p.cfg.MetadataRetries))
		if attempt == p.cfg.MetadataRetries {
			break
		}
		if err := p.sleeper.Sleep(ctx, p.cfg.MetadataRetryDelay, "metadata retry"); err != nil {
			return meta, err
		}
	}
	return meta, fmt.Errorf("%w after %d attempts", manga.ErrMetadataUnhealthy, p.cfg.MetadataRetries)
}

func (p *Processor) processChapters(
	ctx context.Context,
	res Result,
	meta manga.SourceMetadata,
	chapters []manga.ChapterRef,
	fullReset bool,
	logger *zap.Logger,
) (Result, error) {
	// One budget for the whole source; any success refills it.
	retries := 0
	for i := 0; i < len(chapters); {
		if err := ctx.Err(); err != nil {
			res.Status = StatusInterrupted
			return p.finish(res, err)
		}
		ch := chapters[i]
		target := p.writer.Path(meta.Title, ch.Key)
		chLogger := logger.With(zap.String("chapter_key", ch.Key))

		if !fullReset {
			exists, err := p.store.Exists(ctx, target)
			if err != nil {
				return p.finish(res, fmt.Errorf("check archive %s: %w", target, err))
			}
			if exists {
				chLogger.Debug("archive exists, skipping", zap.String("path", target))
				metrics.ObserveChapter(res.SourceURL, metrics.OutcomeSkipped, 0, 0)
				res.Skipped++
				i++
				continue
			}
		}

		chLogger.Info("fetching chapter", zap.String("chapter_url", ch.URL), zap.Int("attempt", retries+1))
		images := p.catalog.FetchChapterImages(ctx, ch.URL)
		if len(images) == 0 {
			chLogger.Warn("chapter returned no images, backing off", zap.Int("retries", retries))
			if err := p.sleeper.Sleep(ctx, p.cfg.EmptyBackoff, "empty chapter backoff"); err != nil {
				res.Status = StatusInterrupted
				return p.finish(res, err)
			}
			retries++
			res.Retries++
			metrics.ObserveChapterRetry(res.SourceURL)
			if retries >= p.cfg.MaxRetries {
				chLogger.Warn("chapter returned no images, giving up on source",
					zap.Int("retries", retries),
					zap.Int("remaining_chapters", len(chapters)-i),
				)
				metrics.ObserveChapter(res.SourceURL, metrics.OutcomeFailed, 0, 0)
				res.Status = StatusAborted
				res.Reason = fmt.Errorf("%w: chapter %s", manga.ErrChapterRetriesExhausted, ch.Key)
				return p.finish(res, nil)
			}
			continue
		}

		rec, err := p.writer.Write(ctx, meta, ch.Key, images)
		if err != nil {
			return p.finish(res, fmt.Errorf("write chapter %s: %w", ch.Key, err))
		}
		if err := p.store.Record(ctx, rec); err != nil {
			return p.finish(res, fmt.Errorf("record chapter %s: %w", ch.Key, err))
		}
		metrics.ObserveChapter(res.SourceURL, metrics.OutcomeArchived, rec.Pages, rec.Bytes)
		res.Archived++
		res.Paths = append(res.Paths, rec.Path)
		retries = 0
		i++

		if i < len(chapters) {
			if err := p.sleeper.Sleep(ctx, p.cfg.ChapterDelay, "between chapters"); err != nil {
				res.Status = StatusInterrupted
				return p.finish(res, err)
			}
		}
	}

	res.Status = StatusCompleted
	return p.finish(res, nil)
}

func (p *Processor) finish(res Result, err error) (Result, error) {
	metrics.ObserveSource(res.Status)
	fields := []zap.Field{
		zap.String("source_url", res.SourceURL),
		zap.String("status", res.Status),
		zap.Int("archived", res.Archived),
		zap.Int("skipped", res.Skipped),
		zap.Int("retries", res.Retries),
	}
	switch {
	case err != nil:
		p.logger.Error("source failed", append(fields, zap.Error(err))...)
	case res.Reason != nil:
		p.logger.Warn("source ended early", append(fields, zap.Error(res.Reason))...)
	default:
		p.logger.Info("source done", fields...)
	}
	return res, err
}
