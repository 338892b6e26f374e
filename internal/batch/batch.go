// Package batch runs the processor over every source in a URL list, one
// source at a time.
package batch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/processor"
	"github.com/JakeFAU/mangashelf/internal/telemetry"
)

// Processor handles a single source.
type Processor interface {
	Process(ctx context.Context, sourceURL string, fullReset bool) (processor.Result, error)
}

// SourceOutcome pairs a processor result with its hard error, if any.
type SourceOutcome struct {
	Result processor.Result
	Err    error
}

// Failed reports whether the source produced nothing usable.
func (o SourceOutcome) Failed() bool {
	return o.Err != nil || o.Result.Failed()
}

// SweepReport summarizes one pass over the URL list.
type SweepReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Sources  []SourceOutcome
}

// Duration returns how long the sweep took.
func (r SweepReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Archived counts chapters written during the sweep.
func (r SweepReport) Archived() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Result.Archived
	}
	return n
}

// Failures counts failed sources.
func (r SweepReport) Failures() int {
	n := 0
	for _, s := range r.Sources {
		if s.Failed() {
			n++
		}
	}
	return n
}

// AllFailed reports whether the sweep had sources and every one failed.
func (r SweepReport) AllFailed() bool {
	return len(r.Sources) > 0 && r.Failures() == len(r.Sources)
}

// Runner sequences sources through a Processor.
type Runner struct {
	proc   Processor
	ids    manga.IDGenerator
	clock  manga.Clock
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(proc Processor, ids manga.IDGenerator, clock manga.Clock, logger *zap.Logger) (*Runner, error) {
	if proc == nil || ids == nil || clock == nil {
		return nil, errors.New("batch runner requires processor, id generator, and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{proc: proc, ids: ids, clock: clock, logger: logger}, nil
}

// RunFile loads the URL list at path and runs every source in it.
func (r *Runner) RunFile(ctx context.Context, path string, fullReset bool) (SweepReport, error) {
	urls, err := LoadURLs(path, r.logger)
	if err != nil {
		return SweepReport{}, err
	}
	return r.RunAll(ctx, urls, fullReset), nil
}

// RunAll dedupes and validates urls, then processes each remaining source in
// order. Per-source errors are recorded in the report; the sweep continues.
// Cancellation stops the sweep after the current source.
func (r *Runner) RunAll(ctx context.Context, urls []string, fullReset bool) SweepReport {
	runID, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("run id unavailable", zap.Error(err))
	}
	report := SweepReport{RunID: runID, Started: r.clock.Now()}
	logger := r.logger.With(zap.String("run_id", runID))

	sources := cleanURLs(urls, logger)
	ctx, span := telemetry.Tracer().Start(ctx, "batch.RunAll", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("sources", len(sources)),
	))
	defer span.End()
	logger.Info("sweep started", zap.Int("sources", len(sources)), zap.Bool("full_reset", fullReset))

	for i, sourceURL := range sources {
		if ctx.Err() != nil {
			logger.Warn("sweep interrupted", zap.Int("remaining", len(sources)-i))
			break
		}
		logger.Info("processing source",
			zap.String("source_url", sourceURL),
			zap.Int("index", i+1),
			zap.Int("total", len(sources)),
		)
		res, err := r.proc.Process(ctx, sourceURL, fullReset)
		if err != nil {
			logger.Error("source failed", zap.String("source_url", sourceURL), zap.Error(err))
		}
		report.Sources = append(report.Sources, SourceOutcome{Result: res, Err: err})
	}

	report.Finished = r.clock.Now()
	span.SetAttributes(
		attribute.Int("archived", report.Archived()),
		attribute.Int("failed", report.Failures()),
	)
	logger.Info("sweep finished",
		zap.Int("sources", len(report.Sources)),
		zap.Int("archived", report.Archived()),
		zap.Int("failed", report.Failures()),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

// LoadURLs reads one URL per line. Blank lines and lines starting with '#'
// are ignored, duplicates are dropped keeping first occurrence, and
// malformed URLs are skipped with a warning.
func LoadURLs(path string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path) // #nosec G304 -- operator-supplied list path
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("close url list", zap.Error(cerr))
		}
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return cleanURLs(lines, logger), nil
}

func cleanURLs(urls []string, logger *zap.Logger) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if _, err := manga.ValidateURL(u); err != nil {
			logger.Warn("invalid url in list, skipping", zap.String("url", u), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out
}
