// Package app builds and holds the long-lived services of the archiver,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/api"
	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/batch"
	"github.com/JakeFAU/mangashelf/internal/catalog"
	"github.com/JakeFAU/mangashelf/internal/clock/system"
	"github.com/JakeFAU/mangashelf/internal/codec/stdimage"
	"github.com/JakeFAU/mangashelf/internal/config"
	collyfetcher "github.com/JakeFAU/mangashelf/internal/fetcher/colly"
	"github.com/JakeFAU/mangashelf/internal/fetcher/headless"
	"github.com/JakeFAU/mangashelf/internal/hash/sha256"
	"github.com/JakeFAU/mangashelf/internal/id/uuid"
	"github.com/JakeFAU/mangashelf/internal/imagefilter"
	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/metrics"
	"github.com/JakeFAU/mangashelf/internal/pause"
	"github.com/JakeFAU/mangashelf/internal/policy/ratelimit"
	"github.com/JakeFAU/mangashelf/internal/processor"
	"github.com/JakeFAU/mangashelf/internal/scheduler"
	"github.com/JakeFAU/mangashelf/internal/storage/postgres"
	"github.com/JakeFAU/mangashelf/internal/storage/sqlite"
	"github.com/JakeFAU/mangashelf/internal/telemetry"
	"github.com/JakeFAU/mangashelf/internal/watcher"
)

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  manga.Clock
	runner *batch.Runner

	closeOnce sync.Once
	closers   []func() error
}

// Options override the pieces tests need to replace.
type Options struct {
	// Fetcher replaces the chromedp page fetcher.
	Fetcher manga.PageFetcher
	// Sleeper replaces the terminal-aware pause.
	Sleeper manga.Sleeper
}

// New checks paths and wires every component from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	if err := CheckPaths(cfg, logger); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	shutdownTracing, err := telemetry.Setup(ctx, "mangashelf", telemetry.Config{
		Enabled: cfg.Tracing.Enabled,
		File:    cfg.Tracing.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return shutdownTracing(context.Background())
	})

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	pages := opts.Fetcher
	if pages == nil {
		direct := collyfetcher.New(collyfetcher.Config{
			UserAgent:   firstNonEmpty(cfg.Download.UserAgent, cfg.Browser.UserAgent),
			Timeout:     cfg.Download.Timeout,
			MaxBodySize: cfg.Download.MaxBodyBytes,
		})
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Browser.HostQPS,
			DefaultBurst: cfg.Browser.HostBurst,
		})
		browser, browserErr := headless.NewChromedp(headless.Config{
			UserAgent:          cfg.Browser.UserAgent,
			Headless:           cfg.Browser.Headless,
			ExecPath:           cfg.Browser.ExecPath,
			NavigationTimeout:  cfg.Browser.NavTimeout,
			NetworkIdleTimeout: cfg.Browser.NetworkIdleTimeout,
			NetworkIdleQuiet:   cfg.Browser.NetworkIdleQuiet,
			ScrollStep:         cfg.Browser.ScrollStep,
			ScrollInterval:     cfg.Browser.ScrollInterval,
		}, direct, limiter, logger.Named("browser"))
		if browserErr != nil {
			a.Close()
			return nil, fmt.Errorf("init browser: %w", browserErr)
		}
		a.closers = append(a.closers, func() error {
			browser.Close()
			return nil
		})
		pages = browser
	}

	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = pause.New(os.Stderr, logger)
	}

	codec := stdimage.New(stdimage.DefaultQuality)
	client := catalog.New(
		pages,
		codec,
		imagefilter.New(cfg.Filter.MinWidth, cfg.Filter.MinHeight),
		catalog.Config{
			SourceTimeout: cfg.Browser.SourceTimeout,
			ReaderTimeout: cfg.Browser.ContentTimeout,
		},
		logger.Named("catalog"),
	)
	writer, err := archive.NewWriter(cfg.Paths.SaveRoot, codec, sha256.New(), a.clock, logger.Named("archive"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init archive writer: %w", err)
	}
	proc, err := processor.New(client, writer, store, sleeper, processor.Config{
		MaxRetries:         cfg.Processor.MaxRetries,
		MetadataRetries:    cfg.Processor.MetadataRetries,
		MetadataRetryDelay: cfg.Processor.MetadataRetryDelay,
		ListingDelay:       cfg.Processor.ListingDelay,
		EmptyBackoff:       cfg.Processor.EmptyBackoff,
		ChapterDelay:       cfg.Processor.ChapterDelay,
	}, logger.Named("processor"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init processor: %w", err)
	}
	runner, err := batch.NewRunner(proc, uuid.NewUUIDGenerator(), a.clock, logger.Named("batch"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init batch runner: %w", err)
	}
	a.runner = runner
	return a, nil
}

// RunOnce archives sourceURL, or every source in the URL list when
// sourceURL is empty.
func (a *App) RunOnce(ctx context.Context, sourceURL string, fullReset bool) (batch.SweepReport, error) {
	if sourceURL != "" {
		return a.runner.RunAll(ctx, []string{sourceURL}, fullReset), nil
	}
	report, err := a.runner.RunFile(ctx, a.cfg.Paths.URLListFile, fullReset)
	if err != nil {
		return report, fmt.Errorf("run url list: %w", err)
	}
	return report, nil
}

// RunSelfService sweeps the URL list until ctx is cancelled, serving the ops
// endpoints when server.addr is set.
func (a *App) RunSelfService(ctx context.Context, fullReset bool) error {
	w := watcher.New(a.logger.Named("watcher"))
	sched, err := scheduler.New(scheduler.Config{
		URLListFile:       a.cfg.Paths.URLListFile,
		HeartbeatFile:     a.cfg.Paths.HeartbeatFile,
		LockFile:          a.cfg.Paths.LockFile,
		HeartbeatInterval: a.cfg.Scheduler.HeartbeatInterval,
		HeartbeatTicks:    a.cfg.Scheduler.HeartbeatTicks,
		FullReset:         fullReset,
	}, a.runner, w, a.clock, a.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	var wg sync.WaitGroup
	if a.cfg.Server.Addr != "" {
		srv := api.NewServer(api.HealthConfig{
			HeartbeatFile: a.cfg.Paths.HeartbeatFile,
			// One missed heartbeat is tolerated.
			StaleAfter: 2 * a.cfg.Scheduler.HeartbeatInterval,
		}, a.clock, a.logger.Named("api"))
		serverCtx, stopServer := context.WithCancel(ctx)
		defer func() {
			stopServer()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serverCtx, a.cfg.Server.Addr); err != nil {
				a.logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("self-service: %w", err)
	}
	return nil
}

// Close shuts down the browser and the store. It is safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("close failed", zap.Error(err))
			}
		}
		_ = a.logger.Sync()
	})
}

// CheckPaths creates the save root. A missing URL list is only a warning
// since self-service mode waits for it to appear.
func CheckPaths(cfg config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Paths.SaveRoot, 0o750); err != nil {
		return fmt.Errorf("create save root %s: %w", cfg.Paths.SaveRoot, err)
	}
	if _, err := os.Stat(cfg.Paths.URLListFile); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("url list file not found", zap.String("path", cfg.Paths.URLListFile))
	}
	return nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (manga.ArchiveStore, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		ledger, err := sqlite.Open(ctx, cfg.Paths.LedgerDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Info("using sqlite archive ledger", zap.String("path", filepath.Clean(cfg.Paths.LedgerDB)))
		return ledger, ledger.Close, nil
	case config.BackendPostgres:
		ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{
			DSN:   cfg.Store.DSN,
			Table: cfg.Store.Table,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		logger.Info("using postgres archive ledger", zap.String("table", cfg.Store.Table))
		return ledger, func() error {
			ledger.Close()
			return nil
		}, nil
	case config.BackendFS, "":
		return archive.NewFileStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

type recordLister interface {
	List(ctx context.Context) ([]manga.ArchiveRecord, error)
}

// ListRecords returns the rows of the configured archive ledger. ok is false
// for the fs backend, which keeps no ledger.
func ListRecords(ctx context.Context, cfg config.Config, logger *zap.Logger) (recs []manga.ArchiveRecord, ok bool, err error) {
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, false, err
	}
	if closeStore != nil {
		defer func() {
			if cerr := closeStore(); cerr != nil {
				logger.Warn("failed to close archive store", zap.Error(cerr))
			}
		}()
	}
	lister, ok := store.(recordLister)
	if !ok {
		return nil, false, nil
	}
	recs, err = lister.List(ctx)
	if err != nil {
		return nil, true, err
	}
	return recs, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
