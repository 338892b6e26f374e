// Package scheduler keeps the archive collection current: it sweeps the URL
// list, then waits for the list to change or for the sweep interval to pass,
// writing a heartbeat file while it waits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/batch"
	"github.com/JakeFAU/mangashelf/internal/manga"
	"github.com/JakeFAU/mangashelf/internal/metrics"
)

// Sweep triggers.
const (
	TriggerStartup = "startup"
	TriggerWake    = "wake"
	TriggerTimer   = "timer"
)

// Runner sweeps the URL list.
type Runner interface {
	RunFile(ctx context.Context, path string, fullReset bool) (batch.SweepReport, error)
}

// Config holds the scheduler paths and wait ceiling.
type Config struct {
	URLListFile   string
	HeartbeatFile string
	// LockFile guards against two schedulers sharing a save root. Empty
	// disables the guard.
	LockFile          string
	HeartbeatInterval time.Duration
	HeartbeatTicks    int
	// FullReset applies to the first sweep only.
	FullReset bool
}

// Scheduler is the self-service loop.
type Scheduler struct {
	cfg     Config
	runner  Runner
	watcher manga.FileWatcher
	clock   manga.Clock
	logger  *zap.Logger

	// wake holds at most one pending signal; extra signals collapse.
	wake chan struct{}
}

// New constructs a Scheduler.
func New(cfg Config, runner Runner, watcher manga.FileWatcher, clock manga.Clock, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil || watcher == nil || clock == nil {
		return nil, errors.New("scheduler requires runner, watcher, and clock")
	}
	if cfg.URLListFile == "" || cfg.HeartbeatFile == "" {
		return nil, errors.New("scheduler requires url list and heartbeat paths")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Minute
	}
	if cfg.HeartbeatTicks <= 0 {
		cfg.HeartbeatTicks = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		watcher: watcher,
		clock:   clock,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Run sweeps until ctx is canceled. The watcher is stopped and joined before
// Run returns. Cancellation is not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.LockFile != "" {
		lock := flock.New(s.cfg.LockFile)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another instance holds %s", s.cfg.LockFile)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				s.logger.Warn("failed to release lock", zap.Error(err))
			}
		}()
	}

	if err := s.watcher.Start(s.cfg.URLListFile, s.signalWake); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("failed to stop watcher", zap.Error(err))
		}
	}()

	s.refreshHeartbeat()
	s.logger.Info("self-service started",
		zap.String("url_list", s.cfg.URLListFile),
		zap.Duration("max_wait", s.cfg.HeartbeatInterval*time.Duration(s.cfg.HeartbeatTicks)),
	)

	trigger := TriggerStartup
	fullReset := s.cfg.FullReset
	for {
		s.drainWake()
		s.sweep(ctx, trigger, fullReset)
		fullReset = false
		s.refreshHeartbeat()

		next, err := s.waitForWake(ctx)
		if err != nil {
			s.logger.Info("self-service stopping")
			return nil
		}
		trigger = next
	}
}

func (s *Scheduler) sweep(ctx context.Context, trigger string, fullReset bool) {
	s.logger.Info("sweep triggered", zap.String("trigger", trigger))
	report, err := s.runner.RunFile(ctx, s.cfg.URLListFile, fullReset)
	if err != nil {
		s.logger.Warn("url list unavailable, nothing to sweep", zap.String("path", s.cfg.URLListFile), zap.Error(err))
		return
	}
	metrics.ObserveSweep(trigger, report.Duration(), report.Finished)
}

// signalWake is the watcher callback. It never blocks.
func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}

// waitForWake blocks until a wake signal, the last of HeartbeatTicks
// intervals, or cancellation. Intermediate ticks refresh the heartbeat.
func (s *Scheduler) waitForWake(ctx context.Context) (string, error) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.wake:
			s.logger.Info("wake signal received")
			return TriggerWake, nil
		case <-ticker.C:
			if tick >= s.cfg.HeartbeatTicks {
				return TriggerTimer, nil
			}
			s.refreshHeartbeat()
		}
	}
}

func (s *Scheduler) refreshHeartbeat() {
	if err := WriteHeartbeat(s.cfg.HeartbeatFile, s.clock.Now()); err != nil {
		s.logger.Warn("heartbeat write failed", zap.String("path", s.cfg.HeartbeatFile), zap.Error(err))
	}
}
