// Package pause implements the fixed waits between page loads. On a terminal
// the wait is shown as a countdown bar; otherwise it is logged once.
package pause

import (
	"context"
	"io"
	"math"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

// New picks a Bar when out is a terminal and a Timer otherwise.
func New(out *os.File, logger *zap.Logger) manga.Sleeper {
	if out != nil && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())) {
		return NewBar(out)
	}
	return NewTimer(logger)
}

// Timer waits silently apart from one log line.
type Timer struct {
	logger *zap.Logger
}

// NewTimer returns a Timer.
func NewTimer(logger *zap.Logger) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger}
}

// Sleep blocks for d or until ctx is done.
func (t *Timer) Sleep(ctx context.Context, d time.Duration, reason string) error {
	if d <= 0 {
		return ctx.Err()
	}
	t.logger.Info("waiting", zap.String("reason", reason), zap.Duration("duration", d))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Bar renders a per-second countdown.
type Bar struct {
	out io.Writer
}

// NewBar returns a Bar writing to out.
func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

// Sleep blocks for d or until ctx is done, advancing the bar every second.
func (b *Bar) Sleep(ctx context.Context, d time.Duration, reason string) error {
	if d <= 0 {
		return ctx.Err()
	}
	seconds := int(math.Ceil(d.Seconds()))
	bar := progressbar.NewOptions(seconds,
		progressbar.OptionSetWriter(b.out),
		progressbar.OptionSetDescription(reason),
		progressbar.OptionSetItsString("s"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = bar.Exit()
			return ctx.Err()
		case <-deadline.C:
			_ = bar.Finish()
			return nil
		case <-tick.C:
			_ = bar.Add(1)
		}
	}
}
