// Package watcher reports changes to a single file using fsnotify.
package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const triggerOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename

// Watcher implements manga.FileWatcher. The parent directory is watched so
// the file may be created, replaced or renamed into place.
type Watcher struct {
	logger *zap.Logger

	mu   sync.Mutex
	fs   *fsnotify.Watcher
	done chan struct{}
}

// New returns an idle Watcher.
func New(logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{logger: logger}
}

// Start begins watching path and calls onChange from a background goroutine
// for every create, write or rename affecting it. onChange must not block.
func (w *Watcher) Start(path string, onChange func()) error {
	if onChange == nil {
		return errors.New("watcher callback is required")
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watched path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs != nil {
		return errors.New("watcher already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	w.fs = fw
	w.done = make(chan struct{})
	go w.loop(fw, target, onChange, w.done)
	w.logger.Info("watching url list", zap.String("path", target))
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, target string, onChange func(), done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(triggerOps) {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			w.logger.Info("url list changed", zap.String("path", target), zap.String("op", ev.Op.String()))
			onChange()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit. It is safe to
// call on a watcher that was never started.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, done := w.fs, w.done
	w.fs, w.done = nil, nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	err := fw.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	return nil
}
