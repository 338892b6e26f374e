package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteHeartbeat replaces the heartbeat file with at, in RFC 3339 UTC.
func WriteHeartbeat(path string, at time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".heartbeat-*")
	if err != nil {
		return fmt.Errorf("create heartbeat temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(at.UTC().Format(time.RFC3339) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write heartbeat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close heartbeat temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat returns the timestamp stored in the heartbeat file.
func ReadHeartbeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- configured heartbeat path
	if err != nil {
		return time.Time{}, fmt.Errorf("read heartbeat: %w", err)
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat: %w", err)
	}
	return at, nil
}
