package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// recording files older than maxDays from dir. If maxDays is 0 or negative
// no cleanup is performed. The goroutine stops when the provided context
// is cancelled.
func StartCleanupTicker(ctx context.Context, dir string, maxDays int, interval time.Duration) {
	if maxDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := removeOlderThan(dir, time.Now().AddDate(0, 0, -maxDays))
				if err != nil {
					slog.Error("recording retention cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("recording retention cleanup", "removed", removed, "max_days", maxDays)
				}
			}
		}
	}()
}

// removeOlderThan deletes .wav and .webm files in dir modified before
// cutoff and returns how many were removed.
func removeOlderThan(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".wav", ".webm":
		default:
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove expired recording", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
