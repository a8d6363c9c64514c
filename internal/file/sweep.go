package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweep removes regular files in dir (not recursive) last modified before
// now-maxAge. It returns how many files were removed.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read dir: %w", err)
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("sweep: remove failed")
			continue
		}
		removed++
	}
	return removed, nil
}

// StartSweeper sweeps dirs every interval until ctx is done.
func StartSweeper(ctx context.Context, interval, maxAge time.Duration, dirs ...string) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				SweepAll(maxAge, dirs...)
			}
		}
	}()
}

// SweepAll runs Sweep over every dir and logs the totals.
func SweepAll(maxAge time.Duration, dirs ...string) {
	now := time.Now()
	for _, dir := range dirs {
		n, err := Sweep(dir, maxAge, now)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("sweep failed")
			continue
		}
		if n > 0 {
			log.Info().Str("dir", dir).Int("removed", n).Msg("stale files removed")
		}
	}
}
