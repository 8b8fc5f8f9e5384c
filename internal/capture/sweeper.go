package capture

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweeper deletes captures older than the retention window.
type Sweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewSweeper returns a sweeper for dir. A zero retention disables deletion.
func NewSweeper(dir string, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.Named("capture_sweeper"),
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.retention <= 0 {
		s.logger.Info("capture retention disabled, captures are kept")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(); err != nil {
			s.logger.Warn("capture sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep removes expired captures and returns how many were deleted.
func (s *Sweeper) Sweep() (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileExt))
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove capture", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired captures removed", zap.Int("count", removed))
	}
	return removed, nil
}
