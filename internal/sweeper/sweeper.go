// Package sweeper removes upload files left behind by crashed or killed
// ingest calls.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/tile-allocator/internal/ingest"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Config struct {
	Dir      string
	MaxAge   time.Duration
	Schedule string
	Logger   *slog.Logger
}

// Sweeper deletes upload files older than MaxAge from Dir on a cron schedule.
// Only names produced by ingest.NewUploadPath are touched.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func New(cfg *Config) (*Sweeper, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("sweeper max age must be positive, got %s", cfg.MaxAge)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "sweeper"))

	s := &Sweeper{
		dir:    cfg.Dir,
		maxAge: cfg.MaxAge,
		logger: logger,
		now:    time.Now,
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}

	return s, nil
}

// Start runs the schedule in the background
func (s *Sweeper) Start() {
	s.logger.Info("Upload sweeper started",
		slog.String("dir", s.dir),
		slog.Duration("max_age", s.maxAge),
	)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, up to ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	removed, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error("Upload sweep failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("Upload sweep removed stale files", slog.Int("removed", removed))
	}
}

// Sweep removes stale upload files once and returns how many it deleted
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read upload dir: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() || !ingest.IsUploadFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed concurrently, most likely by its ingest call
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove stale upload",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}
		removed++
	}

	return removed, nil
}

// cronLogger routes cron's key/value logging through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
