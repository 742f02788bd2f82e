// Package sweeper periodically deletes tokens that expired long enough ago.
package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
)

const (
	defaultInterval  = time.Hour
	defaultBatchSize = 1000
)

type cleaner interface {
	Cleanup(ctx context.Context, caller models.Caller, req gateway.CleanupRequest) (models.CleanupReport, error)
}

type Config struct {
	Interval      time.Duration // Default 1h
	RetentionDays int           // Keep tokens that expired less than this many days ago
	BatchSize     int           // Default 1000
}

type Sweeper struct {
	interval      time.Duration
	retentionDays int
	batchSize     int

	cleaner cleaner
	logger  logger.Logger
}

func New(cfg Config, c cleaner, l logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Sweeper{
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		batchSize:     cfg.BatchSize,
		cleaner:       c,
		logger:        l,
	}
}

// Run sweeps every interval until ctx is done
// Returned channel is closed when the loop stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "retention_days", s.retentionDays, "batch_size", s.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				// Errors are logged by RunOnce, next tick tries again
				_, _ = s.RunOnce(ctx)
			}
		}
	}()

	return idleStopped
}

// RunOnce deletes expired tokens immediately on behalf of the system
func (s *Sweeper) RunOnce(ctx context.Context) (models.CleanupReport, error) {
	report, err := s.cleaner.Cleanup(ctx, models.SystemCaller, gateway.CleanupRequest{
		OlderThanDays: s.retentionDays,
		BatchSize:     s.batchSize,
	})
	if err != nil {
		s.logger.Error("Sweep failed", "error", err, "deleted", report.Deleted)
		return report, err
	}

	s.logger.Info("Sweep finished", "deleted", report.Deleted, "used", report.Used, "unused", report.Unused, "batches", report.Batches)
	return report, nil
}
