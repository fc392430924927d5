package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/plangate/internal/metrics"
	"github.com/robfig/cron/v3"
)

// SweeperConfig controls the stale-period sweeper.
type SweeperConfig struct {
	// Schedule is a standard five-field cron spec, e.g. "15 3 * * *".
	Schedule string

	// RetainPeriods is how many past billing periods to keep.
	RetainPeriods int

	// Timeout bounds a single sweep.
	Timeout time.Duration
}

// Sweeper periodically deletes usage records for old billing periods.
type Sweeper struct {
	ledger *Ledger
	cfg    SweeperConfig
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates a Sweeper. It does nothing until Start is called.
func NewSweeper(l *Ledger, cfg SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	s := &Sweeper{
		ledger: l,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithLocation(time.UTC)),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins running sweeps on the schedule.
func (s *Sweeper) Start() {
	s.logger.Info("usage sweeper started", "schedule", s.cfg.Schedule, "retain_periods", s.cfg.RetainPeriods)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep runs one purge immediately.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.ledger.PurgeStale(ctx, s.cfg.RetainPeriods)
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.Sweep(ctx)
	if err != nil {
		metrics.SweepFailed()
		s.logger.Error("usage sweep failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	metrics.SweepCompleted(n, elapsed)
	s.logger.Info("usage sweep complete", "removed", n, "duration_ms", elapsed.Milliseconds())
}
