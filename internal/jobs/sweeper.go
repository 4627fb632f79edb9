package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/reconcile"
	"go.uber.org/zap"
)

// Reconciler is the housekeeping surface of the reconciliation machine
type Reconciler interface {
	Devices(ctx context.Context) ([]string, error)
	Recover(ctx context.Context, deviceID string) (reconcile.RecoverAction, error)
}

// SweepReport counts what one sweep did
type SweepReport struct {
	Checked int                             `json:"checked"`
	Actions map[reconcile.RecoverAction]int `json:"actions"`
	Errors  int                             `json:"errors"`
}

// Sweeper periodically expires stale pending transactions and resumes polling for
// records left behind by a previous process
type Sweeper struct {
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	scheduler  *gocron.Scheduler
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(reconciler Reconciler, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		reconciler: reconciler,
		interval:   interval,
		timeout:    interval,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the sweep; the first run happens immediately
func (s *Sweeper) Start() error {
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(s.interval).Do(s.tick); err != nil {
		return fmt.Errorf("failed to schedule pending transaction sweep: %w", err)
	}
	s.scheduler.StartAsync()
	logging.Info("pending transaction sweep scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
	logging.Info("pending transaction sweep stopped")
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.Run(ctx)
	if err != nil {
		logging.Error("pending transaction sweep failed", zap.Error(err))
		return
	}
	if report.Checked > 0 {
		logging.Info("pending transaction sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("expired", report.Actions[reconcile.RecoverExpired]),
			zap.Int("resumed", report.Actions[reconcile.RecoverResumed]),
			zap.Int("purged", report.Actions[reconcile.RecoverPurged]),
			zap.Int("failed", report.Actions[reconcile.RecoverFailed]),
			zap.Int("errors", report.Errors))
	}
}

// Run sweeps every device with a stored pending record once
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	devices, err := s.reconciler.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	report := &SweepReport{Actions: make(map[reconcile.RecoverAction]int)}
	for _, deviceID := range devices {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		action, err := s.reconciler.Recover(ctx, deviceID)
		if err != nil {
			report.Errors++
			logging.Warn("failed to sweep pending transaction", logging.Device(deviceID), zap.Error(err))
			continue
		}
		report.Actions[action]++
	}
	return report, nil
}
