package jobs

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSweepTimeout bounds one expiry sweep run
const DefaultSweepTimeout = 2 * time.Minute

// Sweeper deactivates lapsed subscriptions
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	logger   logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(sweeper Sweeper, schedule string, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Default()
	}

	return &CronManager{
		cron:     cron.New(),
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  DefaultSweepTimeout,
		logger:   log.With("component", "cron"),
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	if _, err := cm.cron.AddFunc(cm.schedule, cm.runExpirySweep); err != nil {
		return err
	}

	cm.logger.Info("cron jobs configured", "expiry_sweep", cm.schedule)
	return nil
}

// runExpirySweep deactivates lapsed daily and cancelled monthly plans
func (cm *CronManager) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
	defer cancel()

	start := time.Now()
	swept, err := cm.sweeper.SweepAll(ctx)
	if err != nil {
		cm.logger.Error("expiry sweep finished with errors", "swept", swept, "error", err)
		sentry.CaptureException(err)
		return
	}

	cm.logger.Info("expiry sweep completed", "swept", swept, "duration", time.Since(start).String())
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the cron scheduler and waits for running jobs
func (cm *CronManager) Stop() {
	cm.logger.Info("stopping cron scheduler")
	<-cm.cron.Stop().Done()
}
