package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Refresher resolves and records the freshest model runs.
type Refresher interface {
	RefreshRuns(ctx context.Context) error
}

// RunWatcher periodically refreshes the latest run of every product.
// It never takes part in serving forecast requests.
type RunWatcher struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a RunWatcher. An interval <= 0 disables it.
func New(interval time.Duration, refresher Refresher, logger *zap.Logger) *RunWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunWatcher{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		timeout:   2 * time.Minute,
		logger:    logger.With(zap.String("component", "run-watcher")),
	}
}

// Start schedules the refresh job, runs it once immediately and starts the
// underlying scheduler.
func (w *RunWatcher) Start() error {
	if w.interval <= 0 {
		w.logger.Info("run watcher disabled")
		return nil
	}

	minutes := int(w.interval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}

	_, err := w.scheduler.Every(minutes).Minutes().Do(w.refresh)
	if err != nil {
		return err
	}

	w.scheduler.StartAsync()
	w.logger.Info("run watcher started", zap.Int("every_minutes", minutes))
	return nil
}

func (w *RunWatcher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	if err := w.refresher.RefreshRuns(ctx); err != nil {
		w.logger.Warn("run refresh incomplete", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	w.logger.Debug("run refresh completed", zap.Duration("took", time.Since(start)))
}

// Stop stops the scheduler and cancels any future jobs.
func (w *RunWatcher) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
