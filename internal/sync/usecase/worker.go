package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// CycleRunner runs one sync cycle.
type CycleRunner interface {
	Name() string
	RunCycle(ctx context.Context) (*syncDomain.CycleResult, error)
}

// Worker runs a domain's cycles on a ticker and on demand. Ticks that arrive during a
// cycle are dropped and concurrent triggers collapse into one.
type Worker struct {
	runner   CycleRunner
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewWorker creates a new Worker
func NewWorker(runner CycleRunner, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(slog.String("domain", runner.Name())),
	}
}

// Name returns the domain the worker serves.
func (w *Worker) Name() string {
	return w.runner.Name()
}

// Trigger requests a cycle without blocking.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Notify implements live.Notifier.
func (w *Worker) Notify() {
	w.Trigger()
}

// Run cycles once immediately, then on every tick or trigger until ctx is done. A cycle
// already running when ctx is cancelled completes; ctx is checked only between cycles.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("sync worker started", slog.Duration("interval", w.interval))
	defer w.logger.Info("sync worker stopped")

	w.runOnce(ctx)

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.runOnce(ctx)
		case <-w.trigger:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	// An accepted push must reach MarkSynced and Ack, so cancellation stops at the cycle
	// boundary. The manager's cycle timeout still bounds the run.
	// Failures are logged by the runner; the worker keeps its schedule either way.
	if _, err := w.runner.RunCycle(context.WithoutCancel(ctx)); errors.Is(err, syncDomain.ErrCycleInProgress) {
		w.logger.Debug("sync cycle already running")
	}
}
