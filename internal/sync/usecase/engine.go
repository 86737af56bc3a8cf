package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/allisson/offline-sync/internal/adapter"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/live"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// channelDisabled is reported as the channel state of domains without a live channel.
const channelDisabled = "disabled"

var (
	// ErrEngineRunning is returned by Start on an engine that is already running.
	ErrEngineRunning = errors.New("sync engine already running")
	// ErrStopTimeout is returned by Stop when goroutines outlive the timeout.
	ErrStopTimeout = errors.New("sync engine stop timed out")
)

// DomainManager is the per-domain surface the engine drives.
type DomainManager interface {
	CycleRunner
	Prepare(ctx context.Context) error
	Status(ctx context.Context) (*syncDomain.DomainStatus, error)
	RetryFailed(ctx context.Context) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]*outboxDomain.QueueItem, error)
}

// LiveChannel is a push connection that nudges a worker.
type LiveChannel interface {
	Name() string
	State() live.State
	Run(ctx context.Context) error
}

// EngineDomain bundles what the engine runs for one domain. Channel may be nil.
type EngineDomain struct {
	Manager DomainManager
	Worker  *Worker
	Channel LiveChannel
}

// Engine owns the workers and live channels of every enabled domain.
type Engine struct {
	order   []string
	domains map[string]EngineDomain
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running map[string]struct{}
	reauth  map[string]bool
}

// NewEngine creates a new Engine
func NewEngine(domains []EngineDomain, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		domains: make(map[string]EngineDomain, len(domains)),
		logger:  logger,
		running: make(map[string]struct{}),
		reauth:  make(map[string]bool),
	}
	for _, d := range domains {
		name := d.Manager.Name()
		e.order = append(e.order, name)
		e.domains[name] = d
	}
	return e
}

// Domains returns the engine's domain names in registration order.
func (e *Engine) Domains() []string {
	return append([]string(nil), e.order...)
}

func (e *Engine) get(domainName string) (EngineDomain, error) {
	d, ok := e.domains[domainName]
	if !ok {
		return EngineDomain{}, apperrors.Wrapf(adapter.ErrUnknownDomain, "%s", domainName)
	}
	return d, nil
}

// Prepare ensures every domain table exists and releases items left in flight.
func (e *Engine) Prepare(ctx context.Context) error {
	for _, name := range e.order {
		if err := e.domains[name].Manager.Prepare(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Start prepares every domain and launches its worker and channel. The goroutines run
// until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrEngineRunning
	}
	if err := e.Prepare(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, name := range e.order {
		d := e.domains[name]
		e.launch(&wg, "worker:"+name, func() { d.Worker.Run(runCtx) })
		if d.Channel != nil {
			e.launch(&wg, "channel:"+name, func() { e.runChannel(runCtx, d.Channel) })
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	e.cancel = cancel
	e.done = done
	e.logger.Info("sync engine started", slog.Any("domains", e.order))
	return nil
}

// launch runs fn in a tracked goroutine. Callers hold e.mu.
func (e *Engine) launch(wg *sync.WaitGroup, name string, fn func()) {
	e.running[name] = struct{}{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, name)
			e.mu.Unlock()
		}()
		fn()
	}()
}

func (e *Engine) runChannel(ctx context.Context, channel LiveChannel) {
	err := channel.Run(ctx)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrReauthenticate):
		e.mu.Lock()
		e.reauth[channel.Name()] = true
		e.mu.Unlock()
		e.logger.Error("live channel stopped, reauthentication required",
			slog.String("domain", channel.Name()),
			slog.Any("error", err),
		)
	default:
		e.logger.Error("live channel stopped",
			slog.String("domain", channel.Name()),
			slog.Any("error", err),
		)
	}
}

// Stop cancels every goroutine and waits up to timeout for them to return. A worker
// finishes the cycle it is running before it returns. Goroutines
// still running after the timeout are abandoned and logged.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		e.mu.Lock()
		e.cancel, e.done = nil, nil
		e.mu.Unlock()
		e.logger.Info("sync engine stopped")
		return nil
	case <-timer.C:
	}

	e.mu.Lock()
	stragglers := make([]string, 0, len(e.running))
	for name := range e.running {
		stragglers = append(stragglers, name)
	}
	e.mu.Unlock()
	sort.Strings(stragglers)

	e.logger.Warn("abandoning sync goroutines after shutdown timeout",
		slog.Duration("timeout", timeout),
		slog.Any("goroutines", stragglers),
	)
	return fmt.Errorf("%w: %v still running", ErrStopTimeout, stragglers)
}

// SyncNow requests a cycle for domainName without waiting for it.
func (e *Engine) SyncNow(domainName string) error {
	d, err := e.get(domainName)
	if err != nil {
		return err
	}
	d.Worker.Trigger()
	return nil
}

// RunCycle runs one cycle for domainName on the caller's goroutine.
func (e *Engine) RunCycle(ctx context.Context, domainName string) (*syncDomain.CycleResult, error) {
	d, err := e.get(domainName)
	if err != nil {
		return nil, err
	}
	return d.Manager.RunCycle(ctx)
}

// Status reports every domain in registration order.
func (e *Engine) Status(ctx context.Context) ([]*syncDomain.DomainStatus, error) {
	statuses := make([]*syncDomain.DomainStatus, 0, len(e.order))
	for _, name := range e.order {
		d := e.domains[name]

		status, err := d.Manager.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s status: %w", name, err)
		}

		status.ChannelState = channelDisabled
		if d.Channel != nil {
			status.ChannelState = string(d.Channel.State())
		}

		e.mu.Lock()
		status.ReauthRequired = status.ReauthRequired || e.reauth[name]
		e.mu.Unlock()

		statuses = append(statuses, status)
	}
	return statuses, nil
}

// RetryFailed resets the domain's failed items and schedules a cycle to send them.
func (e *Engine) RetryFailed(ctx context.Context, domainName string) (int64, error) {
	d, err := e.get(domainName)
	if err != nil {
		return 0, err
	}

	retried, err := d.Manager.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if retried > 0 {
		d.Worker.Trigger()
	}
	return retried, nil
}

// ListFailed returns the domain's terminally failed items.
func (e *Engine) ListFailed(ctx context.Context, domainName string, limit int) ([]*outboxDomain.QueueItem, error) {
	d, err := e.get(domainName)
	if err != nil {
		return nil, err
	}
	return d.Manager.ListFailed(ctx, limit)
}
