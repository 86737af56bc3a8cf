// Package usecase runs sync cycles: reconcile dirty records into the queue, drain the
// queue through the remote client, then pull and merge server changes.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/adapter"
	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/metrics"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	outboxUsecase "github.com/allisson/offline-sync/internal/outbox/usecase"
	recordDomain "github.com/allisson/offline-sync/internal/record/domain"
	recordUsecase "github.com/allisson/offline-sync/internal/record/usecase"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

const (
	// reconcileLimit bounds how many dirty records one cycle inspects.
	reconcileLimit = 1000
	// releaseTimeout bounds the cleanup that runs after a cycle aborts.
	releaseTimeout = 5 * time.Second
)

// Config holds sync manager configuration
type Config struct {
	BatchSize          int
	MaxBatchesPerCycle int
	PullLimit          int
	CycleTimeout       time.Duration
}

// RemoteClient is the sync backend.
type RemoteClient interface {
	Push(ctx context.Context, domainName string, items []*outboxDomain.QueueItem) ([]syncDomain.Outcome, error)
	Pull(ctx context.Context, domainName string, since string, limit int) (*syncDomain.PullResult, error)
}

// CursorRepository persists pull watermarks.
type CursorRepository interface {
	Get(ctx context.Context, domainName string) (string, error)
	Save(ctx context.Context, cursor *syncDomain.Cursor) error
}

// Manager drives the sync cycle of one domain. Cycles never overlap.
type Manager struct {
	domainAdapter adapter.Adapter
	config        Config
	txManager     database.TxManager
	records       recordUsecase.UseCase
	queue         outboxUsecase.UseCase
	cursors       CursorRepository
	remote        RemoteClient
	metrics       metrics.SyncMetrics
	logger        *slog.Logger
	now           func() time.Time

	cycleMu sync.Mutex

	stateMu     sync.RWMutex
	lastCycleAt *time.Time
	lastErr     error
}

// NewManager creates a new Manager
func NewManager(
	domainAdapter adapter.Adapter,
	config Config,
	txManager database.TxManager,
	records recordUsecase.UseCase,
	queue outboxUsecase.UseCase,
	cursors CursorRepository,
	remote RemoteClient,
	syncMetrics metrics.SyncMetrics,
	logger *slog.Logger,
) *Manager {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxBatchesPerCycle <= 0 {
		config.MaxBatchesPerCycle = 1
	}
	if config.PullLimit <= 0 {
		config.PullLimit = 200
	}
	if syncMetrics == nil {
		syncMetrics = metrics.NewNoOpSyncMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		domainAdapter: domainAdapter,
		config:        config,
		txManager:     txManager,
		records:       records,
		queue:         queue,
		cursors:       cursors,
		remote:        remote,
		metrics:       syncMetrics,
		logger:        logger.With(slog.String("domain", domainAdapter.Name())),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the managed domain's name.
func (m *Manager) Name() string {
	return m.domainAdapter.Name()
}

// Prepare readies the domain for its first cycle: the table exists and items orphaned
// in flight by a previous process are pending again.
func (m *Manager) Prepare(ctx context.Context) error {
	if err := m.records.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure %s table: %w", m.Name(), err)
	}
	if _, err := m.queue.ReleaseInFlight(ctx, m.domainAdapter.EntityType()); err != nil {
		return fmt.Errorf("failed to release %s in-flight items: %w", m.Name(), err)
	}
	return nil
}

// RunCycle runs one reconcile, drain and pull pass. It returns ErrCycleInProgress when
// another cycle of the same domain is running.
func (m *Manager) RunCycle(ctx context.Context) (*syncDomain.CycleResult, error) {
	if !m.cycleMu.TryLock() {
		return nil, syncDomain.ErrCycleInProgress
	}
	defer m.cycleMu.Unlock()

	if m.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.CycleTimeout)
		defer cancel()
	}

	result := &syncDomain.CycleResult{Domain: m.Name(), StartedAt: m.now()}
	err := m.runPhases(ctx, result)
	result.CompletedAt = m.now()

	m.finishCycle(ctx, result, err)
	return result, err
}

func (m *Manager) runPhases(ctx context.Context, result *syncDomain.CycleResult) error {
	if err := m.reconcile(ctx, result); err != nil {
		return err
	}
	if err := m.drain(ctx, result); err != nil {
		return err
	}
	return m.pull(ctx, result)
}

func (m *Manager) finishCycle(ctx context.Context, result *syncDomain.CycleResult, err error) {
	duration := result.CompletedAt.Sub(result.StartedAt)

	m.stateMu.Lock()
	completedAt := result.CompletedAt
	m.lastCycleAt = &completedAt
	m.lastErr = err
	m.stateMu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordCycle(ctx, m.Name(), status, duration)
	m.metrics.RecordOutcomes(ctx, m.Name(), string(syncDomain.OutcomeAccepted), result.Accepted)
	m.metrics.RecordOutcomes(ctx, m.Name(), string(syncDomain.OutcomeConflict), result.Conflicts)
	m.metrics.RecordOutcomes(ctx, m.Name(), string(syncDomain.OutcomeRejected), result.Rejected)
	m.metrics.RecordOutcomes(ctx, m.Name(), string(syncDomain.OutcomeTransient), result.Transient)

	attrs := []any{
		slog.Int("reconciled", result.Reconciled),
		slog.Int("pushed", result.Pushed),
		slog.Int("accepted", result.Accepted),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("rejected", result.Rejected),
		slog.Int("transient", result.Transient),
		slog.Int("pulled", result.Pulled),
		slog.Int("applied", result.Applied),
		slog.Duration("duration", duration),
	}
	if err != nil {
		m.logger.Error("sync cycle aborted", append(attrs, slog.Any("error", err))...)
		return
	}
	m.logger.Debug("sync cycle completed", attrs...)
}

// reconcile enqueues dirty records that lost their queue trace.
func (m *Manager) reconcile(ctx context.Context, result *syncDomain.CycleResult) error {
	dirty, err := m.records.ListUnsynced(ctx, reconcileLimit)
	if err != nil {
		return err
	}

	entityType := m.domainAdapter.EntityType()
	for _, candidate := range dirty {
		enqueued := false
		err := m.txManager.WithTx(ctx, func(ctx context.Context) error {
			open, err := m.queue.HasOpenItems(ctx, entityType, candidate.LocalID)
			if err != nil || open {
				return err
			}

			record, err := m.records.Get(ctx, candidate.LocalID)
			if err != nil {
				return err
			}
			if record.IsSynced {
				return nil
			}

			_, err = m.queue.Enqueue(ctx, outboxDomain.EnqueueInput{
				EntityType: entityType,
				EntityID:   record.LocalID,
				Action:     reconcileAction(record),
				Payload:    record.Payload,
				Version:    record.Version,
			})
			enqueued = err == nil
			return err
		})
		if err != nil {
			return err
		}
		if enqueued {
			result.Reconciled++
		}
	}

	if result.Reconciled > 0 {
		m.logger.Warn("re-enqueued unsynced records without queue items", slog.Int("count", result.Reconciled))
	}
	return nil
}

func reconcileAction(record *recordDomain.Record) outboxDomain.Action {
	switch {
	case record.IsDeleted():
		return outboxDomain.ActionDelete
	case record.HasRemoteID():
		return outboxDomain.ActionUpdate
	default:
		return outboxDomain.ActionCreate
	}
}

// drain pushes claimed batches until the queue runs dry or the batch budget is spent.
// Whatever is still in flight when it fails goes back to pending.
func (m *Manager) drain(ctx context.Context, result *syncDomain.CycleResult) (err error) {
	entityType := m.domainAdapter.EntityType()
	defer func() {
		if err != nil {
			m.releaseInFlight(ctx)
		}
	}()

	for batch := 0; batch < m.config.MaxBatchesPerCycle; batch++ {
		items, err := m.queue.ClaimBatch(ctx, entityType, m.config.BatchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		result.Pushed += len(items)

		outcomes, err := m.remote.Push(ctx, m.Name(), items)
		if err != nil {
			return err
		}

		byItem := make(map[uuid.UUID]syncDomain.Outcome, len(outcomes))
		for _, outcome := range outcomes {
			byItem[outcome.ItemID] = outcome
		}
		for _, item := range items {
			outcome, ok := byItem[item.ID]
			if !ok {
				outcome = syncDomain.Outcome{
					ItemID:  item.ID,
					LocalID: item.EntityID,
					Status:  syncDomain.OutcomeTransient,
					Reason:  "no outcome for item",
				}
			}
			if err := m.handleOutcome(ctx, item, outcome, result); err != nil {
				return err
			}
		}

		if len(items) < m.config.BatchSize {
			return nil
		}
	}
	return nil
}

func (m *Manager) handleOutcome(
	ctx context.Context,
	item *outboxDomain.QueueItem,
	outcome syncDomain.Outcome,
	result *syncDomain.CycleResult,
) error {
	switch outcome.Status {
	case syncDomain.OutcomeAccepted:
		result.Accepted++
		return m.accept(ctx, item, outcome)

	case syncDomain.OutcomeConflict:
		result.Conflicts++
		if !outcome.HasServerState() {
			cause := apperrors.Wrapf(apperrors.ErrVersionConflict, "conflict without server state: %s", outcome.Reason)
			return m.queue.Fail(ctx, item.ID, cause, true)
		}
		return m.resolveConflict(ctx, item, outcome)

	case syncDomain.OutcomeRejected:
		result.Rejected++
		cause := apperrors.Wrapf(apperrors.ErrValidationRejected, "%s", outcome.Reason)
		return m.queue.Fail(ctx, item.ID, cause, false)

	default:
		result.Transient++
		cause := apperrors.Wrapf(apperrors.ErrTransientNetwork, "%s", outcome.Reason)
		return m.queue.Fail(ctx, item.ID, cause, true)
	}
}

func (m *Manager) accept(ctx context.Context, item *outboxDomain.QueueItem, outcome syncDomain.Outcome) error {
	return m.txManager.WithTx(ctx, func(ctx context.Context) error {
		version := outcome.Version
		if version == 0 {
			version = item.Version
		}

		_, err := m.records.MarkSynced(ctx, recordDomain.MarkSyncedInput{
			LocalID:  item.EntityID,
			RemoteID: outcome.RemoteID,
			Version:  version,
			SyncedAt: m.now(),
		})
		if err != nil {
			if !apperrors.Is(err, recordDomain.ErrRecordNotFound) {
				return err
			}
			m.logger.Warn("acknowledged item has no local record",
				slog.String("item_id", item.ID.String()),
				slog.String("local_id", item.EntityID.String()),
			)
		}
		return m.queue.Ack(ctx, item.ID)
	})
}

// resolveConflict merges the server state the push was refused against. The remote
// side wins by overwriting the row; the local side wins by re-enqueueing an update
// on top of the server version.
func (m *Manager) resolveConflict(ctx context.Context, item *outboxDomain.QueueItem, outcome syncDomain.Outcome) error {
	localID := item.EntityID
	server := &syncDomain.RemoteRecord{
		RemoteID:  outcome.RemoteID,
		LocalID:   &localID,
		Version:   outcome.Version,
		Payload:   outcome.ServerPayload,
		Deleted:   outcome.ServerDeleted,
		UpdatedAt: outcome.ServerUpdatedAt,
	}

	return m.txManager.WithTx(ctx, func(ctx context.Context) error {
		applied, err := m.records.ApplyRemote(ctx, server)
		if err != nil {
			return err
		}

		m.logger.Info("resolved push conflict",
			slog.String("local_id", localID.String()),
			slog.Int64("local_version", item.Version),
			slog.Int64("server_version", outcome.Version),
			slog.String("result", string(applied)),
		)
		return m.queue.Ack(ctx, item.ID)
	})
}

// pull applies server pages starting at the stored cursor. The cursor advances only
// after a whole page has been applied.
func (m *Manager) pull(ctx context.Context, result *syncDomain.CycleResult) error {
	for page := 0; page < m.config.MaxBatchesPerCycle; page++ {
		since, err := m.cursors.Get(ctx, m.Name())
		if err != nil {
			return err
		}

		changes, err := m.remote.Pull(ctx, m.Name(), since, m.config.PullLimit)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrTransientNetwork) && ctx.Err() == nil {
				m.logger.Warn("pull failed, retrying next cycle", slog.Any("error", err))
				return nil
			}
			return err
		}
		result.Pulled += len(changes.Records)

		applied := make(map[recordDomain.ApplyResult]int)
		for _, change := range changes.Records {
			outcome, err := m.records.ApplyRemote(ctx, change)
			if err != nil {
				return fmt.Errorf("failed to apply remote record %s: %w", change.RemoteID, err)
			}
			applied[outcome]++
			if outcome != recordDomain.ApplyUnchanged && outcome != recordDomain.ApplySkipped {
				result.Applied++
			}
		}
		for outcome, count := range applied {
			m.metrics.RecordApplied(ctx, m.Name(), string(outcome), count)
		}

		if changes.NextCursor == since {
			return nil
		}
		if err := m.cursors.Save(ctx, &syncDomain.Cursor{
			Domain:    m.Name(),
			Value:     changes.NextCursor,
			UpdatedAt: m.now(),
		}); err != nil {
			return err
		}

		if len(changes.Records) < m.config.PullLimit {
			return nil
		}
	}
	return nil
}

func (m *Manager) releaseInFlight(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := m.queue.ReleaseInFlight(ctx, m.domainAdapter.EntityType()); err != nil {
		m.logger.Error("failed to release in-flight items", slog.Any("error", err))
	}
}

// Status reports queue and store health together with the last cycle's result.
func (m *Manager) Status(ctx context.Context) (*syncDomain.DomainStatus, error) {
	stats, err := m.queue.Stats(ctx, m.domainAdapter.EntityType())
	if err != nil {
		return nil, err
	}
	unsynced, err := m.records.CountUnsynced(ctx)
	if err != nil {
		return nil, err
	}

	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	status := &syncDomain.DomainStatus{
		Domain:         m.Name(),
		Queue:          stats,
		Unsynced:       unsynced,
		LastCycleAt:    m.lastCycleAt,
		ReauthRequired: apperrors.Is(m.lastErr, apperrors.ErrAuthExpired),
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status, nil
}

// RetryFailed gives every failed item of the domain a fresh retry budget.
func (m *Manager) RetryFailed(ctx context.Context) (int64, error) {
	retried, err := m.queue.RetryFailed(ctx, m.domainAdapter.EntityType())
	if err != nil {
		return 0, err
	}
	if retried > 0 {
		m.logger.Info("failed items scheduled for retry", slog.Int64("count", retried))
	}
	return retried, nil
}

// ListFailed returns the domain's terminally failed items, oldest first.
func (m *Manager) ListFailed(ctx context.Context, limit int) ([]*outboxDomain.QueueItem, error) {
	return m.queue.ListFailed(ctx, m.domainAdapter.EntityType(), limit)
}
