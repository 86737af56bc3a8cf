// Package usecase implements the outbound queue: durable FIFO delivery of local
// mutations with per-entity ordering, coalescing and retry backoff.
package usecase

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/outbox/domain"
)

// maxBackoffShift bounds the exponent so base<<shift cannot overflow.
const maxBackoffShift = 30

// Config holds outbound queue configuration
type Config struct {
	BatchSize   int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxRetries moves an item to failed after this many transient failures. Zero retries forever.
	MaxRetries int
}

// QueueRepository defines queue item persistence operations
type QueueRepository interface {
	Create(ctx context.Context, item *domain.QueueItem) error
	Update(ctx context.Context, item *domain.QueueItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*domain.QueueItem, error)
	DeleteByEntity(
		ctx context.Context,
		entityType string,
		entityID uuid.UUID,
		statuses ...domain.Status,
	) (int64, error)
	ListEligible(ctx context.Context, entityType string, now time.Time, limit int) ([]*domain.QueueItem, error)
	SetStatus(ctx context.Context, ids []uuid.UUID, status domain.Status, now time.Time) error
	Transition(
		ctx context.Context,
		entityType string,
		from, to domain.Status,
		resetRetries bool,
		now time.Time,
	) (int64, error)
	CountByStatus(ctx context.Context, entityType string) (domain.QueueStats, error)
	ListByStatus(ctx context.Context, entityType string, status domain.Status, limit int) ([]*domain.QueueItem, error)
}

// UseCase defines the interface for outbound queue operations
type UseCase interface {
	Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.QueueItem, error)
	ClaimBatch(ctx context.Context, entityType string, limit int) ([]*domain.QueueItem, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, cause error, transient bool) error
	DropForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error)
	HasOpenItems(ctx context.Context, entityType string, entityID uuid.UUID) (bool, error)
	ReleaseInFlight(ctx context.Context, entityType string) (int64, error)
	RetryFailed(ctx context.Context, entityType string) (int64, error)
	Stats(ctx context.Context, entityType string) (domain.QueueStats, error)
	ListFailed(ctx context.Context, entityType string, limit int) ([]*domain.QueueItem, error)
}

// QueueUseCase implements the outbound queue
type QueueUseCase struct {
	config    Config
	txManager database.TxManager
	queueRepo QueueRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueueUseCase creates a new QueueUseCase
func NewQueueUseCase(
	config Config,
	txManager database.TxManager,
	queueRepo QueueRepository,
	logger *slog.Logger,
) *QueueUseCase {
	return &QueueUseCase{
		config:    config,
		txManager: txManager,
		queueRepo: queueRepo,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records a mutation, coalescing it with the entity's newest item when that
// item has not been sent yet. A delete supersedes every unsent item for the entity.
// When ctx carries a transaction the enqueue joins it.
func (uc *QueueUseCase) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.QueueItem, error) {
	if !input.Action.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown queue action %q", input.Action)
	}

	var result *domain.QueueItem
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		now := uc.now()

		if input.Action == domain.ActionDelete {
			if _, err := uc.queueRepo.DeleteByEntity(
				ctx, input.EntityType, input.EntityID, domain.StatusPending, domain.StatusFailed,
			); err != nil {
				return err
			}
			result = uc.newItem(input, now)
			return uc.queueRepo.Create(ctx, result)
		}

		items, err := uc.queueRepo.ListByEntity(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return err
		}

		if len(items) > 0 {
			if last := items[len(items)-1]; last.IsCoalescable() {
				// The first action wins so a never-sent create stays a create.
				last.Payload = input.Payload
				last.Version = input.Version
				last.UpdatedAt = now
				result = last
				return uc.queueRepo.Update(ctx, last)
			}
		}

		result = uc.newItem(input, now)
		return uc.queueRepo.Create(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Debug("queue item enqueued",
			slog.String("item_id", result.ID.String()),
			slog.String("entity_type", result.EntityType),
			slog.String("entity_id", result.EntityID.String()),
			slog.String("action", string(result.Action)),
			slog.Int64("version", result.Version),
		)
	}
	return result, nil
}

func (uc *QueueUseCase) newItem(input domain.EnqueueInput, now time.Time) *domain.QueueItem {
	return &domain.QueueItem{
		ID:            uuid.Must(uuid.NewV7()),
		EntityType:    input.EntityType,
		EntityID:      input.EntityID,
		Action:        input.Action,
		Payload:       input.Payload,
		Version:       input.Version,
		Status:        domain.StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ClaimBatch marks up to limit eligible items in_flight and returns them oldest first.
// At most one item per entity is ever in flight.
func (uc *QueueUseCase) ClaimBatch(ctx context.Context, entityType string, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = uc.config.BatchSize
	}

	var items []*domain.QueueItem
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		now := uc.now()

		eligible, err := uc.queueRepo.ListEligible(ctx, entityType, now, limit)
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(eligible))
		for _, item := range eligible {
			ids = append(ids, item.ID)
			item.Status = domain.StatusInFlight
			item.UpdatedAt = now
		}
		if err := uc.queueRepo.SetStatus(ctx, ids, domain.StatusInFlight, now); err != nil {
			return err
		}

		items = eligible
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Ack removes a delivered item
func (uc *QueueUseCase) Ack(ctx context.Context, id uuid.UUID) error {
	return uc.queueRepo.Delete(ctx, id)
}

// Fail records a failed delivery attempt. Transient failures return the item to
// pending behind an exponential backoff; anything else parks it as failed.
func (uc *QueueUseCase) Fail(ctx context.Context, id uuid.UUID, cause error, transient bool) error {
	return uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		item, err := uc.queueRepo.Get(ctx, id)
		if err != nil {
			return err
		}

		now := uc.now()
		delay := Backoff(uc.config.BackoffBase, uc.config.BackoffCap, item.RetryCount)

		item.RetryCount++
		if cause != nil {
			msg := cause.Error()
			item.LastError = &msg
		}
		item.UpdatedAt = now

		exhausted := uc.config.MaxRetries > 0 && item.RetryCount >= uc.config.MaxRetries
		if transient && !exhausted {
			item.Status = domain.StatusPending
			item.NextAttemptAt = now.Add(delay)
		} else {
			item.Status = domain.StatusFailed
		}

		if uc.logger != nil {
			uc.logger.Warn("queue item delivery failed",
				slog.String("item_id", item.ID.String()),
				slog.String("entity_type", item.EntityType),
				slog.String("entity_id", item.EntityID.String()),
				slog.String("status", string(item.Status)),
				slog.Int("retry_count", item.RetryCount),
				slog.Time("next_attempt_at", item.NextAttemptAt),
				slog.Any("error", cause),
			)
		}

		return uc.queueRepo.Update(ctx, item)
	})
}

// DropForEntity removes the entity's unsent and failed items. In-flight items are
// left to their pending response.
func (uc *QueueUseCase) DropForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	return uc.queueRepo.DeleteByEntity(ctx, entityType, entityID, domain.StatusPending, domain.StatusFailed)
}

// HasOpenItems reports whether the entity has anything left to deliver, failed items included.
func (uc *QueueUseCase) HasOpenItems(ctx context.Context, entityType string, entityID uuid.UUID) (bool, error) {
	items, err := uc.queueRepo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// ReleaseInFlight returns items orphaned by a crash to pending. Call it before the
// first cycle of a process.
func (uc *QueueUseCase) ReleaseInFlight(ctx context.Context, entityType string) (int64, error) {
	released, err := uc.queueRepo.Transition(
		ctx, entityType, domain.StatusInFlight, domain.StatusPending, false, uc.now(),
	)
	if err != nil {
		return 0, err
	}

	if released > 0 && uc.logger != nil {
		uc.logger.Info("released in-flight queue items",
			slog.String("entity_type", entityType),
			slog.Int64("count", released),
		)
	}
	return released, nil
}

// RetryFailed makes every failed item of entityType pending again with a fresh retry budget.
func (uc *QueueUseCase) RetryFailed(ctx context.Context, entityType string) (int64, error) {
	return uc.queueRepo.Transition(ctx, entityType, domain.StatusFailed, domain.StatusPending, true, uc.now())
}

// Stats counts the items of entityType by status
func (uc *QueueUseCase) Stats(ctx context.Context, entityType string) (domain.QueueStats, error) {
	return uc.queueRepo.CountByStatus(ctx, entityType)
}

// ListFailed returns failed items of entityType, oldest first
func (uc *QueueUseCase) ListFailed(ctx context.Context, entityType string, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = uc.config.BatchSize
	}
	return uc.queueRepo.ListByStatus(ctx, entityType, domain.StatusFailed, limit)
}

// Backoff returns min(base * 2^retryCount, maxDelay). A zero maxDelay means uncapped.
func Backoff(base, maxDelay time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	retryCount = min(max(retryCount, 0), maxBackoffShift)

	delay := base << uint(retryCount)
	if delay <= 0 || delay/base != 1<<uint(retryCount) {
		delay = math.MaxInt64
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
