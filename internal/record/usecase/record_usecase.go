// Package usecase implements the Local Store: the single mutation API for syncable
// records and the merge point for server state.
package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/adapter"
	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	"github.com/allisson/offline-sync/internal/record/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// RecordRepository defines record persistence operations
type RecordRepository interface {
	EnsureTable(ctx context.Context, entityType string) error
	Insert(ctx context.Context, record *domain.Record) error
	Update(ctx context.Context, record *domain.Record) error
	Get(ctx context.Context, entityType string, localID uuid.UUID) (*domain.Record, error)
	GetByRemoteID(ctx context.Context, entityType string, remoteID string) (*domain.Record, error)
	List(ctx context.Context, entityType string, filter domain.ListFilter) ([]*domain.Record, error)
	ListUnsynced(ctx context.Context, entityType string, limit int) ([]*domain.Record, error)
	CountUnsynced(ctx context.Context, entityType string) (int, error)
}

// Queue is the part of the outbound queue the store writes to
type Queue interface {
	Enqueue(ctx context.Context, input outboxDomain.EnqueueInput) (*outboxDomain.QueueItem, error)
	HasOpenItems(ctx context.Context, entityType string, entityID uuid.UUID) (bool, error)
	DropForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error)
}

// UseCase defines the Local Store operations for one domain
type UseCase interface {
	EnsureTable(ctx context.Context) error
	Save(ctx context.Context, input domain.SaveInput) (*domain.Record, error)
	Delete(ctx context.Context, localID uuid.UUID) (*domain.Record, error)
	Get(ctx context.Context, localID uuid.UUID) (*domain.Record, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Record, error)
	ListUnsynced(ctx context.Context, limit int) ([]*domain.Record, error)
	CountUnsynced(ctx context.Context) (int, error)
	MarkSynced(ctx context.Context, input domain.MarkSyncedInput) (bool, error)
	ApplyRemote(ctx context.Context, remote *syncDomain.RemoteRecord) (domain.ApplyResult, error)
}

// RecordUseCase implements UseCase for the domain described by its adapter
type RecordUseCase struct {
	adapter        adapter.Adapter
	txManager      database.TxManager
	recordRepo     RecordRepository
	queue          Queue
	defaultOwnerID string
	logger         *slog.Logger
	now            func() time.Time
}

// NewRecordUseCase creates a new RecordUseCase. defaultOwnerID stamps records that
// arrive without an owner, including rows inserted from pulls.
func NewRecordUseCase(
	domainAdapter adapter.Adapter,
	txManager database.TxManager,
	recordRepo RecordRepository,
	queue Queue,
	defaultOwnerID string,
	logger *slog.Logger,
) *RecordUseCase {
	return &RecordUseCase{
		adapter:        domainAdapter,
		txManager:      txManager,
		recordRepo:     recordRepo,
		queue:          queue,
		defaultOwnerID: defaultOwnerID,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// EnsureTable creates the domain table when missing
func (uc *RecordUseCase) EnsureTable(ctx context.Context) error {
	return uc.recordRepo.EnsureTable(ctx, uc.adapter.EntityType())
}

// Save inserts or updates a record and queues the mutation in the same transaction.
func (uc *RecordUseCase) Save(ctx context.Context, input domain.SaveInput) (*domain.Record, error) {
	if err := uc.adapter.Validate(input.Payload); err != nil {
		return nil, err
	}
	entityType := uc.adapter.EntityType()

	var saved *domain.Record
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		now := uc.now()

		var record *domain.Record
		if input.LocalID != uuid.Nil {
			existing, err := uc.recordRepo.Get(ctx, entityType, input.LocalID)
			if err != nil && !apperrors.Is(err, domain.ErrRecordNotFound) {
				return err
			}
			record = existing
		}

		isNew := record == nil
		if isNew {
			localID := input.LocalID
			if localID == uuid.Nil {
				localID = uuid.Must(uuid.NewV7())
			}
			record = &domain.Record{
				LocalID:    localID,
				EntityType: entityType,
				OwnerID:    uc.ownerOr(input.OwnerID),
				CreatedAt:  now,
			}
		} else if record.IsDeleted() {
			return domain.ErrRecordDeleted
		}

		record.Version++
		record.Payload = input.Payload
		record.UpdatedAt = now
		record.IsSynced = false
		if input.OwnerID != "" {
			record.OwnerID = input.OwnerID
		}

		action := outboxDomain.ActionUpdate
		if !record.HasRemoteID() {
			open, err := uc.queue.HasOpenItems(ctx, entityType, record.LocalID)
			if err != nil {
				return err
			}
			if !open {
				action = outboxDomain.ActionCreate
			}
		}

		if isNew {
			if err := uc.recordRepo.Insert(ctx, record); err != nil {
				return err
			}
		} else if err := uc.recordRepo.Update(ctx, record); err != nil {
			return err
		}

		if _, err := uc.queue.Enqueue(ctx, enqueueInput(record, action)); err != nil {
			return err
		}

		saved = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Delete tombstones a record and queues the delete in the same transaction. Deleting
// a tombstone returns it unchanged.
func (uc *RecordUseCase) Delete(ctx context.Context, localID uuid.UUID) (*domain.Record, error) {
	entityType := uc.adapter.EntityType()

	var deleted *domain.Record
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		record, err := uc.recordRepo.Get(ctx, entityType, localID)
		if err != nil {
			return err
		}
		deleted = record
		if record.IsDeleted() {
			return nil
		}

		now := uc.now()
		record.DeletedAt = &now
		record.Version++
		record.UpdatedAt = now
		record.IsSynced = false

		if err := uc.recordRepo.Update(ctx, record); err != nil {
			return err
		}
		_, err = uc.queue.Enqueue(ctx, enqueueInput(record, outboxDomain.ActionDelete))
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Get retrieves a record by local id, tombstones included
func (uc *RecordUseCase) Get(ctx context.Context, localID uuid.UUID) (*domain.Record, error) {
	return uc.recordRepo.Get(ctx, uc.adapter.EntityType(), localID)
}

// List returns records matching filter
func (uc *RecordUseCase) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Record, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return uc.recordRepo.List(ctx, uc.adapter.EntityType(), filter)
}

// ListUnsynced returns dirty records, oldest change first
func (uc *RecordUseCase) ListUnsynced(ctx context.Context, limit int) ([]*domain.Record, error) {
	return uc.recordRepo.ListUnsynced(ctx, uc.adapter.EntityType(), clampLimit(limit))
}

// CountUnsynced counts dirty records
func (uc *RecordUseCase) CountUnsynced(ctx context.Context) (int, error) {
	return uc.recordRepo.CountUnsynced(ctx, uc.adapter.EntityType())
}

// MarkSynced records a server acknowledgment. It returns false without touching the row
// when the record changed again after the acknowledged version was sent.
func (uc *RecordUseCase) MarkSynced(ctx context.Context, input domain.MarkSyncedInput) (bool, error) {
	entityType := uc.adapter.EntityType()

	applied := false
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		record, err := uc.recordRepo.Get(ctx, entityType, input.LocalID)
		if err != nil {
			return err
		}

		if record.Version > input.Version {
			if uc.logger != nil {
				uc.logger.Info("skipping stale acknowledgment",
					slog.String("entity_type", entityType),
					slog.String("local_id", input.LocalID.String()),
					slog.Int64("local_version", record.Version),
					slog.Int64("acked_version", input.Version),
				)
			}
			return nil
		}

		if input.RemoteID != "" {
			remoteID := input.RemoteID
			record.RemoteID = &remoteID
		}
		syncedAt := input.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = uc.now()
		}
		record.Version = input.Version
		record.IsSynced = true
		record.SyncedAt = &syncedAt

		if err := uc.recordRepo.Update(ctx, record); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ApplyRemote merges a server record into the store. Applying the same record twice
// leaves the store as the first call did.
func (uc *RecordUseCase) ApplyRemote(
	ctx context.Context,
	remote *syncDomain.RemoteRecord,
) (domain.ApplyResult, error) {
	entityType := uc.adapter.EntityType()

	var result domain.ApplyResult
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		local, err := uc.findForRemote(ctx, remote)
		if err != nil {
			return err
		}
		now := uc.now()

		if local == nil {
			if remote.Deleted {
				result = domain.ApplySkipped
				return nil
			}
			result = domain.ApplyInserted
			return uc.recordRepo.Insert(ctx, uc.newFromRemote(remote, now))
		}

		if local.IsSynced && sameState(local, remote) {
			result = domain.ApplyUnchanged
			return nil
		}

		localSide := syncDomain.Side{Version: local.Version, UpdatedAt: local.UpdatedAt}
		if syncDomain.Resolve(localSide, remote.Side()) == syncDomain.WinnerRemote {
			result = domain.ApplyUpdated
			return uc.overwriteWithRemote(ctx, local, remote, now)
		}

		if local.IsSynced {
			// The server sent something older than what it already acknowledged.
			result = domain.ApplyUnchanged
			return nil
		}

		result = domain.ApplyKeptLocal
		return uc.rebaseLocal(ctx, local, remote)
	})
	if err != nil {
		return "", err
	}

	if uc.logger != nil && result != domain.ApplyUnchanged {
		uc.logger.Debug("applied remote record",
			slog.String("entity_type", entityType),
			slog.String("remote_id", remote.RemoteID),
			slog.Int64("version", remote.Version),
			slog.String("result", string(result)),
		)
	}
	return result, nil
}

func (uc *RecordUseCase) findForRemote(
	ctx context.Context,
	remote *syncDomain.RemoteRecord,
) (*domain.Record, error) {
	entityType := uc.adapter.EntityType()

	if remote.RemoteID != "" {
		record, err := uc.recordRepo.GetByRemoteID(ctx, entityType, remote.RemoteID)
		if err == nil {
			return record, nil
		}
		if !apperrors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
	}

	if remote.LocalID != nil {
		record, err := uc.recordRepo.Get(ctx, entityType, *remote.LocalID)
		if err == nil {
			return record, nil
		}
		if !apperrors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// remoteTime is the server's timestamp for remote, or now when the server sent none.
func remoteTime(remote *syncDomain.RemoteRecord, now time.Time) time.Time {
	if remote.UpdatedAt.IsZero() {
		return now
	}
	return remote.UpdatedAt
}

func (uc *RecordUseCase) newFromRemote(remote *syncDomain.RemoteRecord, now time.Time) *domain.Record {
	localID := uuid.Must(uuid.NewV7())
	if remote.LocalID != nil {
		localID = *remote.LocalID
	}

	updatedAt := remoteTime(remote, now)
	record := &domain.Record{
		LocalID:    localID,
		EntityType: uc.adapter.EntityType(),
		OwnerID:    uc.defaultOwnerID,
		Version:    remote.Version,
		Payload:    remote.Payload,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
		IsSynced:   true,
		SyncedAt:   &now,
	}
	if remote.RemoteID != "" {
		remoteID := remote.RemoteID
		record.RemoteID = &remoteID
	}
	return record
}

func (uc *RecordUseCase) overwriteWithRemote(
	ctx context.Context,
	local *domain.Record,
	remote *syncDomain.RemoteRecord,
	now time.Time,
) error {
	if remote.RemoteID != "" {
		remoteID := remote.RemoteID
		local.RemoteID = &remoteID
	}
	local.Version = remote.Version
	if len(remote.Payload) > 0 {
		local.Payload = remote.Payload
	}
	local.UpdatedAt = remoteTime(remote, now)
	local.DeletedAt = nil
	if remote.Deleted {
		deletedAt := local.UpdatedAt
		local.DeletedAt = &deletedAt
	}
	local.IsSynced = true
	local.SyncedAt = &now

	if err := uc.recordRepo.Update(ctx, local); err != nil {
		return err
	}

	dropped, err := uc.queue.DropForEntity(ctx, local.EntityType, local.LocalID)
	if err != nil {
		return err
	}
	if dropped > 0 && uc.logger != nil {
		uc.logger.Info("remote state superseded queued local changes",
			slog.String("entity_type", local.EntityType),
			slog.String("local_id", local.LocalID.String()),
			slog.Int64("dropped", dropped),
		)
	}
	return nil
}

func (uc *RecordUseCase) rebaseLocal(
	ctx context.Context,
	local *domain.Record,
	remote *syncDomain.RemoteRecord,
) error {
	local.Version = syncDomain.RebaseVersion(local.Version, remote.Version)
	if remote.RemoteID != "" && !local.HasRemoteID() {
		remoteID := remote.RemoteID
		local.RemoteID = &remoteID
	}

	if err := uc.recordRepo.Update(ctx, local); err != nil {
		return err
	}

	action := outboxDomain.ActionUpdate
	if local.IsDeleted() {
		action = outboxDomain.ActionDelete
	}
	_, err := uc.queue.Enqueue(ctx, enqueueInput(local, action))
	return err
}

func (uc *RecordUseCase) ownerOr(ownerID string) string {
	if ownerID != "" {
		return ownerID
	}
	return uc.defaultOwnerID
}

func enqueueInput(record *domain.Record, action outboxDomain.Action) outboxDomain.EnqueueInput {
	return outboxDomain.EnqueueInput{
		EntityType: record.EntityType,
		EntityID:   record.LocalID,
		Action:     action,
		Payload:    record.Payload,
		Version:    record.Version,
	}
}

// sameState reports whether local already holds exactly the remote state.
func sameState(local *domain.Record, remote *syncDomain.RemoteRecord) bool {
	if local.Version != remote.Version {
		return false
	}
	if !remote.UpdatedAt.IsZero() && !local.UpdatedAt.Equal(remote.UpdatedAt) {
		return false
	}
	if local.IsDeleted() != remote.Deleted {
		return false
	}
	if remote.RemoteID != "" && (!local.HasRemoteID() || *local.RemoteID != remote.RemoteID) {
		return false
	}
	return samePayload(local.Payload, remote.Payload)
}

func samePayload(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
