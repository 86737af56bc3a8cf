// Package repository provides data persistence implementations for the outbound queue.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/outbox/domain"
)

const queueColumns = `id, entity_type, entity_id, action, payload, version, status, retry_count, last_error,
	next_attempt_at, created_at, updated_at`

// SQLQueueRepository persists queue items in the sync_queue table for any supported dialect.
type SQLQueueRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLQueueRepository creates a new SQLQueueRepository
func NewSQLQueueRepository(db *sql.DB, dialect database.Dialect) *SQLQueueRepository {
	return &SQLQueueRepository{
		db:      db,
		dialect: dialect,
	}
}

// Create inserts a new queue item
func (r *SQLQueueRepository) Create(ctx context.Context, item *domain.QueueItem) error {
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`INSERT INTO sync_queue (` + queueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := querier.ExecContext(ctx, query,
		item.ID.String(), item.EntityType, item.EntityID.String(), string(item.Action), string(item.Payload),
		item.Version, string(item.Status), item.RetryCount, item.LastError,
		database.ToNanos(item.NextAttemptAt), database.ToNanos(item.CreatedAt), database.ToNanos(item.UpdatedAt),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to insert queue item")
	}
	return nil
}

// Update overwrites the mutable fields of a queue item. created_at is never touched so
// coalesced items keep their place in line.
func (r *SQLQueueRepository) Update(ctx context.Context, item *domain.QueueItem) error {
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`UPDATE sync_queue
		SET action = ?, payload = ?, version = ?, status = ?, retry_count = ?, last_error = ?,
		    next_attempt_at = ?, updated_at = ?
		WHERE id = ?`)

	result, err := querier.ExecContext(ctx, query,
		string(item.Action), string(item.Payload), item.Version, string(item.Status), item.RetryCount,
		item.LastError, database.ToNanos(item.NextAttemptAt), database.ToNanos(item.UpdatedAt), item.ID.String(),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to update queue item")
	}
	if r.dialect == database.DialectMySQL {
		// MySQL reports changed rows, not matched rows.
		return nil
	}
	return requireAffected(result, domain.ErrQueueItemNotFound)
}

// Delete removes a queue item
func (r *SQLQueueRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sync_queue WHERE id = ?`), id.String())
	if err != nil {
		return apperrors.Storage(err, "failed to delete queue item")
	}
	return requireAffected(result, domain.ErrQueueItemNotFound)
}

// Get retrieves a queue item by id
func (r *SQLQueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`)

	item, err := scanItem(querier.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrQueueItemNotFound
		}
		return nil, apperrors.Storage(err, "failed to get queue item")
	}
	return item, nil
}

// ListByEntity returns every unacknowledged item for one entity in FIFO order
func (r *SQLQueueRepository) ListByEntity(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC`

	return r.query(ctx, "failed to list queue items by entity", query, entityType, entityID.String())
}

// DeleteByEntity removes the entity's items whose status is in statuses
func (r *SQLQueueRepository) DeleteByEntity(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	statuses ...domain.Status,
) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	querier := database.GetTx(ctx, r.db)

	args := []any{entityType, entityID.String()}
	for _, status := range statuses {
		args = append(args, string(status))
	}
	query := r.dialect.Rebind(`DELETE FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND status IN (` + database.Placeholders(len(statuses)) + `)`)

	result, err := querier.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.Storage(err, "failed to delete queue items by entity")
	}
	return result.RowsAffected()
}

// ListEligible returns pending items whose backoff has elapsed and that have no older
// pending or in-flight item for the same entity, oldest first.
func (r *SQLQueueRepository) ListEligible(
	ctx context.Context,
	entityType string,
	now time.Time,
	limit int,
) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue q
		WHERE q.entity_type = ? AND q.status = ? AND q.next_attempt_at <= ?
		AND NOT EXISTS (
			SELECT 1 FROM sync_queue e
			WHERE e.entity_type = q.entity_type AND e.entity_id = q.entity_id
			AND e.status IN (?, ?)
			AND (e.created_at < q.created_at OR (e.created_at = q.created_at AND e.id < q.id))
		)
		ORDER BY q.created_at ASC, q.id ASC
		LIMIT ?`

	return r.query(ctx, "failed to list eligible queue items", query,
		entityType, string(domain.StatusPending), database.ToNanos(now),
		string(domain.StatusPending), string(domain.StatusInFlight),
		limit,
	)
}

// SetStatus moves the given items to status
func (r *SQLQueueRepository) SetStatus(
	ctx context.Context,
	ids []uuid.UUID,
	status domain.Status,
	now time.Time,
) error {
	if len(ids) == 0 {
		return nil
	}
	querier := database.GetTx(ctx, r.db)

	args := []any{string(status), database.ToNanos(now)}
	for _, id := range ids {
		args = append(args, id.String())
	}
	query := r.dialect.Rebind(`UPDATE sync_queue SET status = ?, updated_at = ?
		WHERE id IN (` + database.Placeholders(len(ids)) + `)`)

	if _, err := querier.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Storage(err, "failed to set queue item status")
	}
	return nil
}

// Transition moves every item of entityType from one status to another and makes it
// immediately eligible. resetRetries clears the retry bookkeeping as well.
func (r *SQLQueueRepository) Transition(
	ctx context.Context,
	entityType string,
	from, to domain.Status,
	resetRetries bool,
	now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	set := `status = ?, next_attempt_at = ?, updated_at = ?`
	if resetRetries {
		set += `, retry_count = 0, last_error = NULL`
	}
	query := r.dialect.Rebind(`UPDATE sync_queue SET ` + set + ` WHERE entity_type = ? AND status = ?`)

	result, err := querier.ExecContext(ctx, query,
		string(to), database.ToNanos(now), database.ToNanos(now), entityType, string(from),
	)
	if err != nil {
		return 0, apperrors.Storage(err, "failed to transition queue items")
	}
	return result.RowsAffected()
}

// CountByStatus counts the items of entityType per status
func (r *SQLQueueRepository) CountByStatus(ctx context.Context, entityType string) (domain.QueueStats, error) {
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`SELECT status, COUNT(*) FROM sync_queue WHERE entity_type = ? GROUP BY status`)

	var stats domain.QueueStats
	rows, err := querier.QueryContext(ctx, query, entityType)
	if err != nil {
		return stats, apperrors.Storage(err, "failed to count queue items")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, apperrors.Storage(err, "failed to scan queue count")
		}
		switch domain.Status(status) {
		case domain.StatusPending:
			stats.Pending = count
		case domain.StatusInFlight:
			stats.InFlight = count
		case domain.StatusFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return stats, apperrors.Storage(err, "failed to count queue items")
	}
	return stats, nil
}

// ListByStatus returns items of entityType in status, oldest first
func (r *SQLQueueRepository) ListByStatus(
	ctx context.Context,
	entityType string,
	status domain.Status,
	limit int,
) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE entity_type = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	return r.query(ctx, "failed to list queue items by status", query, entityType, string(status), limit)
}

func (r *SQLQueueRepository) query(ctx context.Context, msg, query string, args ...any) ([]*domain.QueueItem, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, apperrors.Storage(err, msg)
	}
	defer rows.Close() //nolint:errcheck

	items := make([]*domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Storage(err, msg)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage(err, msg)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.QueueItem, error) {
	var (
		item                              domain.QueueItem
		id, entityID, action, status      string
		payload                           string
		nextAttemptAt, createdAt, updated int64
		lastError                         sql.NullString
	)

	err := row.Scan(&id, &item.EntityType, &entityID, &action, &payload, &item.Version, &status,
		&item.RetryCount, &lastError, &nextAttemptAt, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if item.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, err
	}
	item.Action = domain.Action(action)
	item.Status = domain.Status(status)
	item.Payload = json.RawMessage(payload)
	if lastError.Valid {
		item.LastError = &lastError.String
	}
	item.NextAttemptAt = database.FromNanos(nextAttemptAt)
	item.CreatedAt = database.FromNanos(createdAt)
	item.UpdatedAt = database.FromNanos(updated)

	return &item, nil
}

func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Storage(err, "failed to read affected rows")
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
