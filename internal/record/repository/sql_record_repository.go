// Package repository provides data persistence implementations for syncable records.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/record/domain"
	"github.com/allisson/offline-sync/internal/validation"
)

const recordColumns = `local_id, remote_id, owner_id, version, payload, created_at, updated_at, deleted_at,
	is_synced, synced_at`

// SQLRecordRepository persists records in one <entity_type>_records table per domain.
type SQLRecordRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLRecordRepository creates a new SQLRecordRepository
func NewSQLRecordRepository(db *sql.DB, dialect database.Dialect) *SQLRecordRepository {
	return &SQLRecordRepository{
		db:      db,
		dialect: dialect,
	}
}

// TableName returns the unquoted table name backing entityType.
func TableName(entityType string) string {
	return entityType + "_records"
}

func (r *SQLRecordRepository) table(entityType string) (string, error) {
	if err := validation.Identifier.Validate(entityType); err != nil {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "entity type %q: %v", entityType, err)
	}
	return r.dialect.QuoteIdent(TableName(entityType)), nil
}

// EnsureTable creates the entity's table and indexes when missing.
func (r *SQLRecordRepository) EnsureTable(ctx context.Context, entityType string) error {
	table, err := r.table(entityType)
	if err != nil {
		return err
	}
	name := TableName(entityType)

	var statements []string
	switch r.dialect {
	case database.DialectMySQL:
		statements = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			local_id VARCHAR(36) PRIMARY KEY,
			remote_id VARCHAR(255) NULL,
			owner_id VARCHAR(255) NOT NULL DEFAULT '',
			version BIGINT NOT NULL,
			payload LONGTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			deleted_at BIGINT NULL,
			is_synced SMALLINT NOT NULL DEFAULT 0,
			synced_at BIGINT NULL,
			UNIQUE KEY idx_%s_remote_id (remote_id),
			INDEX idx_%s_unsynced (is_synced, updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, table, name, name)}
	default:
		statements = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				local_id VARCHAR(36) PRIMARY KEY,
				remote_id VARCHAR(255),
				owner_id VARCHAR(255) NOT NULL DEFAULT '',
				version BIGINT NOT NULL,
				payload TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				deleted_at BIGINT,
				is_synced SMALLINT NOT NULL DEFAULT 0,
				synced_at BIGINT
			)`, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_remote_id ON %s (remote_id)`, name, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unsynced ON %s (is_synced, updated_at)`, name, table),
		}
	}

	querier := database.GetTx(ctx, r.db)
	for _, statement := range statements {
		if _, err := querier.ExecContext(ctx, statement); err != nil {
			return apperrors.Storage(err, "failed to create "+name+" table")
		}
	}
	return nil
}

// Insert stores a new record
func (r *SQLRecordRepository) Insert(ctx context.Context, record *domain.Record) error {
	table, err := r.table(record.EntityType)
	if err != nil {
		return err
	}
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`INSERT INTO ` + table + ` (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = querier.ExecContext(ctx, query,
		record.LocalID.String(), record.RemoteID, record.OwnerID, record.Version, string(record.Payload),
		database.ToNanos(record.CreatedAt), database.ToNanos(record.UpdatedAt),
		database.NullableNanos(record.DeletedAt), boolToInt(record.IsSynced), database.NullableNanos(record.SyncedAt),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to insert record")
	}
	return nil
}

// Update overwrites every mutable column of a record
func (r *SQLRecordRepository) Update(ctx context.Context, record *domain.Record) error {
	table, err := r.table(record.EntityType)
	if err != nil {
		return err
	}
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`UPDATE ` + table + `
		SET remote_id = ?, owner_id = ?, version = ?, payload = ?, updated_at = ?, deleted_at = ?,
		    is_synced = ?, synced_at = ?
		WHERE local_id = ?`)

	result, err := querier.ExecContext(ctx, query,
		record.RemoteID, record.OwnerID, record.Version, string(record.Payload),
		database.ToNanos(record.UpdatedAt), database.NullableNanos(record.DeletedAt),
		boolToInt(record.IsSynced), database.NullableNanos(record.SyncedAt), record.LocalID.String(),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to update record")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Storage(err, "failed to read affected rows")
	}
	if affected == 0 && r.dialect != database.DialectMySQL {
		// MySQL reports changed rows, so an idempotent rewrite would look like a miss.
		return domain.ErrRecordNotFound
	}
	return nil
}

// Get retrieves a record by local id
func (r *SQLRecordRepository) Get(ctx context.Context, entityType string, localID uuid.UUID) (*domain.Record, error) {
	return r.getBy(ctx, entityType, "local_id", localID.String())
}

// GetByRemoteID retrieves a record by the id the server assigned
func (r *SQLRecordRepository) GetByRemoteID(
	ctx context.Context,
	entityType string,
	remoteID string,
) (*domain.Record, error) {
	return r.getBy(ctx, entityType, "remote_id", remoteID)
}

func (r *SQLRecordRepository) getBy(ctx context.Context, entityType, column, value string) (*domain.Record, error) {
	table, err := r.table(entityType)
	if err != nil {
		return nil, err
	}
	querier := database.GetTx(ctx, r.db)

	query := r.dialect.Rebind(`SELECT ` + recordColumns + ` FROM ` + table + ` WHERE ` + column + ` = ?`)

	record, err := scanRecord(querier.QueryRowContext(ctx, query, value), entityType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, apperrors.Storage(err, "failed to get record")
	}
	return record, nil
}

// List returns records matching filter ordered by most recent update
func (r *SQLRecordRepository) List(
	ctx context.Context,
	entityType string,
	filter domain.ListFilter,
) ([]*domain.Record, error) {
	table, err := r.table(entityType)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM ` + table + ` WHERE 1 = 1`
	var args []any
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.OnlyUnsynced {
		query += ` AND is_synced = 0`
	}
	query += ` ORDER BY updated_at DESC, local_id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	return r.query(ctx, entityType, "failed to list records", query, args...)
}

// ListUnsynced returns dirty records, tombstones included, oldest change first
func (r *SQLRecordRepository) ListUnsynced(ctx context.Context, entityType string, limit int) ([]*domain.Record, error) {
	table, err := r.table(entityType)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM ` + table + `
		WHERE is_synced = 0
		ORDER BY updated_at ASC, local_id ASC
		LIMIT ?`

	return r.query(ctx, entityType, "failed to list unsynced records", query, limit)
}

// CountUnsynced counts dirty records
func (r *SQLRecordRepository) CountUnsynced(ctx context.Context, entityType string) (int, error) {
	table, err := r.table(entityType)
	if err != nil {
		return 0, err
	}
	querier := database.GetTx(ctx, r.db)

	var count int
	err = querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE is_synced = 0`).Scan(&count)
	if err != nil {
		return 0, apperrors.Storage(err, "failed to count unsynced records")
	}
	return count, nil
}

func (r *SQLRecordRepository) query(
	ctx context.Context,
	entityType, msg, query string,
	args ...any,
) ([]*domain.Record, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, apperrors.Storage(err, msg)
	}
	defer rows.Close() //nolint:errcheck

	records := make([]*domain.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows, entityType)
		if err != nil {
			return nil, apperrors.Storage(err, msg)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage(err, msg)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, entityType string) (*domain.Record, error) {
	var (
		record               domain.Record
		localID, payload     string
		remoteID             sql.NullString
		createdAt, updatedAt int64
		deletedAt, syncedAt  sql.NullInt64
		isSynced             int
	)

	err := row.Scan(&localID, &remoteID, &record.OwnerID, &record.Version, &payload,
		&createdAt, &updatedAt, &deletedAt, &isSynced, &syncedAt)
	if err != nil {
		return nil, err
	}

	if record.LocalID, err = uuid.Parse(localID); err != nil {
		return nil, err
	}
	record.EntityType = entityType
	if remoteID.Valid {
		record.RemoteID = &remoteID.String
	}
	record.Payload = json.RawMessage(payload)
	record.CreatedAt = database.FromNanos(createdAt)
	record.UpdatedAt = database.FromNanos(updatedAt)
	if deletedAt.Valid {
		record.DeletedAt = database.FromNullableNanos(&deletedAt.Int64)
	}
	record.IsSynced = isSynced != 0
	if syncedAt.Valid {
		record.SyncedAt = database.FromNullableNanos(&syncedAt.Int64)
	}

	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
