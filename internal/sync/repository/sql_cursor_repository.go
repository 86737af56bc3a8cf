// Package repository persists per-domain pull cursors.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// SQLCursorRepository stores one cursor row per domain in sync_cursors.
type SQLCursorRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLCursorRepository creates a new SQLCursorRepository
func NewSQLCursorRepository(db *sql.DB, dialect database.Dialect) *SQLCursorRepository {
	return &SQLCursorRepository{
		db:      db,
		dialect: dialect,
	}
}

// Get returns the stored cursor value, or "" when the domain has never been pulled.
func (r *SQLCursorRepository) Get(ctx context.Context, domainName string) (string, error) {
	querier := database.GetTx(ctx, r.db)

	var value string
	err := querier.QueryRowContext(
		ctx,
		r.dialect.Rebind(`SELECT cursor_value FROM sync_cursors WHERE domain = ?`),
		domainName,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", apperrors.Storage(err, "failed to get cursor")
	}
	return value, nil
}

// Save upserts the cursor of a domain.
func (r *SQLCursorRepository) Save(ctx context.Context, cursor *syncDomain.Cursor) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO sync_cursors (domain, cursor_value, updated_at) VALUES (?, ?, ?)`
	if r.dialect == database.DialectMySQL {
		query += ` ON DUPLICATE KEY UPDATE cursor_value = VALUES(cursor_value), updated_at = VALUES(updated_at)`
	} else {
		query += ` ON CONFLICT (domain) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`
	}

	_, err := querier.ExecContext(
		ctx,
		r.dialect.Rebind(query),
		cursor.Domain,
		cursor.Value,
		database.ToNanos(cursor.UpdatedAt),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to save cursor")
	}
	return nil
}

// Delete forgets a domain's cursor so the next pull starts from the beginning.
func (r *SQLCursorRepository) Delete(ctx context.Context, domainName string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sync_cursors WHERE domain = ?`), domainName)
	if err != nil {
		return apperrors.Storage(err, "failed to delete cursor")
	}
	return nil
}
