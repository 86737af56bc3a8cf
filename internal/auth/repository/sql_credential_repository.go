// Package repository persists encrypted credentials.
package repository

import (
	"context"
	"database/sql"
	"errors"

	authDomain "github.com/allisson/offline-sync/internal/auth/domain"
	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
)

// SQLCredentialRepository stores credentials in sync_credentials.
type SQLCredentialRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLCredentialRepository creates a new SQLCredentialRepository
func NewSQLCredentialRepository(db *sql.DB, dialect database.Dialect) *SQLCredentialRepository {
	return &SQLCredentialRepository{
		db:      db,
		dialect: dialect,
	}
}

// Upsert inserts the credential or replaces the stored ciphertexts for its account.
func (r *SQLCredentialRepository) Upsert(ctx context.Context, credential *authDomain.Credential) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO sync_credentials (account, access_token_ciphertext, refresh_token_ciphertext, updated_at)
			  VALUES (?, ?, ?, ?)`
	if r.dialect == database.DialectMySQL {
		query += ` ON DUPLICATE KEY UPDATE
			  access_token_ciphertext = VALUES(access_token_ciphertext),
			  refresh_token_ciphertext = VALUES(refresh_token_ciphertext),
			  updated_at = VALUES(updated_at)`
	} else {
		query += ` ON CONFLICT (account) DO UPDATE SET
			  access_token_ciphertext = excluded.access_token_ciphertext,
			  refresh_token_ciphertext = excluded.refresh_token_ciphertext,
			  updated_at = excluded.updated_at`
	}

	_, err := querier.ExecContext(
		ctx,
		r.dialect.Rebind(query),
		credential.Account,
		credential.AccessTokenCiphertext,
		credential.RefreshTokenCiphertext,
		database.ToNanos(credential.UpdatedAt),
	)
	if err != nil {
		return apperrors.Storage(err, "failed to upsert credential")
	}
	return nil
}

// Get retrieves the credential of account. Returns ErrCredentialNotFound when absent.
func (r *SQLCredentialRepository) Get(ctx context.Context, account string) (*authDomain.Credential, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT account, access_token_ciphertext, refresh_token_ciphertext, updated_at
			  FROM sync_credentials WHERE account = ?`

	var credential authDomain.Credential
	var updatedAt int64
	err := querier.QueryRowContext(ctx, r.dialect.Rebind(query), account).Scan(
		&credential.Account,
		&credential.AccessTokenCiphertext,
		&credential.RefreshTokenCiphertext,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authDomain.ErrCredentialNotFound
		}
		return nil, apperrors.Storage(err, "failed to get credential")
	}
	credential.UpdatedAt = database.FromNanos(updatedAt)
	return &credential, nil
}

// Delete removes the credential of account. Deleting a missing account is not an error.
func (r *SQLCredentialRepository) Delete(ctx context.Context, account string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sync_credentials WHERE account = ?`), account)
	if err != nil {
		return apperrors.Storage(err, "failed to delete credential")
	}
	return nil
}
