// Package domain defines the stored credential of the sync account.
package domain

import (
	"time"

	"github.com/allisson/offline-sync/internal/errors"
)

// Credential holds the encrypted bearer and refresh tokens for one account. Plaintext
// tokens never reach the database.
type Credential struct {
	Account                string
	AccessTokenCiphertext  []byte
	RefreshTokenCiphertext []byte
	UpdatedAt              time.Time
}

var (
	// ErrCredentialNotFound indicates no tokens are stored for the account.
	ErrCredentialNotFound = errors.Wrap(errors.ErrNotFound, "credential not found")

	// ErrCredentialUnreadable indicates stored tokens no longer decrypt, typically after
	// the keeper key was rotated. The user has to log in again.
	ErrCredentialUnreadable = errors.Wrap(errors.ErrUnauthorized, "stored credential cannot be decrypted")
)
