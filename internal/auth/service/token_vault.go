package service

import (
	"context"
	"fmt"
	"time"

	authDomain "github.com/allisson/offline-sync/internal/auth/domain"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/remote"
)

// CredentialRepository persists encrypted credentials.
type CredentialRepository interface {
	Upsert(ctx context.Context, credential *authDomain.Credential) error
	Get(ctx context.Context, account string) (*authDomain.Credential, error)
	Delete(ctx context.Context, account string) error
}

// TokenVault is a remote.TokenStore that keeps one account's tokens encrypted by a Keeper.
type TokenVault struct {
	keeper  Keeper
	repo    CredentialRepository
	account string
	now     func() time.Time
}

// NewTokenVault creates a new TokenVault
func NewTokenVault(keeper Keeper, repo CredentialRepository, account string) *TokenVault {
	return &TokenVault{
		keeper:  keeper,
		repo:    repo,
		account: account,
		now:     time.Now,
	}
}

// Load decrypts the stored tokens. Returns remote.ErrNoCredentials when nothing is stored.
func (v *TokenVault) Load(ctx context.Context) (remote.Tokens, error) {
	credential, err := v.repo.Get(ctx, v.account)
	if err != nil {
		if apperrors.Is(err, authDomain.ErrCredentialNotFound) {
			return remote.Tokens{}, remote.ErrNoCredentials
		}
		return remote.Tokens{}, err
	}

	accessToken, err := v.keeper.Decrypt(ctx, credential.AccessTokenCiphertext)
	if err != nil {
		return remote.Tokens{}, fmt.Errorf("failed to decrypt access token: %w: %w", authDomain.ErrCredentialUnreadable, err)
	}
	refreshToken, err := v.keeper.Decrypt(ctx, credential.RefreshTokenCiphertext)
	if err != nil {
		return remote.Tokens{}, fmt.Errorf("failed to decrypt refresh token: %w: %w", authDomain.ErrCredentialUnreadable, err)
	}

	return remote.Tokens{AccessToken: string(accessToken), RefreshToken: string(refreshToken)}, nil
}

// Save encrypts and stores tokens, replacing the previous pair.
func (v *TokenVault) Save(ctx context.Context, tokens remote.Tokens) error {
	if tokens.AccessToken == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "access token is required")
	}

	accessCiphertext, err := v.keeper.Encrypt(ctx, []byte(tokens.AccessToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshCiphertext, err := v.keeper.Encrypt(ctx, []byte(tokens.RefreshToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return v.repo.Upsert(ctx, &authDomain.Credential{
		Account:                v.account,
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		UpdatedAt:              v.now().UTC(),
	})
}

// Clear forgets the stored tokens.
func (v *TokenVault) Clear(ctx context.Context) error {
	return v.repo.Delete(ctx, v.account)
}
