package remote

import (
	"context"
	"sync"

	apperrors "github.com/allisson/offline-sync/internal/errors"
)

// ErrNoCredentials is returned by token stores that hold nothing yet.
var ErrNoCredentials = apperrors.Wrap(apperrors.ErrUnauthorized, "no stored credentials")

// Tokens is a bearer/refresh token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenStore loads and persists the client's credentials.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryTokenStore creates a store seeded with tokens.
func NewMemoryTokenStore(tokens Tokens) *MemoryTokenStore {
	return &MemoryTokenStore{tokens: tokens}
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load(ctx context.Context) (Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens.AccessToken == "" && s.tokens.RefreshToken == "" {
		return Tokens{}, ErrNoCredentials
	}
	return s.tokens, nil
}

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}
