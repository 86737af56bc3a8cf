package usecase

import (
	"sort"

	"github.com/allisson/offline-sync/internal/adapter"
	apperrors "github.com/allisson/offline-sync/internal/errors"
)

// Stores indexes Local Stores by domain name.
type Stores map[string]UseCase

// Get returns the store for domainName or adapter.ErrUnknownDomain.
func (s Stores) Get(domainName string) (UseCase, error) {
	store, ok := s[domainName]
	if !ok {
		return nil, apperrors.Wrapf(adapter.ErrUnknownDomain, "%s", domainName)
	}
	return store, nil
}

// Names returns the domain names in lexical order.
func (s Stores) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
