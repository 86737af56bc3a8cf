package app

import (
	"context"
	"fmt"

	authRepository "github.com/allisson/offline-sync/internal/auth/repository"
	authService "github.com/allisson/offline-sync/internal/auth/service"
	"github.com/allisson/offline-sync/internal/remote"
)

// Keeper returns the secrets keeper that encrypts stored tokens.
func (c *Container) Keeper() (authService.Keeper, error) {
	var err error
	c.keeperInit.Do(func() {
		c.keeper, err = c.initKeeper()
		if err != nil {
			c.initErrors["keeper"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["keeper"]; exists {
		return nil, storedErr
	}
	return c.keeper, nil
}

// CredentialRepository returns the encrypted credential repository.
func (c *Container) CredentialRepository() (authService.CredentialRepository, error) {
	var err error
	c.credentialRepoInit.Do(func() {
		c.credentialRepo, err = c.initCredentialRepository()
		if err != nil {
			c.initErrors["credentialRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["credentialRepo"]; exists {
		return nil, storedErr
	}
	return c.credentialRepo, nil
}

// TokenVault returns the token store of the configured sync account.
func (c *Container) TokenVault() (*authService.TokenVault, error) {
	var err error
	c.tokenVaultInit.Do(func() {
		c.tokenVault, err = c.initTokenVault()
		if err != nil {
			c.initErrors["tokenVault"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["tokenVault"]; exists {
		return nil, storedErr
	}
	return c.tokenVault, nil
}

// RemoteClient returns the REST client for the sync backend.
func (c *Container) RemoteClient() (*remote.Client, error) {
	var err error
	c.remoteClientInit.Do(func() {
		c.remoteClient, err = c.initRemoteClient()
		if err != nil {
			c.initErrors["remoteClient"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["remoteClient"]; exists {
		return nil, storedErr
	}
	return c.remoteClient, nil
}

func (c *Container) initKeeper() (authService.Keeper, error) {
	keeper, err := authService.OpenKeeper(context.Background(), c.config.SecretsKeeperURI)
	if err != nil {
		return nil, err
	}
	return keeper, nil
}

func (c *Container) initCredentialRepository() (authService.CredentialRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for credential repository: %w", err)
	}
	return authRepository.NewSQLCredentialRepository(db, c.dialect), nil
}

func (c *Container) initTokenVault() (*authService.TokenVault, error) {
	keeper, err := c.Keeper()
	if err != nil {
		return nil, fmt.Errorf("failed to get keeper for token vault: %w", err)
	}

	repo, err := c.CredentialRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get credential repository for token vault: %w", err)
	}

	return authService.NewTokenVault(keeper, repo, c.config.SyncAccount), nil
}

func (c *Container) initRemoteClient() (*remote.Client, error) {
	vault, err := c.TokenVault()
	if err != nil {
		return nil, fmt.Errorf("failed to get token vault for remote client: %w", err)
	}

	return remote.NewClient(
		remote.Config{
			BaseURL:   c.config.RemoteBaseURL,
			Timeout:   c.config.RemoteRequestTimeout,
			RateLimit: c.config.RemoteRateLimitRequestsPerSec,
			RateBurst: c.config.RemoteRateLimitBurst,
		},
		vault,
		nil,
		c.Logger(),
	), nil
}
