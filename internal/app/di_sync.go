package app

import (
	"fmt"

	"github.com/allisson/offline-sync/internal/live"
	"github.com/allisson/offline-sync/internal/metrics"
	outboxRepository "github.com/allisson/offline-sync/internal/outbox/repository"
	outboxUsecase "github.com/allisson/offline-sync/internal/outbox/usecase"
	recordRepository "github.com/allisson/offline-sync/internal/record/repository"
	recordUsecase "github.com/allisson/offline-sync/internal/record/usecase"
	syncRepository "github.com/allisson/offline-sync/internal/sync/repository"
	syncUsecase "github.com/allisson/offline-sync/internal/sync/usecase"
)

// QueueUseCase returns the outbound queue shared by every domain.
func (c *Container) QueueUseCase() (outboxUsecase.UseCase, error) {
	var err error
	c.queueUseCaseInit.Do(func() {
		c.queueUseCase, err = c.initQueueUseCase()
		if err != nil {
			c.initErrors["queueUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["queueUseCase"]; exists {
		return nil, storedErr
	}
	return c.queueUseCase, nil
}

// CursorRepository returns the pull watermark repository.
func (c *Container) CursorRepository() (syncUsecase.CursorRepository, error) {
	var err error
	c.cursorRepoInit.Do(func() {
		c.cursorRepo, err = c.initCursorRepository()
		if err != nil {
			c.initErrors["cursorRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["cursorRepo"]; exists {
		return nil, storedErr
	}
	return c.cursorRepo, nil
}

// Stores returns the Local Store of every enabled domain.
func (c *Container) Stores() (recordUsecase.Stores, error) {
	var err error
	c.storesInit.Do(func() {
		c.stores, err = c.initStores()
		if err != nil {
			c.initErrors["stores"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["stores"]; exists {
		return nil, storedErr
	}
	return c.stores, nil
}

// Engine returns the sync engine wired with one manager, worker and live channel per domain.
func (c *Container) Engine() (*syncUsecase.Engine, error) {
	var err error
	c.engineInit.Do(func() {
		c.engine, err = c.initEngine()
		if err != nil {
			c.initErrors["engine"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["engine"]; exists {
		return nil, storedErr
	}
	return c.engine, nil
}

func (c *Container) initQueueUseCase() (outboxUsecase.UseCase, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for queue use case: %w", err)
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for queue use case: %w", err)
	}

	useCaseConfig := outboxUsecase.Config{
		BatchSize:   c.config.QueueBatchSize,
		BackoffBase: c.config.QueueBackoffBase,
		BackoffCap:  c.config.QueueBackoffCap,
		MaxRetries:  c.config.QueueMaxRetries,
	}

	queueRepo := outboxRepository.NewSQLQueueRepository(db, c.dialect)
	return outboxUsecase.NewQueueUseCase(useCaseConfig, txManager, queueRepo, c.Logger()), nil
}

func (c *Container) initCursorRepository() (syncUsecase.CursorRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for cursor repository: %w", err)
	}
	return syncRepository.NewSQLCursorRepository(db, c.dialect), nil
}

func (c *Container) initStores() (recordUsecase.Stores, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for stores: %w", err)
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for stores: %w", err)
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}

	queue, err := c.QueueUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue use case for stores: %w", err)
	}

	var businessMetrics metrics.BusinessMetrics
	if c.config.MetricsEnabled {
		businessMetrics, err = c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for stores: %w", err)
		}
	}

	recordRepo := recordRepository.NewSQLRecordRepository(db, c.dialect)
	stores := make(recordUsecase.Stores, len(registry.Names()))
	for _, domainAdapter := range registry.All() {
		var store recordUsecase.UseCase = recordUsecase.NewRecordUseCase(
			domainAdapter,
			txManager,
			recordRepo,
			queue,
			c.config.OwnerID,
			c.Logger(),
		)
		if businessMetrics != nil {
			store = recordUsecase.NewRecordUseCaseWithMetrics(store, domainAdapter.Name(), businessMetrics)
		}
		stores[domainAdapter.Name()] = store
	}
	return stores, nil
}

func (c *Container) initEngine() (*syncUsecase.Engine, error) {
	logger := c.Logger()

	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}

	stores, err := c.Stores()
	if err != nil {
		return nil, err
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for sync engine: %w", err)
	}

	queue, err := c.QueueUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue use case for sync engine: %w", err)
	}

	cursors, err := c.CursorRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor repository for sync engine: %w", err)
	}

	remoteClient, err := c.RemoteClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get remote client for sync engine: %w", err)
	}

	syncMetrics, err := c.SyncMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metrics for sync engine: %w", err)
	}

	managerConfig := syncUsecase.Config{
		BatchSize:          c.config.QueueBatchSize,
		MaxBatchesPerCycle: c.config.SyncMaxBatchesPerCycle,
		PullLimit:          c.config.SyncPullLimit,
		CycleTimeout:       c.config.SyncCycleTimeout,
	}
	liveConfig := live.Config{
		BaseURL:          c.config.LiveURL(),
		ReconnectDelay:   c.config.LiveReconnectDelay,
		MaxBackoff:       c.config.LiveMaxBackoff,
		MaxAuthFailures:  c.config.LiveMaxAuthFailures,
		AuthCloseCode:    c.config.LiveAuthCloseCode,
		HandshakeTimeout: c.config.LiveHandshakeTimeout,
		PingInterval:     c.config.LivePingInterval,
		HeartbeatTimeout: c.config.LiveHeartbeatTimeout,
	}

	domains := make([]syncUsecase.EngineDomain, 0, len(registry.Names()))
	for _, domainAdapter := range registry.All() {
		store, err := stores.Get(domainAdapter.Name())
		if err != nil {
			return nil, err
		}

		manager := syncUsecase.NewManager(
			domainAdapter,
			managerConfig,
			txManager,
			store,
			queue,
			cursors,
			remoteClient,
			syncMetrics,
			logger,
		)
		worker := syncUsecase.NewWorker(manager, c.config.SyncInterval, logger)

		engineDomain := syncUsecase.EngineDomain{Manager: manager, Worker: worker}
		if c.config.LiveEnabled {
			vault, err := c.TokenVault()
			if err != nil {
				return nil, fmt.Errorf("failed to get token vault for live channel: %w", err)
			}
			engineDomain.Channel = live.NewChannel(liveConfig, domainAdapter.Name(), vault, worker, logger)
		}
		domains = append(domains, engineDomain)
	}

	return syncUsecase.NewEngine(domains, logger), nil
}
