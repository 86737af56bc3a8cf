package app

import (
	"fmt"

	"github.com/allisson/offline-sync/internal/http"
	recordHTTP "github.com/allisson/offline-sync/internal/record/http"
	syncHTTP "github.com/allisson/offline-sync/internal/sync/http"
)

// RecordHandler returns the HTTP handler for local record operations.
func (c *Container) RecordHandler() (*recordHTTP.RecordHandler, error) {
	var err error
	c.recordHandlerInit.Do(func() {
		c.recordHandler, err = c.initRecordHandler()
		if err != nil {
			c.initErrors["recordHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["recordHandler"]; exists {
		return nil, storedErr
	}
	return c.recordHandler, nil
}

// SyncHandler returns the HTTP handler for sync status and controls.
func (c *Container) SyncHandler() (*syncHTTP.SyncHandler, error) {
	var err error
	c.syncHandlerInit.Do(func() {
		c.syncHandler, err = c.initSyncHandler()
		if err != nil {
			c.initErrors["syncHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["syncHandler"]; exists {
		return nil, storedErr
	}
	return c.syncHandler, nil
}

// HTTPServer returns the local API server.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

func (c *Container) initRecordHandler() (*recordHTTP.RecordHandler, error) {
	stores, err := c.Stores()
	if err != nil {
		return nil, fmt.Errorf("failed to get stores for record handler: %w", err)
	}
	return recordHTTP.NewRecordHandler(stores, c.Logger()), nil
}

func (c *Container) initSyncHandler() (*syncHTTP.SyncHandler, error) {
	engine, err := c.Engine()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync engine for sync handler: %w", err)
	}
	return syncHTTP.NewSyncHandler(engine, c.Logger()), nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	recordHandler, err := c.RecordHandler()
	if err != nil {
		return nil, err
	}

	syncHandler, err := c.SyncHandler()
	if err != nil {
		return nil, err
	}

	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(c.config, recordHandler, syncHandler, metricsProvider, registry.Names())

	return server, nil
}

func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, nil
	}
	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
