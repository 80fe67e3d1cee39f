// Package runapp owns the lifecycle of one rowgraph invocation: providers,
// database pool, mapping registry, executor session and the optional
// metrics listener.
package runapp

import (
	"fmt"
	"sync"

	"rowgraph/internal/config"
	"rowgraph/internal/dbconn"
	"rowgraph/internal/executor"
	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/observability"
)

// App owns runtime resources for the rowgraph command.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	metrics        *observability.MaterializeMetrics

	conn     *dbconn.Connection
	registry *mapping.Registry
	session  *executor.Session

	metricsAddr string

	cleanup releaseStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Session returns the executor session opened by Init.
func (a *App) Session() *executor.Session {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.session
}
