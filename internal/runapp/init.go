package runapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"rowgraph/internal/dbconn"
	"rowgraph/internal/executor"
)

// Init acquires every runtime resource. It is idempotent. On failure the
// resources acquired so far are released again.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := releaseStack{}
	success := false
	defer func() {
		if !success {
			cleanup.unwind(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.add("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.add("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.add("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	registry, err := loadMappings(a.cfg.Mappings.File, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load mapping definitions: %w", err)
	}

	settings, err := a.cfg.Engine.Settings()
	if err != nil {
		return err
	}
	scope, err := a.cfg.Engine.CacheScope()
	if err != nil {
		return err
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.String("database", a.cfg.Database.Database),
	)
	conn, err := dbconn.Open(ctx, a.cfg.Database, instrumentation(a.cfg), a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.add("database", func(context.Context) error {
		return conn.Close()
	})

	factory, err := executor.NewFactory(executor.Config{
		DB:         conn.Exec,
		Dialect:    conn.Dialect,
		Mappings:   registry,
		Settings:   &settings,
		CacheScope: scope,
		Logger:     a.logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	session := factory.Open()
	cleanup.add("session", func(context.Context) error {
		return session.Close()
	})

	var metricsAddr string
	if addr := a.cfg.Run.MetricsListen; addr != "" {
		if meterProvider == nil {
			return errors.New("run.metrics_listen requires observability.metrics_enabled")
		}
		srv, ln, err := listenMetrics(addr, meterProvider, a.logger)
		if err != nil {
			return err
		}
		var g errgroup.Group
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		cleanup.add("metrics server", func(shutdownCtx context.Context) error {
			return errors.Join(srv.Shutdown(shutdownCtx), g.Wait())
		})
		a.logger.Info("serving metrics",
			slog.String("address", ln.Addr().String()),
			slog.String("metrics_endpoint", "/metrics"),
		)
		metricsAddr = ln.Addr().String()
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.conn = conn
	a.registry = registry
	a.session = session
	a.metricsAddr = metricsAddr
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}

// MetricsAddr is the bound address of the metrics listener, or empty.
func (a *App) MetricsAddr() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.metricsAddr
}
