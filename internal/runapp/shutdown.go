package runapp

import (
	"context"
	"log/slog"

	"rowgraph/internal/logging"
)

// releaseStack holds the closers registered during Init. Unwinding runs them
// last-registered first and keeps going past failures.
type releaseStack struct {
	steps []releaseStep
}

type releaseStep struct {
	component string
	release   func(context.Context) error
}

func (s *releaseStack) add(component string, release func(context.Context) error) {
	s.steps = append(s.steps, releaseStep{component: component, release: release})
}

func (s *releaseStack) unwind(ctx context.Context, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		logger.Debug("releasing component", slog.String("component", step.component))
		if err := step.release(ctx); err != nil {
			logger.Warn("component did not release cleanly",
				slog.String("component", step.component),
				slog.Any("error", err),
			)
		}
	}
}

// Shutdown unwinds whatever Init acquired. Only the first call does any work;
// release failures are logged, never returned.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		acquired := a.cleanup
		a.initialized = false
		a.stateMu.Unlock()

		acquired.unwind(ctx, a.logger)
	})
	return nil
}
