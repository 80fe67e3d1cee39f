package runapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"

	"rowgraph/internal/config"
	"rowgraph/internal/executor"
)

// dumper prints object graphs with cycles cut and pointer addresses hidden,
// so output is stable across runs.
var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Run executes the configured statement on the session opened by Init and
// writes the results to out.
func (a *App) Run(ctx context.Context, out io.Writer) error {
	a.stateMu.Lock()
	initialized := a.initialized
	a.stateMu.Unlock()
	if !initialized {
		return errors.New("app is not initialized")
	}

	run := a.cfg.Run
	if run.Statement == "" {
		return fmt.Errorf("no statement given; known statements: %s", strings.Join(a.registry.StatementIDs(), ", "))
	}
	if run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.Timeout)
		defer cancel()
	}

	param := buildParam(run)
	w := newResultWriter(run.Output, out)
	bounds := executor.WithBounds(run.Offset, run.Limit)
	start := time.Now()

	var count int
	var err error
	if run.Cursor {
		count, err = a.runCursor(ctx, run.Statement, param, bounds, w)
	} else {
		count, err = a.runList(ctx, run.Statement, param, bounds, w)
	}
	if err != nil {
		return fmt.Errorf("statement %s failed: %w", run.Statement, err)
	}

	a.logger.Info("statement complete",
		slog.String("statement", run.Statement),
		slog.Bool("cursor", run.Cursor),
		slog.Int("results", count),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (a *App) runList(ctx context.Context, id string, param any, bounds executor.SelectOption, w resultWriter) (int, error) {
	list, err := a.session.SelectList(ctx, id, param, bounds)
	if err != nil {
		return 0, err
	}
	return len(list), w.writeAll(list)
}

func (a *App) runCursor(ctx context.Context, id string, param any, bounds executor.SelectOption, w resultWriter) (n int, err error) {
	c, err := a.session.SelectCursor(ctx, id, param, bounds)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()

	for v, err := range c.All(ctx) {
		if err != nil {
			return n, err
		}
		if err := w.write(v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// resultWriter formats either a whole result list or one cursor item.
type resultWriter interface {
	writeAll(list []any) error
	write(v any) error
}

func newResultWriter(format string, out io.Writer) resultWriter {
	if format == config.OutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return jsonWriter{enc: enc}
	}
	return spewWriter{out: out}
}

type spewWriter struct {
	out io.Writer
}

func (w spewWriter) writeAll(list []any) error {
	dumper.Fdump(w.out, list)
	return nil
}

func (w spewWriter) write(v any) error {
	dumper.Fdump(w.out, v)
	return nil
}

// jsonWriter fails on cyclic graphs; spew output handles those.
type jsonWriter struct {
	enc *json.Encoder
}

func (w jsonWriter) writeAll(list []any) error {
	if list == nil {
		list = []any{}
	}
	return w.enc.Encode(list)
}

func (w jsonWriter) write(v any) error {
	return w.enc.Encode(v)
}
