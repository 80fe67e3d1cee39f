package lazy

import (
	"context"
	"fmt"
	"reflect"

	"rowgraph/internal/meta"
	"rowgraph/internal/rowkey"
)

// Request identifies one nested query execution.
type Request struct {
	StatementID string
	Param       any
	Key         *rowkey.Key
}

// ExecutionContext is the session a loader runs its query on. TryEnter fails
// while the session is closed or busy with another call; the loader then forks
// a fresh context for the one query and closes it afterwards.
type ExecutionContext interface {
	TryEnter() bool
	Exit()
	Load(ctx context.Context, req Request) ([]any, error)
	Fork(ctx context.Context) (ExecutionContext, error)
	Close() error
}

// Observer is notified after every load; fresh reports a forked context.
type Observer func(ctx context.Context, req Request, fresh bool)

// Loader runs a deferred nested query and extracts its result for a target type.
type Loader struct {
	exec    ExecutionContext
	req     Request
	target  reflect.Type
	observe Observer
}

// NewLoader returns a loader for req whose result is extracted to target.
func NewLoader(exec ExecutionContext, req Request, target reflect.Type, observe Observer) *Loader {
	return &Loader{exec: exec, req: req, target: target, observe: observe}
}

// Request returns the query the loader runs.
func (l *Loader) Request() Request {
	return l.req
}

// Load executes the query and extracts the value.
func (l *Loader) Load(ctx context.Context) (any, error) {
	list, fresh, err := l.run(ctx)
	if err != nil {
		return nil, err
	}
	if l.observe != nil {
		l.observe(ctx, l.req, fresh)
	}
	return Extract(list, l.target)
}

func (l *Loader) run(ctx context.Context) ([]any, bool, error) {
	if l.exec.TryEnter() {
		defer l.exec.Exit()
		list, err := l.exec.Load(ctx, l.req)
		return list, false, err
	}
	fresh, err := l.exec.Fork(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("failed to open context for lazy load of %s: %w", l.req.StatementID, err)
	}
	defer func() { _ = fresh.Close() }()
	if !fresh.TryEnter() {
		return nil, true, fmt.Errorf("fresh context for %s is not usable", l.req.StatementID)
	}
	defer fresh.Exit()
	list, err := fresh.Load(ctx, l.req)
	return list, true, err
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// Extract turns a query result list into a value for target. Slices receive
// the converted list, untyped targets receive the list itself, and any other
// target receives the single element, or nil when there are no rows.
func Extract(list []any, target reflect.Type) (any, error) {
	if target != nil {
		if vt, ok := ValueType(target); ok {
			target = vt
		}
	}
	switch {
	case target == nil || target == anyType:
		return list, nil
	case target.Kind() == reflect.Slice && target.Elem().Kind() != reflect.Uint8:
		return meta.Convert(list, target)
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	}
	return nil, fmt.Errorf("statement returned more than one row, where no more than one was expected")
}
