// Package cursor streams materialized objects one at a time.
// A Cursor pulls rows from its source only when the caller asks for the next
// object, so a statement's full result never has to be held in memory.
package cursor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/materialize"
	"rowgraph/internal/observability"
	"rowgraph/internal/rowsource"
)

// State is the lifecycle position of a Cursor.
type State int

const (
	Created State = iota
	Open
	Closed
	Consumed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Consumed:
		return "consumed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// UsageError reports a cursor used out of order.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("cursor %s: %s", e.Op, e.Reason)
}

// RowHandler materializes rows of one descriptor into a sink.
// *materialize.Handler satisfies it.
type RowHandler interface {
	HandleRowValues(ctx context.Context, src rowsource.Source, d *mapping.Descriptor, sink materialize.Sink, bounds materialize.Bounds, parent *mapping.ColumnMapping) error
}

// Config holds what a Cursor reads from.
type Config struct {
	StatementID string
	Handler     RowHandler
	Source      rowsource.Source
	Descriptor  *mapping.Descriptor
	Bounds      materialize.Bounds
	Logger      *logging.Logger
	Metrics     *observability.MaterializeMetrics
}

// Cursor fetches one materialized object per step. It is not safe for
// concurrent use.
type Cursor struct {
	stmtID  string
	handler RowHandler
	src     rowsource.Source
	d       *mapping.Descriptor
	bounds  materialize.Bounds
	logger  *logging.Logger
	metrics *observability.MaterializeMetrics

	state      State
	iterTaken  bool
	index      int // index of the last fetched object, counted from the first row
	positioned bool
	holder     holder
	it         *Iterator
}

// holder keeps the one object a fetch produced and stops the scan.
type holder struct {
	object  any
	fetched bool
}

func (h *holder) Handle(rc *materialize.ResultContext) error {
	h.object = rc.Object()
	h.fetched = true
	rc.Stop()
	return nil
}

// New returns a cursor in the Created state. Nothing is read until the first fetch.
func New(cfg Config) *Cursor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	bounds := cfg.Bounds
	if bounds == (materialize.Bounds{}) {
		bounds = materialize.DefaultBounds()
	}
	c := &Cursor{
		stmtID:  cfg.StatementID,
		handler: cfg.Handler,
		src:     cfg.Source,
		d:       cfg.Descriptor,
		bounds:  bounds,
		logger:  logger,
		metrics: cfg.Metrics,
		index:   -1,
	}
	c.it = &Iterator{c: c, index: -1}
	return c
}

// State returns the lifecycle state.
func (c *Cursor) State() State { return c.state }

// IsOpen reports whether the cursor has started fetching and is not finished.
func (c *Cursor) IsOpen() bool { return c.state == Open }

// IsConsumed reports whether every object within the bounds was fetched.
func (c *Cursor) IsConsumed() bool { return c.state == Consumed }

// CurrentIndex is the offset plus the index of the last object returned by
// the iterator; -1 relative to the offset before the first one.
func (c *Cursor) CurrentIndex() int {
	return c.bounds.Offset + c.it.index
}

func (c *Cursor) closed() bool {
	return c.state == Closed || c.state == Consumed
}

// Close releases the source. Closing again does nothing.
func (c *Cursor) Close() error {
	if c.closed() {
		return nil
	}
	c.release()
	c.state = Closed
	return nil
}

func (c *Cursor) release() {
	if c.src == nil {
		return
	}
	if err := c.src.Close(); err != nil {
		c.logger.Debug("error closing cursor source", slog.String("statement", c.stmtID), slog.String("error", err.Error()))
	}
}

// Iterator returns the cursor's only iterator.
func (c *Cursor) Iterator() (*Iterator, error) {
	if c.iterTaken {
		return nil, &UsageError{Op: "iterator", Reason: "cannot open more than one iterator on a cursor"}
	}
	if c.closed() {
		return nil, &UsageError{Op: "iterator", Reason: "the cursor is already closed"}
	}
	c.iterTaken = true
	return c.it, nil
}

// All ranges over the remaining objects. A fetch error is yielded once and
// ends the sequence.
func (c *Cursor) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		it, err := c.Iterator()
		if err != nil {
			yield(nil, err)
			return
		}
		for {
			ok, err := it.HasNext(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			v, err := it.Next(ctx)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// fetchNextWithinBounds skips objects before the offset.
func (c *Cursor) fetchNextWithinBounds(ctx context.Context) (any, bool, error) {
	if err := c.position(ctx); err != nil {
		return nil, false, err
	}
	obj, fetched, err := c.fetchNext(ctx)
	for err == nil && fetched && c.index < c.bounds.Offset {
		obj, fetched, err = c.fetchNext(ctx)
	}
	return obj, fetched, err
}

// position moves a scrollable source straight to the offset when rows map to
// objects one to one.
func (c *Cursor) position(ctx context.Context) error {
	if c.positioned || c.closed() {
		return nil
	}
	c.positioned = true
	if c.bounds.Offset == 0 || c.d.HasNestedMappings() {
		return nil
	}
	p, ok := c.src.(rowsource.Positioner)
	if !ok {
		return nil
	}
	if _, err := p.Absolute(ctx, c.bounds.Offset); err != nil {
		c.fail()
		return &materialize.DriverError{StatementID: c.stmtID, Err: err}
	}
	c.index = c.bounds.Offset - 1
	return nil
}

func (c *Cursor) fetchNext(ctx context.Context) (any, bool, error) {
	if c.closed() {
		return nil, false, nil
	}
	c.holder = holder{}
	c.state = Open
	if !c.src.Closed() {
		if err := c.handler.HandleRowValues(ctx, c.src, c.d, &c.holder, materialize.DefaultBounds(), nil); err != nil {
			c.fail()
			return nil, false, err
		}
	}
	obj, fetched := c.holder.object, c.holder.fetched
	c.holder = holder{}
	if fetched {
		c.index++
		if c.metrics != nil {
			c.metrics.RecordCursorFetch(ctx, c.stmtID)
		}
	}
	if !fetched || c.index+1 == c.bounds.Offset+c.limit() {
		c.release()
		c.state = Consumed
	}
	return obj, fetched, nil
}

func (c *Cursor) limit() int {
	if c.bounds.Limit <= 0 || c.bounds.Limit > materialize.NoRowLimit-c.bounds.Offset {
		return materialize.NoRowLimit - c.bounds.Offset
	}
	return c.bounds.Limit
}

func (c *Cursor) fail() {
	c.release()
	c.state = Closed
}

// Iterator walks a Cursor with one object of lookahead.
type Iterator struct {
	c       *Cursor
	object  any
	fetched bool
	index   int
}

// HasNext fetches the next object if needed and reports whether there is one.
func (it *Iterator) HasNext(ctx context.Context) (bool, error) {
	if it.fetched {
		return true, nil
	}
	obj, fetched, err := it.c.fetchNextWithinBounds(ctx)
	if err != nil {
		return false, err
	}
	it.object, it.fetched = obj, fetched
	return fetched, nil
}

// Next returns the next object. Calling it past the end is a UsageError.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	if !it.fetched {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &UsageError{Op: "next", Reason: "no more elements"}
		}
	}
	v := it.object
	it.object, it.fetched = nil, false
	it.index++
	return v, nil
}
