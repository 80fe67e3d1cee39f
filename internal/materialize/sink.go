package materialize

import (
	"fmt"
	"reflect"

	"rowgraph/internal/meta"
)

// ResultContext carries the object just materialized to a Sink.
type ResultContext struct {
	object  any
	count   int
	stopped bool
}

// Object returns the latest top-level object. It may be nil for empty rows.
func (c *ResultContext) Object() any {
	return c.object
}

// Count is the number of objects delivered so far, the current one included.
func (c *ResultContext) Count() int {
	return c.count
}

// Stop ends the row scan after the current object.
func (c *ResultContext) Stop() {
	c.stopped = true
}

// Stopped reports whether Stop was called.
func (c *ResultContext) Stopped() bool {
	return c.stopped
}

func (c *ResultContext) next(obj any) {
	c.object = obj
	c.count++
}

// Sink receives every top-level object in arrival order.
type Sink interface {
	Handle(rc *ResultContext) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rc *ResultContext) error

func (f SinkFunc) Handle(rc *ResultContext) error {
	return f(rc)
}

// ListSink collects every object.
type ListSink struct {
	list []any
}

func (s *ListSink) Handle(rc *ResultContext) error {
	s.list = append(s.list, rc.Object())
	return nil
}

// List returns the collected objects; it is never nil.
func (s *ListSink) List() []any {
	if s.list == nil {
		return []any{}
	}
	return s.list
}

// MapSink indexes objects by the value of one of their properties. Key may
// be a dotted path. A later object with the same key replaces the earlier
// one; nil objects are skipped.
type MapSink struct {
	Classes *meta.Registry
	Key     string

	m map[any]any
}

func (s *MapSink) Handle(rc *ResultContext) error {
	return s.Add(rc.Object())
}

// Add indexes one object.
func (s *MapSink) Add(obj any) error {
	if obj == nil {
		return nil
	}
	classes := s.Classes
	if classes == nil {
		classes = meta.Default()
	}
	k, err := classes.Get(obj, s.Key)
	if err != nil {
		return fmt.Errorf("map key %q: %w", s.Key, err)
	}
	if k != nil && !reflect.ValueOf(k).Comparable() {
		return fmt.Errorf("map key %q: %T value cannot be used as a key", s.Key, k)
	}
	if s.m == nil {
		s.m = make(map[any]any)
	}
	s.m[k] = obj
	return nil
}

// Map returns the indexed objects; it is never nil.
func (s *MapSink) Map() map[any]any {
	if s.m == nil {
		return map[any]any{}
	}
	return s.m
}
