// Package lazy defers nested queries until a property is first read.
//
// A struct field declared as Slot[T] is either resolved (holding a T) or pending
// (holding a Loader). The materializer binds a Loader into pending slots; Get
// runs it once and caches the converted result.
package lazy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"rowgraph/internal/meta"
)

// Slot holds a value of type T that may still need to be loaded.
// The zero value is resolved to the zero T.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	loader *Loader
}

// Resolved returns a slot already holding v.
func Resolved[T any](v T) *Slot[T] {
	return &Slot[T]{value: v}
}

// Get returns the value, running the pending loader on first use. A failed
// load leaves the slot pending so a later Get can retry.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loader == nil {
		return s.value, nil
	}
	raw, err := s.loader.Load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := meta.Convert(raw, reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, fmt.Errorf("lazy value for %s: %w", s.loader.req.StatementID, err)
	}
	s.value, _ = v.(T)
	s.loader = nil
	return s.value, nil
}

// Set resolves the slot to v, discarding any pending loader.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.loader = nil
}

// Pending reports whether a loader still has to run.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loader != nil
}

// Peek returns the current value without loading; ok is false while pending.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.loader == nil
}

// MarshalJSON encodes the resolved value, or null while pending.
func (s *Slot[T]) MarshalJSON() ([]byte, error) {
	v, ok := s.Peek()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (s *Slot[T]) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loader != nil {
		return "<pending " + s.loader.req.StatementID + ">"
	}
	return fmt.Sprint(s.value)
}

func (s *Slot[T]) bind(l *Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = l
}

func (s *Slot[T]) assign(v any) error {
	c, err := meta.Convert(v, reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	t, _ := c.(T)
	s.Set(t)
	return nil
}

func (s *Slot[T]) valueType() reflect.Type {
	return reflect.TypeFor[T]()
}

type binder interface {
	bind(l *Loader)
	assign(v any) error
	valueType() reflect.Type
}

var binderType = reflect.TypeOf((*binder)(nil)).Elem()

// ValueType reports whether t is a Slot type and returns the type it holds.
// Pointers to slots qualify as well.
func ValueType(t reflect.Type) (reflect.Type, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer && t.Implements(binderType) {
		return reflect.Zero(t).Interface().(binder).valueType(), true
	}
	if reflect.PointerTo(t).Implements(binderType) {
		return reflect.New(t).Interface().(binder).valueType(), true
	}
	return nil, false
}

// slotAt returns the slot addressed by addr, which must be a *Slot[T] or a
// **Slot[T]; a nil slot pointer is allocated.
func slotAt(addr any) (binder, bool) {
	if b, ok := addr.(binder); ok {
		return b, true
	}
	rv := reflect.ValueOf(addr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, false
	}
	inner := rv.Elem()
	if inner.Kind() != reflect.Pointer || !inner.Type().Implements(binderType) {
		return nil, false
	}
	if inner.IsNil() {
		inner.Set(reflect.New(inner.Type().Elem()))
	}
	return inner.Interface().(binder), true
}

// Bind installs l into the slot addressed by addr.
func Bind(addr any, l *Loader) bool {
	b, ok := slotAt(addr)
	if ok {
		b.bind(l)
	}
	return ok
}

// Assign resolves the slot addressed by addr to v, converted to the slot's type.
func Assign(addr any, v any) (bool, error) {
	b, ok := slotAt(addr)
	if !ok {
		return false, nil
	}
	return true, b.assign(v)
}

// NewPending returns a *Slot[any] bound to l, used for owners without typed fields.
func NewPending(l *Loader) *Slot[any] {
	s := &Slot[any]{}
	s.bind(l)
	return s
}
