// Package typehandler converts raw driver values into Go values.
//
// A Registry resolves a Handler from a target Go type and a column type name,
// from either one alone, and finally falls back to the unknown handler, which
// picks a conversion from the column's type class.
package typehandler

import (
	"database/sql"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"rowgraph/internal/sqltype"
)

// Handler converts one raw column value. A nil raw value yields nil.
type Handler interface {
	Result(raw any) (any, error)
}

// Func adapts a function to Handler.
type Func func(raw any) (any, error)

// Result calls f unless raw is nil.
func (f Func) Result(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return f(raw)
}

var (
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// Registry holds handlers keyed by Go type and column type class.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]map[sqltype.Class]Handler
	byClass map[sqltype.Class]Handler
}

// NewRegistry returns a registry with handlers for the builtin scalar types,
// time.Time, []byte and uuid.UUID.
func NewRegistry() *Registry {
	r := &Registry{
		byType:  make(map[reflect.Type]map[sqltype.Class]Handler),
		byClass: make(map[sqltype.Class]Handler),
	}
	r.Register(reflect.TypeOf(""), Func(toString))
	r.Register(reflect.TypeOf(false), Func(toBool))
	r.Register(reflect.TypeOf(int64(0)), Func(toInt64))
	r.Register(reflect.TypeOf(uint64(0)), Func(toUint64))
	r.Register(reflect.TypeOf(float64(0)), Func(toFloat64))
	r.Register(reflect.TypeOf(time.Time{}), Func(toTime))
	r.Register(reflect.TypeOf([]byte(nil)), Func(toBytes))
	r.Register(reflect.TypeOf(uuid.UUID{}), Func(toUUID))
	r.Register(anyType, unknownHandler{class: sqltype.Unknown})

	for _, class := range []sqltype.Class{
		sqltype.Integer, sqltype.Float, sqltype.Decimal, sqltype.Boolean, sqltype.String,
		sqltype.Binary, sqltype.Temporal, sqltype.JSON, sqltype.UUID,
	} {
		r.byClass[class] = unknownHandler{class: class}
	}
	return r
}

// Register installs h for target type t regardless of column type.
func (r *Registry) Register(t reflect.Type, h Handler) {
	r.RegisterFor(t, sqltype.Unknown, h)
}

// RegisterFor installs h for target type t when reading columns of the given class.
func (r *Registry) RegisterFor(t reflect.Type, class sqltype.Class, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers, ok := r.byType[t]
	if !ok {
		handlers = make(map[sqltype.Class]Handler)
		r.byType[t] = handlers
	}
	handlers[class] = h
}

// HasType reports whether a handler exists for t with no column information.
func (r *Registry) HasType(t reflect.Type) bool {
	return r.lookup(t, sqltype.Unknown) != nil
}

// Has reports whether a handler exists for t when reading a column of the given type name.
func (r *Registry) Has(t reflect.Type, columnType string) bool {
	return r.lookup(t, sqltype.Classify(columnType)) != nil
}

// Resolve returns the handler for t and the column type name. A nil or interface
// target resolves by column type; when nothing matches the unknown handler is used.
func (r *Registry) Resolve(t reflect.Type, columnType string) Handler {
	class := sqltype.Classify(columnType)
	if t != nil && t != anyType {
		if h := r.lookup(t, class); h != nil {
			return h
		}
	}
	r.mu.RLock()
	h, ok := r.byClass[class]
	r.mu.RUnlock()
	if ok {
		return h
	}
	return Unknown()
}

// Unknown returns the fallback handler.
func Unknown() Handler {
	return unknownHandler{class: sqltype.Unknown}
}

func (r *Registry) lookup(t reflect.Type, class sqltype.Class) Handler {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	handlers, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return pick(handlers, class)
	}
	if reflect.PointerTo(t).Implements(scannerType) {
		return scannerHandler{typ: t}
	}
	base := kindBase(t)
	if base == nil {
		return nil
	}
	r.mu.RLock()
	handlers, ok = r.byType[base]
	r.mu.RUnlock()
	if ok {
		return pick(handlers, class)
	}
	return nil
}

func pick(handlers map[sqltype.Class]Handler, class sqltype.Class) Handler {
	if h, ok := handlers[class]; ok {
		return h
	}
	return handlers[sqltype.Unknown]
}

// kindBase maps named and sized scalar types to the registered base type of the
// same kind; the setter converts the result back to the declared type.
func kindBase(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.String:
		return reflect.TypeOf("")
	case reflect.Bool:
		return reflect.TypeOf(false)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.TypeOf(int64(0))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflect.TypeOf(uint64(0))
	case reflect.Float32, reflect.Float64:
		return reflect.TypeOf(float64(0))
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return reflect.TypeOf([]byte(nil))
		}
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return anyType
		}
	}
	return nil
}
