package materialize

import (
	"context"
	"log/slog"
	"reflect"

	"rowgraph/internal/lazy"
	"rowgraph/internal/mapping"
	"rowgraph/internal/rowkey"
)

// deferredValue marks a property whose value arrives later: a lazy slot, a
// deferred load or a pending cross-result-set link.
type deferredValue struct{}

var deferred any = deferredValue{}

func (h *Handler) nestedStatement(m *mapping.ColumnMapping) (*mapping.Statement, error) {
	if h.exec == nil {
		return nil, configErrorf(m.NestedQueryID, "nested query for property %q needs an executor", m.Property)
	}
	stmt, ok := h.mappings.Statement(m.NestedQueryID)
	if !ok {
		return nil, configErrorf(m.NestedQueryID, "unknown nested statement for property %q", m.Property)
	}
	return stmt, nil
}

// nestedQueryValue returns the value of a nested-query property: the eager
// result, or deferred when the value is cached by an outer query or lazy.
func (h *Handler) nestedQueryValue(ctx context.Context, rs *resultSet, owner any, m *mapping.ColumnMapping, prefix string, st *rowState) (any, error) {
	stmt, err := h.nestedStatement(m)
	if err != nil {
		return nil, err
	}
	param, err := h.nestedQueryParameter(rs, m, stmt, prefix)
	if err != nil || param == nil {
		return nil, err
	}
	key, err := h.exec.CreateCacheKey(stmt, param, DefaultBounds())
	if err != nil {
		return nil, err
	}
	target := m.GoType

	if h.exec.IsCached(key) {
		h.logger.DebugContext(ctx, "deferring load of cached nested query",
			slog.String("statement", stmt.ID),
			slog.String("property", m.Property),
		)
		if err := h.exec.DeferLoad(stmt, owner, m.Property, key, target); err != nil {
			return nil, err
		}
		return deferred, nil
	}

	if m.Lazy || h.settings.LazyLoadingEnabled {
		bound, err := h.bindLazy(owner, m, stmt, param, key, target)
		if err != nil {
			return nil, err
		}
		if bound {
			st.lazy++
			return deferred, nil
		}
	}

	list, err := h.exec.Query(ctx, stmt, param, key)
	if err != nil {
		return nil, err
	}
	value, err := lazy.Extract(list, target)
	if err != nil {
		return nil, configErrorf(stmt.ID, "nested query for property %q: %v", m.Property, err)
	}
	if assigned, err := h.assignSlot(owner, m, value); assigned || err != nil {
		return deferred, err
	}
	return value, nil
}

// nestedQueryConstructorValue runs a nested query for a constructor argument.
// Constructor arguments are always loaded eagerly.
func (h *Handler) nestedQueryConstructorValue(ctx context.Context, rs *resultSet, m *mapping.ColumnMapping, prefix string) (any, error) {
	stmt, err := h.nestedStatement(m)
	if err != nil {
		return nil, err
	}
	param, err := h.nestedQueryParameter(rs, m, stmt, prefix)
	if err != nil || param == nil {
		return nil, err
	}
	key, err := h.exec.CreateCacheKey(stmt, param, DefaultBounds())
	if err != nil {
		return nil, err
	}
	list, err := h.exec.Query(ctx, stmt, param, key)
	if err != nil {
		return nil, err
	}
	value, err := lazy.Extract(list, m.GoType)
	if err != nil {
		return nil, configErrorf(stmt.ID, "nested query for constructor argument %q: %v", m.Property, err)
	}
	return value, nil
}

// bindLazy installs a loader into the slot behind m. Map owners receive a
// *lazy.Slot[any]; owners whose property is not a slot report false.
func (h *Handler) bindLazy(owner any, m *mapping.ColumnMapping, stmt *mapping.Statement, param any, key *rowkey.Key, target reflect.Type) (bool, error) {
	cls := h.classes.Of(owner)
	req := lazy.Request{StatementID: stmt.ID, Param: param, Key: key}
	loader := lazy.NewLoader(h.exec.ExecutionContext(), req, target, h.observeLazy)
	if cls.IsMap() {
		return true, h.classes.Set(owner, m.Property, lazy.NewPending(loader))
	}
	if _, ok := lazy.ValueType(cls.SetterType(m.Property)); !ok {
		return false, nil
	}
	addr, err := h.classes.Addr(owner, m.Property)
	if err != nil {
		return false, err
	}
	return lazy.Bind(addr, loader), nil
}

// assignSlot stores an eagerly loaded value into a slot property.
func (h *Handler) assignSlot(owner any, m *mapping.ColumnMapping, value any) (bool, error) {
	cls := h.classes.Of(owner)
	if cls.IsMap() {
		return false, nil
	}
	if _, ok := lazy.ValueType(cls.SetterType(m.Property)); !ok {
		return false, nil
	}
	addr, err := h.classes.Addr(owner, m.Property)
	if err != nil {
		return false, err
	}
	return lazy.Assign(addr, value)
}

func (h *Handler) observeLazy(ctx context.Context, req lazy.Request, fresh bool) {
	if fresh {
		h.logger.DebugContext(ctx, "lazy load ran on a fresh execution context", slog.String("statement", req.StatementID))
	}
	if h.metrics != nil {
		h.metrics.RecordLazyLoad(ctx, req.StatementID, fresh)
	}
}

// nestedQueryParameter builds the parameter of a nested query from the
// current row: a single converted column, or a map or struct of composite
// columns. It returns nil when no column holds a value.
func (h *Handler) nestedQueryParameter(rs *resultSet, m *mapping.ColumnMapping, stmt *mapping.Statement, prefix string) (any, error) {
	if !m.IsComposite() {
		column := prefixed(m.Column, prefix)
		return rs.read(rs.handler(stmt.ParamType, column), column)
	}

	paramType := stmt.ParamType
	if paramType == nil {
		paramType = reflect.TypeOf(map[string]any{})
	}
	param, err := h.objects.Create(paramType)
	if err != nil {
		return nil, configErrorf(stmt.ID, "cannot create parameter: %v", err)
	}
	cls := h.classes.For(paramType)
	found := false
	for i := range m.Composites {
		c := &m.Composites[i]
		column := prefixed(c.Column, prefix)
		v, err := rs.read(rs.handler(cls.SetterType(c.Property), column), column)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := h.classes.Set(param, c.Property, v); err != nil {
			return nil, err
		}
		found = true
	}
	if !found {
		return nil, nil
	}
	return param, nil
}
