package materialize

import (
	"context"
	"reflect"

	"rowgraph/internal/mapping"
)

// rowState collects what a row produced besides mapped property values.
type rowState struct {
	usedConstructor bool
	lazy            int
}

// isScalar reports whether rows of typ are read as one converted column.
func (h *Handler) isScalar(rs *resultSet, typ reflect.Type) bool {
	if len(rs.columns) == 1 {
		return h.types.Has(typ, rs.columns[0].TypeName)
	}
	return h.types.HasType(typ)
}

// createResultObject builds the instance for d, trying in order: a scalar
// read, the constructor mappings, the object factory and an automapped
// constructor.
func (h *Handler) createResultObject(ctx context.Context, rs *resultSet, d *mapping.Descriptor, prefix string, st *rowState) (any, error) {
	typ := d.Type()
	if h.isScalar(rs, typ) {
		return h.createScalar(rs, d, prefix)
	}
	if ctor := d.ConstructorMappings(); len(ctor) > 0 {
		obj, err := h.createWithConstructorMappings(ctx, rs, d, ctor, prefix)
		st.usedConstructor = obj != nil
		return obj, err
	}
	if typ.Kind() == reflect.Interface || h.classes.For(typ).DefaultConstructible() {
		obj, err := h.objects.Create(typ)
		if err != nil {
			return nil, configErrorf(d.ID(), "cannot create %s: %v", typ, err)
		}
		return obj, nil
	}
	if h.shouldAutoMap(d, false) {
		obj, err := h.createByConstructorSignature(rs, d)
		st.usedConstructor = obj != nil
		return obj, err
	}
	return nil, configErrorf(d.ID(), "do not know how to create an instance of %s", typ)
}

func (h *Handler) createScalar(rs *resultSet, d *mapping.Descriptor, prefix string) (any, error) {
	var column string
	if ms := d.Mappings(); len(ms) > 0 {
		column = prefixed(ms[0].Column, prefix)
	} else {
		column = rs.columns[0].Name
	}
	return rs.read(rs.handler(d.Type(), column), column)
}

func (h *Handler) createWithConstructorMappings(ctx context.Context, rs *resultSet, d *mapping.Descriptor, ctor []*mapping.ColumnMapping, prefix string) (any, error) {
	argTypes := make([]reflect.Type, 0, len(ctor))
	args := make([]any, 0, len(ctor))
	found := false
	for _, m := range ctor {
		var (
			value any
			err   error
		)
		switch {
		case m.NestedQueryID != "":
			value, err = h.nestedQueryConstructorValue(ctx, rs, m, prefix)
		case m.NestedMapID != "":
			nested, ok := h.mappings.Descriptor(m.NestedMapID)
			if !ok {
				return nil, configErrorf(d.ID(), "constructor argument %q references unknown descriptor %q", m.Property, m.NestedMapID)
			}
			value, err = h.getRowValue(ctx, rs, nested, columnPrefix(prefix, m))
		default:
			value, err = rs.readMapping(m, prefixed(m.Column, prefix))
		}
		if err != nil {
			return nil, err
		}
		argTypes = append(argTypes, m.GoType)
		args = append(args, value)
		found = found || value != nil
	}
	if !found {
		return nil, nil
	}
	obj, err := h.objects.CreateWithArgs(d.Type(), argTypes, args)
	if err != nil {
		return nil, configErrorf(d.ID(), "%v", err)
	}
	return obj, nil
}

// createByConstructorSignature binds columns by position to the only
// registered constructor, the one flagged for automapping, or the first whose
// parameters all have handlers for the column types.
func (h *Handler) createByConstructorSignature(rs *resultSet, d *mapping.Descriptor) (any, error) {
	ctors := h.classes.For(d.Type()).Constructors()
	chosen := -1
	if len(ctors) == 1 {
		chosen = 0
	} else {
		for i, c := range ctors {
			if c.Automap {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		for i, c := range ctors {
			if h.allowedByTypeHandlers(rs, c.ParamTypes()) {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		return nil, configErrorf(d.ID(), "no constructor found in %s matching columns %v", d.Type(), rs.names())
	}

	c := ctors[chosen]
	if len(c.Params) > len(rs.columns) {
		return nil, configErrorf(d.ID(), "constructor of %s takes %d arguments but the result set has %d columns",
			d.Type(), len(c.Params), len(rs.columns))
	}
	args := make([]any, len(c.Params))
	found := false
	for i, p := range c.Params {
		column := rs.columns[i].Name
		v, err := rs.read(rs.handler(p.Type, column), column)
		if err != nil {
			return nil, err
		}
		args[i] = v
		found = found || v != nil
	}
	if !found {
		return nil, nil
	}
	obj, err := h.objects.CreateWithArgs(d.Type(), c.ParamTypes(), args)
	if err != nil {
		return nil, configErrorf(d.ID(), "%v", err)
	}
	return obj, nil
}

func (h *Handler) allowedByTypeHandlers(rs *resultSet, params []reflect.Type) bool {
	if len(params) != len(rs.columns) {
		return false
	}
	for i, t := range params {
		if !h.types.Has(t, rs.columns[i].TypeName) {
			return false
		}
	}
	return true
}
