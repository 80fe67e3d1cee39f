package materialize

import (
	"context"
	"strings"

	"rowgraph/internal/mapping"
	"rowgraph/internal/rowkey"
)

// applyNestedMappings resolves the same-row nested mappings of d into obj.
// newObject is false when obj was created by an earlier row with the same identity.
func (h *Handler) applyNestedMappings(ctx context.Context, rs *resultSet, d *mapping.Descriptor, obj any, parentPrefix string, parentKey *rowkey.Key, newObject bool) (bool, error) {
	found := false
	for _, m := range d.PropertyMappings() {
		if m.NestedMapID == "" || m.ResultSet != "" {
			continue
		}
		prefix := columnPrefix(parentPrefix, m)
		declared, ok := h.mappings.Descriptor(m.NestedMapID)
		if !ok {
			return false, configErrorf(d.ID(), "property %q references unknown descriptor %q", m.Property, m.NestedMapID)
		}
		nested, err := h.resolveDiscriminated(ctx, rs, declared, prefix)
		if err != nil {
			return false, err
		}

		if m.ColumnPrefix == "" {
			if ancestor, ok := h.ancestors[m.NestedMapID]; ok {
				if newObject {
					if err := h.linkObjects(obj, m, ancestor); err != nil {
						return false, err
					}
				}
				continue
			}
		}

		rowKey, err := h.createRowKey(rs, nested, prefix)
		if err != nil {
			return false, err
		}
		combined := rowkey.Combine(rowKey, parentKey)
		value, known := h.nestedObjects.Get(combined)
		known = known && value != nil
		if known && h.metrics != nil {
			h.metrics.RecordNestedCacheHit(ctx, nested.ID())
		}
		if _, err := h.instantiateCollection(obj, m); err != nil {
			return false, err
		}
		if !h.anyNotNullColumnHasValue(rs, m, prefix) {
			continue
		}
		value, err = h.getNestedRowValue(ctx, rs, nested, combined, prefix, value)
		if err != nil {
			return false, err
		}
		if value != nil && !known {
			if err := h.linkObjects(obj, m, value); err != nil {
				return false, err
			}
			found = true
		}
	}
	return found, nil
}

// anyNotNullColumnHasValue gates creation of a nested object: one of the
// not-null columns must hold a value, or, without such columns, a column must
// carry the prefix.
func (h *Handler) anyNotNullColumnHasValue(rs *resultSet, m *mapping.ColumnMapping, prefix string) bool {
	if len(m.NotNullColumns) > 0 {
		for _, c := range m.NotNullColumns {
			if v, err := rs.raw(prefixed(c, prefix)); err == nil && v != nil {
				return true
			}
		}
		return false
	}
	if prefix != "" {
		for _, u := range rs.upper {
			if strings.HasPrefix(u, prefix) {
				return true
			}
		}
		return false
	}
	return true
}

// linkObjects appends value to the collection property of m, or assigns it.
func (h *Handler) linkObjects(owner any, m *mapping.ColumnMapping, value any) error {
	isCollection, err := h.instantiateCollection(owner, m)
	if err != nil {
		return err
	}
	if isCollection {
		return h.classes.Append(owner, m.Property, value)
	}
	return h.classes.Set(owner, m.Property, value)
}

// instantiateCollection creates an empty collection for m when the property
// is nil and reports whether the property holds a collection.
func (h *Handler) instantiateCollection(owner any, m *mapping.ColumnMapping) (bool, error) {
	current, err := h.classes.Get(owner, m.Property)
	if err != nil {
		return false, err
	}
	typ := m.GoType
	if typ == nil {
		typ = h.classes.Of(owner).SetterType(m.Property)
	}
	if current != nil {
		return h.objects.IsCollection(typ) || isCollectionValue(current), nil
	}
	if !h.objects.IsCollection(typ) {
		return false, nil
	}
	empty, err := h.objects.Create(typ)
	if err != nil {
		return false, err
	}
	return true, h.classes.Set(owner, m.Property, empty)
}

func isCollectionValue(v any) bool {
	_, ok := v.([]any)
	return ok
}

// putAncestor registers obj as the in-progress instance of descriptor id.
func (h *Handler) putAncestor(id string, obj any) {
	h.ancestors[id] = obj
}

func (h *Handler) removeAncestor(id string) {
	delete(h.ancestors, id)
}
