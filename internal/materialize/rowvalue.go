package materialize

import (
	"context"
	"reflect"
	"strings"

	"rowgraph/internal/mapping"
	"rowgraph/internal/meta"
	"rowgraph/internal/rowkey"
)

// getRowValue materializes one row with a descriptor that has no same-row
// nested mappings. It returns nil for a row without values unless empty rows
// are kept.
func (h *Handler) getRowValue(ctx context.Context, rs *resultSet, d *mapping.Descriptor, prefix string) (any, error) {
	var st rowState
	obj, err := h.createResultObject(ctx, rs, d, prefix, &st)
	if err != nil || obj == nil || h.isScalar(rs, d.Type()) {
		return obj, err
	}
	found := st.usedConstructor
	if h.shouldAutoMap(d, false) {
		auto, err := h.applyAutomaticMappings(ctx, rs, d, obj, prefix)
		if err != nil {
			return nil, err
		}
		found = auto || found
	}
	props, err := h.applyPropertyMappings(ctx, rs, d, obj, prefix, &st)
	if err != nil {
		return nil, err
	}
	found = props || found || st.lazy > 0
	if !found && !h.settings.ReturnInstanceForEmptyRow {
		return nil, nil
	}
	h.materialized(ctx, d)
	return obj, nil
}

// getNestedRowValue materializes or completes one row for a descriptor with
// same-row nested mappings. partial is the object already built for the same
// identity, or nil.
func (h *Handler) getNestedRowValue(ctx context.Context, rs *resultSet, d *mapping.Descriptor, combined *rowkey.Key, prefix string, partial any) (any, error) {
	id := d.ID()
	if partial != nil {
		h.putAncestor(id, partial)
		_, err := h.applyNestedMappings(ctx, rs, d, partial, prefix, combined, false)
		h.removeAncestor(id)
		return partial, err
	}

	var st rowState
	obj, err := h.createResultObject(ctx, rs, d, prefix, &st)
	if err != nil {
		return nil, err
	}
	if obj != nil && !h.isScalar(rs, d.Type()) {
		found := st.usedConstructor
		if h.shouldAutoMap(d, true) {
			auto, err := h.applyAutomaticMappings(ctx, rs, d, obj, prefix)
			if err != nil {
				return nil, err
			}
			found = auto || found
		}
		props, err := h.applyPropertyMappings(ctx, rs, d, obj, prefix, &st)
		if err != nil {
			return nil, err
		}
		found = props || found

		h.putAncestor(id, obj)
		nested, err := h.applyNestedMappings(ctx, rs, d, obj, prefix, combined, true)
		h.removeAncestor(id)
		if err != nil {
			return nil, err
		}
		found = nested || found || st.lazy > 0
		if !found && !h.settings.ReturnInstanceForEmptyRow {
			obj = nil
		} else {
			h.materialized(ctx, d)
		}
	}
	if !combined.IsNull() {
		h.nestedObjects.Put(combined, obj)
	}
	return obj, nil
}

// applyPropertyMappings assigns the explicit property mappings of d in
// declaration order.
func (h *Handler) applyPropertyMappings(ctx context.Context, rs *resultSet, d *mapping.Descriptor, obj any, prefix string, st *rowState) (bool, error) {
	cls := h.classes.Of(obj)
	found := false
	for _, m := range d.PropertyMappings() {
		column := prefixed(m.Column, prefix)
		if m.NestedMapID != "" {
			column = ""
		}
		if !m.IsComposite() && (column == "" || !rs.isMapped(d, prefix, meta.UpperName(column))) && m.ResultSet == "" {
			continue
		}

		var (
			value any
			err   error
		)
		switch {
		case m.NestedQueryID != "":
			value, err = h.nestedQueryValue(ctx, rs, obj, m, prefix, st)
		case m.ResultSet != "":
			err = h.addPendingLink(rs, obj, m)
			value = deferred
		default:
			value, err = rs.readMapping(m, column)
		}
		if err != nil {
			return false, err
		}
		if value == deferred {
			found = true
			continue
		}
		if value != nil {
			found = true
		}
		if value != nil || (h.settings.CallSettersOnNulls && nillable(cls.SetterType(m.Property))) {
			if err := h.classes.Set(obj, m.Property, value); err != nil {
				return false, err
			}
		}
	}
	return found, nil
}

// createRowKey computes the identity of the current row for d: the id
// mappings, or every mapping when none is flagged, or the unmapped columns
// matching properties when d maps nothing. A key that holds nothing but the
// descriptor id is the null key.
func (h *Handler) createRowKey(rs *resultSet, d *mapping.Descriptor, prefix string) (*rowkey.Key, error) {
	key := rowkey.New(d.ID())
	mappings := d.IDMappings()
	var err error
	switch {
	case len(mappings) > 0:
		err = h.rowKeyForMappedProperties(rs, d, key, mappings, prefix)
	case d.Type().Kind() == reflect.Map:
		err = rowKeyForMap(rs, key)
	default:
		err = h.rowKeyForUnmappedProperties(rs, d, key, prefix)
	}
	if err != nil {
		return nil, err
	}
	if key.Count() < 2 {
		return rowkey.Null(), nil
	}
	return key, nil
}

func (h *Handler) rowKeyForMappedProperties(rs *resultSet, d *mapping.Descriptor, key *rowkey.Key, mappings []*mapping.ColumnMapping, prefix string) error {
	for _, m := range mappings {
		switch {
		case m.NestedMapID != "" && m.ResultSet == "":
			nested, ok := h.mappings.Descriptor(m.NestedMapID)
			if !ok {
				return configErrorf(d.ID(), "property %q references unknown descriptor %q", m.Property, m.NestedMapID)
			}
			if err := h.rowKeyForMappedProperties(rs, nested, key, nested.ConstructorMappings(), columnPrefix(prefix, m)); err != nil {
				return err
			}
		case m.NestedQueryID == "":
			column := prefixed(m.Column, prefix)
			if column == "" || !rs.isMapped(d, prefix, meta.UpperName(column)) {
				continue
			}
			v, err := rs.readMapping(m, column)
			if err != nil {
				return err
			}
			if v != nil || h.settings.ReturnInstanceForEmptyRow {
				key.Update(column)
				key.Update(v)
			}
		}
	}
	return nil
}

func rowKeyForMap(rs *resultSet, key *rowkey.Key) error {
	for i, c := range rs.columns {
		key.Update(c.Name)
		key.Update(rs.src.Value(i))
	}
	return nil
}

func (h *Handler) rowKeyForUnmappedProperties(rs *resultSet, d *mapping.Descriptor, key *rowkey.Key, prefix string) error {
	cls := h.classes.For(d.Type())
	for _, column := range rs.unmappedColumns(d, prefix) {
		name := column
		if prefix != "" {
			if !strings.HasPrefix(meta.UpperName(column), prefix) {
				continue
			}
			name = column[len(prefix):]
		}
		if _, ok := cls.FindProperty(name, h.settings.MapUnderscoreToCamelCase); !ok {
			continue
		}
		v, err := rs.text(column)
		if err != nil {
			return err
		}
		if v != nil {
			key.Update(column)
			key.Update(v)
		}
	}
	return nil
}

func (h *Handler) materialized(ctx context.Context, d *mapping.Descriptor) {
	if h.metrics != nil {
		h.metrics.RecordObjectMaterialized(ctx, d.ID())
	}
}
