package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"rowgraph/internal/mapping"
	"rowgraph/internal/meta"
	"rowgraph/internal/typehandler"
)

// autoMapping assigns one unmapped column to a property found by name.
type autoMapping struct {
	column   string
	property string
	handler  typehandler.Handler
	nillable bool
}

// shouldAutoMap applies the descriptor override first. Otherwise nested
// descriptors automap under full automapping only and simple ones under
// anything but none.
func (h *Handler) shouldAutoMap(d *mapping.Descriptor, nested bool) bool {
	switch d.AutoMapping() {
	case mapping.AutoMappingOn:
		return true
	case mapping.AutoMappingOff:
		return false
	}
	if nested {
		return h.settings.AutoMappingBehavior == AutoMappingFull
	}
	return h.settings.AutoMappingBehavior != AutoMappingNone
}

func (h *Handler) applyAutomaticMappings(ctx context.Context, rs *resultSet, d *mapping.Descriptor, obj any, prefix string) (bool, error) {
	mappings, err := h.automaticMappings(ctx, rs, d, obj, prefix)
	if err != nil {
		return false, err
	}
	found := false
	for _, am := range mappings {
		v, err := rs.read(am.handler, am.column)
		if err != nil {
			return false, err
		}
		if v != nil {
			found = true
		}
		if v != nil || (h.settings.CallSettersOnNulls && am.nillable) {
			if err := h.classes.Set(obj, am.property, v); err != nil {
				return false, err
			}
		}
	}
	return found, nil
}

// automaticMappings lists the unmapped columns of the current result set that
// match a settable property of obj. The list is cached per descriptor and prefix.
func (h *Handler) automaticMappings(ctx context.Context, rs *resultSet, d *mapping.Descriptor, obj any, prefix string) ([]autoMapping, error) {
	id := cacheID(d, prefix)
	if cached, ok := h.autoMappings[id]; ok {
		return cached, nil
	}
	cls := h.classes.Of(obj)
	mappings := []autoMapping{}
	for _, column := range rs.unmappedColumns(d, prefix) {
		name := column
		if prefix != "" {
			if !strings.HasPrefix(meta.UpperName(column), prefix) {
				continue
			}
			name = column[len(prefix):]
		}
		property, ok := cls.FindProperty(name, h.settings.MapUnderscoreToCamelCase)
		if !ok || !cls.HasSetter(property) {
			if !ok {
				property = name
			}
			if err := h.unknownColumn(ctx, column, property, nil); err != nil {
				return nil, err
			}
			continue
		}
		if d.HasMappedProperty(property) {
			continue
		}
		typ := cls.SetterType(property)
		colType := rs.columnType(column)
		if !h.types.Has(typ, colType) {
			if err := h.unknownColumn(ctx, column, property, typ); err != nil {
				return nil, err
			}
			continue
		}
		mappings = append(mappings, autoMapping{
			column:   column,
			property: property,
			handler:  h.types.Resolve(typ, colType),
			nillable: nillable(typ),
		})
	}
	h.autoMappings[id] = mappings
	return mappings, nil
}

func (h *Handler) unknownColumn(ctx context.Context, column, property string, typ reflect.Type) error {
	switch h.settings.UnknownColumnBehavior {
	case UnknownColumnWarning:
		h.logger.WarnContext(ctx, "unknown column detected during automapping",
			slog.String("statement", h.statementID()),
			slog.String("column", column),
			slog.String("property", property),
			slog.String("property_type", fmt.Sprint(typ)),
		)
	case UnknownColumnFailing:
		return configErrorf(h.statementID(),
			"unknown column is detected on auto-mapping: column=%s, property=%s, property type=%v", column, property, typ)
	}
	return nil
}

func nillable(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}
