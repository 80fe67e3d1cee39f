package materialize

import (
	"fmt"
	"reflect"
	"strings"

	"rowgraph/internal/mapping"
	"rowgraph/internal/meta"
	"rowgraph/internal/rowsource"
	"rowgraph/internal/typehandler"
)

// resultSet wraps the current result set of a source with column lookups and
// the per-descriptor split into mapped and unmapped columns.
type resultSet struct {
	src      rowsource.Source
	types    *typehandler.Registry
	columns  []rowsource.Column
	upper    []string
	index    map[string]int
	mapped   map[string]map[string]struct{}
	unmapped map[string][]string
}

func newResultSet(src rowsource.Source, types *typehandler.Registry) *resultSet {
	cols := src.Columns()
	rs := &resultSet{
		src:      src,
		types:    types,
		columns:  cols,
		upper:    make([]string, len(cols)),
		index:    make(map[string]int, len(cols)),
		mapped:   make(map[string]map[string]struct{}),
		unmapped: make(map[string][]string),
	}
	for i, c := range cols {
		u := meta.UpperName(c.Name)
		rs.upper[i] = u
		if _, dup := rs.index[u]; !dup {
			rs.index[u] = i
		}
	}
	return rs
}

func (rs *resultSet) names() []string {
	return rowsource.Names(rs.columns)
}

func (rs *resultSet) has(column string) bool {
	_, ok := rs.index[meta.UpperName(column)]
	return ok
}

func (rs *resultSet) columnType(column string) string {
	if i, ok := rs.index[meta.UpperName(column)]; ok {
		return rs.columns[i].TypeName
	}
	return ""
}

// raw returns the driver value of column in the current row.
func (rs *resultSet) raw(column string) (any, error) {
	i, ok := rs.index[meta.UpperName(column)]
	if !ok {
		return nil, fmt.Errorf("column %q not found in result set %v", column, rs.names())
	}
	return rs.src.Value(i), nil
}

// handler resolves the type handler reading column into goType.
func (rs *resultSet) handler(goType reflect.Type, column string) typehandler.Handler {
	return rs.types.Resolve(goType, rs.columnType(column))
}

// read converts column with h.
func (rs *resultSet) read(h typehandler.Handler, column string) (any, error) {
	raw, err := rs.raw(column)
	if err != nil {
		return nil, err
	}
	v, err := h.Result(raw)
	if err != nil {
		return nil, fmt.Errorf("error reading column %q: %w", column, err)
	}
	return v, nil
}

// readMapping reads column for m, honoring the mapping's handler and declared column type.
func (rs *resultSet) readMapping(m *mapping.ColumnMapping, column string) (any, error) {
	h := m.Handler
	if h == nil {
		colType := m.ColumnType
		if colType == "" {
			colType = rs.columnType(column)
		}
		h = rs.types.Resolve(m.GoType, colType)
	}
	return rs.read(h, column)
}

// text reads column as a string, or nil for a null value.
func (rs *resultSet) text(column string) (any, error) {
	raw, err := rs.raw(column)
	if err != nil || raw == nil {
		return nil, err
	}
	return stringValue(raw), nil
}

func (rs *resultSet) isMapped(d *mapping.Descriptor, prefix, upperColumn string) bool {
	rs.load(d, prefix)
	_, ok := rs.mapped[cacheID(d, prefix)][upperColumn]
	return ok
}

// unmappedColumns returns the original names of columns d does not map.
func (rs *resultSet) unmappedColumns(d *mapping.Descriptor, prefix string) []string {
	rs.load(d, prefix)
	return rs.unmapped[cacheID(d, prefix)]
}

func (rs *resultSet) load(d *mapping.Descriptor, prefix string) {
	id := cacheID(d, prefix)
	if _, ok := rs.mapped[id]; ok {
		return
	}
	wanted := make(map[string]struct{})
	for _, c := range d.MappedColumns() {
		wanted[meta.UpperName(prefix+c)] = struct{}{}
	}
	mapped := make(map[string]struct{})
	var unmapped []string
	for i, c := range rs.columns {
		if _, ok := wanted[rs.upper[i]]; ok {
			mapped[rs.upper[i]] = struct{}{}
		} else {
			unmapped = append(unmapped, c.Name)
		}
	}
	rs.mapped[id] = mapped
	rs.unmapped[id] = unmapped
}

func cacheID(d *mapping.Descriptor, prefix string) string {
	return d.ID() + ":" + prefix
}

// columnPrefix joins a parent prefix with a mapping's own prefix, upper-cased.
func columnPrefix(parent string, m *mapping.ColumnMapping) string {
	var b strings.Builder
	b.WriteString(parent)
	b.WriteString(m.ColumnPrefix)
	if b.Len() == 0 {
		return ""
	}
	return meta.UpperName(b.String())
}

func prefixed(column, prefix string) string {
	if column == "" {
		return ""
	}
	return prefix + column
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
