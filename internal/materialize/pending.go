package materialize

import (
	"strings"

	"rowgraph/internal/mapping"
	"rowgraph/internal/rowkey"
)

// pendingLink is an owner waiting for rows of a named result set.
type pendingLink struct {
	owner   any
	mapping *mapping.ColumnMapping
}

// addPendingLink registers owner under the values of the mapping's join
// columns and routes the mapping's result set to it.
func (h *Handler) addPendingLink(rs *resultSet, owner any, m *mapping.ColumnMapping) error {
	key, err := pendingKey(rs, m, m.Column, m.Column)
	if err != nil {
		return err
	}
	links, _ := h.pendingLinks.Get(key)
	h.pendingLinks.Put(key, append(links, pendingLink{owner: owner, mapping: m}))

	if previous, ok := h.nextResultMaps[m.ResultSet]; !ok {
		h.nextResultMaps[m.ResultSet] = m
	} else if previous != m {
		return configErrorf(h.statementID(), "two different properties are mapped to the same result set %q", m.ResultSet)
	}
	return nil
}

// linkToParents links value into every owner waiting on the foreign column
// values of the current row.
func (h *Handler) linkToParents(rs *resultSet, parent *mapping.ColumnMapping, value any) error {
	key, err := pendingKey(rs, parent, parent.Column, parent.ForeignColumn)
	if err != nil {
		return err
	}
	links, ok := h.pendingLinks.Get(key)
	if !ok || value == nil {
		return nil
	}
	for _, l := range links {
		if err := h.linkObjects(l.owner, l.mapping, value); err != nil {
			return err
		}
	}
	return nil
}

// pendingKey builds the join identity from comma separated names and the
// textual values of the matching columns; null values are left out.
func pendingKey(rs *resultSet, m *mapping.ColumnMapping, names, columns string) (*rowkey.Key, error) {
	key := rowkey.New(m)
	if names == "" || columns == "" {
		return key, nil
	}
	nameList := strings.Split(names, ",")
	columnList := strings.Split(columns, ",")
	for i, column := range columnList {
		v, err := rs.text(strings.TrimSpace(column))
		if err != nil {
			return nil, err
		}
		if v == nil || i >= len(nameList) {
			continue
		}
		key.Update(strings.TrimSpace(nameList[i]))
		key.Update(v)
	}
	return key, nil
}
