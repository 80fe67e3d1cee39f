// Package mapping defines the immutable descriptors that tell the materializer
// how result columns become objects: column mappings, discriminators and the
// statements that select rows for them.
package mapping

import (
	"fmt"
	"reflect"

	"rowgraph/internal/typehandler"
)

// Flag marks special column mappings.
type Flag uint8

const (
	// FlagID marks a column as part of the row identity.
	FlagID Flag = 1 << iota
	// FlagConstructor marks a column as a constructor argument.
	FlagConstructor
)

// ColumnMapping binds one column, a composite column set, a nested descriptor
// or a nested query to a property.
type ColumnMapping struct {
	Property string
	Column   string
	// Composites hold (Property = parameter name, Column) pairs that build the
	// parameter of a nested query.
	Composites     []ColumnMapping
	GoType         reflect.Type
	ColumnType     string
	Handler        typehandler.Handler
	NestedMapID    string
	NestedQueryID  string
	NotNullColumns []string
	ColumnPrefix   string
	ForeignColumn  string
	ResultSet      string
	Flags          Flag
	Lazy           bool
}

// Has reports whether every bit of f is set.
func (m *ColumnMapping) Has(f Flag) bool {
	return m.Flags&f == f
}

// IsComposite reports whether the mapping reads several columns.
func (m *ColumnMapping) IsComposite() bool {
	return len(m.Composites) > 0
}

// IsSimple reports whether the mapping reads a single column into a value.
func (m *ColumnMapping) IsSimple() bool {
	return m.NestedMapID == "" && m.NestedQueryID == "" && m.ResultSet == ""
}

func (m *ColumnMapping) String() string {
	switch {
	case m.NestedMapID != "":
		return fmt.Sprintf("%s -> map %s", m.Property, m.NestedMapID)
	case m.NestedQueryID != "":
		return fmt.Sprintf("%s -> query %s", m.Property, m.NestedQueryID)
	}
	return fmt.Sprintf("%s <- %s", m.Property, m.Column)
}

// Discriminator selects a sub-descriptor by the value of one column.
// Cases map the formatted column value to a descriptor id.
type Discriminator struct {
	Mapping ColumnMapping
	Cases   map[string]string
}

// Case returns the descriptor id for a formatted discriminant.
func (d *Discriminator) Case(value string) (string, bool) {
	id, ok := d.Cases[value]
	return id, ok
}

// AutoMapping overrides the engine's automapping behavior for one descriptor.
type AutoMapping int

const (
	AutoMappingInherit AutoMapping = iota
	AutoMappingOn
	AutoMappingOff
)

func (a AutoMapping) String() string {
	switch a {
	case AutoMappingOn:
		return "on"
	case AutoMappingOff:
		return "off"
	}
	return "inherit"
}

// ParseAutoMapping accepts "", "inherit", "on", "true", "off" and "false".
func ParseAutoMapping(s string) (AutoMapping, error) {
	switch s {
	case "", "inherit":
		return AutoMappingInherit, nil
	case "on", "true":
		return AutoMappingOn, nil
	case "off", "false":
		return AutoMappingOff, nil
	}
	return AutoMappingInherit, fmt.Errorf("invalid auto_mapping %q", s)
}
