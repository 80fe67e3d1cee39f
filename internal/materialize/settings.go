package materialize

import (
	"fmt"
	"strings"
)

// AutoMappingBehavior controls automapping of columns no mapping names.
type AutoMappingBehavior int

const (
	// AutoMappingNone disables automapping unless a descriptor turns it on.
	AutoMappingNone AutoMappingBehavior = iota
	// AutoMappingPartial automaps descriptors without same-row nested mappings.
	AutoMappingPartial
	// AutoMappingFull automaps every descriptor, nested ones included.
	AutoMappingFull
)

func (b AutoMappingBehavior) String() string {
	switch b {
	case AutoMappingNone:
		return "none"
	case AutoMappingFull:
		return "full"
	}
	return "partial"
}

// ParseAutoMappingBehavior accepts none, partial and full in any case.
func ParseAutoMappingBehavior(s string) (AutoMappingBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return AutoMappingNone, nil
	case "", "partial":
		return AutoMappingPartial, nil
	case "full":
		return AutoMappingFull, nil
	}
	return AutoMappingPartial, fmt.Errorf("invalid auto mapping behavior %q (expected none, partial or full)", s)
}

// UnknownColumnBehavior decides what happens when automapping finds a column
// it cannot assign.
type UnknownColumnBehavior int

const (
	UnknownColumnNone UnknownColumnBehavior = iota
	UnknownColumnWarning
	UnknownColumnFailing
)

func (b UnknownColumnBehavior) String() string {
	switch b {
	case UnknownColumnWarning:
		return "warning"
	case UnknownColumnFailing:
		return "failing"
	}
	return "none"
}

// ParseUnknownColumnBehavior accepts none, warning and failing in any case.
func ParseUnknownColumnBehavior(s string) (UnknownColumnBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UnknownColumnNone, nil
	case "warning", "warn":
		return UnknownColumnWarning, nil
	case "failing", "fail":
		return UnknownColumnFailing, nil
	}
	return UnknownColumnNone, fmt.Errorf("invalid unknown column behavior %q (expected none, warning or failing)", s)
}

// Settings are the engine-wide switches read by every Handler.
type Settings struct {
	AutoMappingBehavior   AutoMappingBehavior
	UnknownColumnBehavior UnknownColumnBehavior
	// ReturnInstanceForEmptyRow keeps objects whose columns were all null.
	ReturnInstanceForEmptyRow bool
	// CallSettersOnNulls assigns nil to nillable properties for null columns.
	CallSettersOnNulls       bool
	MapUnderscoreToCamelCase bool
	// SafeRowBoundsEnabled rejects row bounds on statements with nested mappings.
	SafeRowBoundsEnabled bool
	// SafeResultHandlerEnabled rejects custom sinks on statements with nested
	// mappings unless the statement is result ordered.
	SafeResultHandlerEnabled bool
	// LazyLoadingEnabled defers every nested query, not only those marked lazy.
	LazyLoadingEnabled bool
}

// DefaultSettings returns partial automapping with the result sink safety check on.
func DefaultSettings() Settings {
	return Settings{
		AutoMappingBehavior:      AutoMappingPartial,
		UnknownColumnBehavior:    UnknownColumnNone,
		SafeResultHandlerEnabled: true,
	}
}
