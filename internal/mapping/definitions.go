package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rowgraph/internal/meta"
	"rowgraph/internal/planner"
)

// File is the YAML form of a set of descriptors and statements.
type File struct {
	Mappings   []MappingDef   `yaml:"mappings"`
	Statements []StatementDef `yaml:"statements"`
}

// MappingDef defines one descriptor.
type MappingDef struct {
	ID            string            `yaml:"id"`
	Type          string            `yaml:"type"`
	Extends       string            `yaml:"extends"`
	AutoMapping   string            `yaml:"auto_mapping"`
	Columns       []ColumnDef       `yaml:"columns"`
	Discriminator *DiscriminatorDef `yaml:"discriminator"`
}

// ColumnDef defines one column mapping.
type ColumnDef struct {
	Property       string         `yaml:"property"`
	Column         string         `yaml:"column"`
	Composite      []CompositeDef `yaml:"composite"`
	GoType         string         `yaml:"go_type"`
	ColumnType     string         `yaml:"column_type"`
	ID             bool           `yaml:"id"`
	Constructor    bool           `yaml:"constructor"`
	NestedMap      string         `yaml:"nested_map"`
	NestedQuery    string         `yaml:"nested_query"`
	NotNullColumns StringOrArray  `yaml:"not_null_columns"`
	ColumnPrefix   string         `yaml:"column_prefix"`
	ForeignColumn  string         `yaml:"foreign_column"`
	ResultSet      string         `yaml:"result_set"`
	Lazy           bool           `yaml:"lazy"`
}

// CompositeDef binds one nested-query parameter to a column.
type CompositeDef struct {
	Param  string `yaml:"param"`
	Column string `yaml:"column"`
}

// DiscriminatorDef defines a discriminator column and its cases.
type DiscriminatorDef struct {
	Column     string            `yaml:"column"`
	ColumnType string            `yaml:"column_type"`
	GoType     string            `yaml:"go_type"`
	Cases      map[string]string `yaml:"cases"`
}

// StatementDef defines one statement. Exactly one of SQL or Select is set.
type StatementDef struct {
	ID            string     `yaml:"id"`
	SQL           string     `yaml:"sql"`
	Params        []string   `yaml:"params"`
	Select        *SelectDef `yaml:"select"`
	ResultMaps    []string   `yaml:"result_maps"`
	ResultType    string     `yaml:"result_type"`
	ResultSets    []string   `yaml:"result_sets"`
	ResultOrdered bool       `yaml:"result_ordered"`
	FlushCache    bool       `yaml:"flush_cache"`
	ParamType     string     `yaml:"param_type"`
}

// SelectDef is the YAML form of planner.Select.
type SelectDef struct {
	Table     string    `yaml:"table"`
	Alias     string    `yaml:"alias"`
	Columns   []string  `yaml:"columns"`
	LeftJoins []string  `yaml:"left_joins"`
	Where     []CondDef `yaml:"where"`
	OrderBy   []string  `yaml:"order_by"`
}

// CondDef is the YAML form of planner.Cond.
type CondDef struct {
	Column string `yaml:"column"`
	Param  string `yaml:"param"`
}

// StringOrArray accepts either a comma-separated string or a list of strings.
type StringOrArray []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringOrArray) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var str string
		if err := node.Decode(&str); err != nil {
			return err
		}
		*s = splitColumns(str)
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := node.Decode(&arr); err != nil {
			return err
		}
		*s = arr
		return nil
	default:
		return fmt.Errorf("expected string or array, got %v", node.Kind)
	}
}

func splitColumns(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var builtinTypes = map[string]reflect.Type{
	"map":     reflect.TypeOf(map[string]any{}),
	"any":     reflect.TypeOf((*any)(nil)).Elem(),
	"list":    reflect.TypeOf([]any{}),
	"[]any":   reflect.TypeOf([]any{}),
	"string":  reflect.TypeOf(""),
	"int":     reflect.TypeOf(0),
	"int64":   reflect.TypeOf(int64(0)),
	"uint64":  reflect.TypeOf(uint64(0)),
	"float64": reflect.TypeOf(float64(0)),
	"bool":    reflect.TypeOf(false),
	"bytes":   reflect.TypeOf([]byte(nil)),
	"time":    reflect.TypeOf(time.Time{}),
	"uuid":    reflect.TypeOf(uuid.UUID{}),
}

// Loader turns definition files into registry entries.
type Loader struct {
	types   map[string]reflect.Type
	objects *meta.Registry
}

// NewLoader returns a loader resolving type names against the builtin names
// (map, list, string, int64, time, uuid, ...) plus types.
func NewLoader(objects *meta.Registry, types map[string]reflect.Type) *Loader {
	all := make(map[string]reflect.Type, len(builtinTypes)+len(types))
	for k, v := range builtinTypes {
		all[k] = v
	}
	for k, v := range types {
		all[k] = v
	}
	return &Loader{types: all, objects: objects}
}

// LoadFile reads and registers a YAML definition file.
func (l *Loader) LoadFile(path string, reg *Registry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(f, reg)
}

// Load parses YAML and registers its descriptors and statements. Unknown keys are errors.
func (l *Loader) Load(r io.Reader, reg *Registry) error {
	file, err := Parse(r)
	if err != nil {
		return err
	}
	return l.Register(file, reg)
}

// Parse decodes a definition file strictly.
func Parse(r io.Reader) (*File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse mapping YAML: %w", err)
	}
	return &file, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) (*File, error) {
	return Parse(bytes.NewReader(data))
}

// Register builds every definition in file and adds it to reg, then validates references.
// Descriptors may extend descriptors defined earlier in the file or already registered.
func (l *Loader) Register(file *File, reg *Registry) error {
	for _, def := range file.Mappings {
		d, err := l.descriptor(def, reg)
		if err != nil {
			return err
		}
		if err := reg.Add(d); err != nil {
			return err
		}
	}
	for _, def := range file.Statements {
		s, err := l.statement(def, reg)
		if err != nil {
			return err
		}
		if err := reg.AddStatement(s); err != nil {
			return err
		}
	}
	return reg.Validate()
}

func (l *Loader) typeOf(source, name string) (reflect.Type, error) {
	if name == "" {
		return nil, nil
	}
	if t, ok := l.types[name]; ok {
		return t, nil
	}
	return nil, Errorf(source, "unknown type %q", name)
}

func (l *Loader) descriptor(def MappingDef, reg *Registry) (*Descriptor, error) {
	typeName := def.Type
	if typeName == "" {
		typeName = "map"
	}
	typ, err := l.typeOf(def.ID, typeName)
	if err != nil {
		return nil, err
	}
	auto, err := ParseAutoMapping(def.AutoMapping)
	if err != nil {
		return nil, &ConfigurationError{Source: def.ID, Message: "invalid definition", Err: err}
	}

	b := NewBuilder(def.ID, typ).AutoMap(auto)
	if def.Extends != "" {
		parent, ok := reg.Descriptor(def.Extends)
		if !ok {
			return nil, Errorf(def.ID, "extends unknown descriptor %q", def.Extends)
		}
		b.Extends(parent)
	}
	for _, c := range def.Columns {
		m, err := l.columnMapping(def.ID, c)
		if err != nil {
			return nil, err
		}
		b.Map(m)
	}
	if dd := def.Discriminator; dd != nil {
		goType, err := l.typeOf(def.ID, dd.GoType)
		if err != nil {
			return nil, err
		}
		b.Discriminate(&Discriminator{
			Mapping: ColumnMapping{Column: dd.Column, ColumnType: dd.ColumnType, GoType: goType},
			Cases:   dd.Cases,
		})
	}
	return b.Build(l.objects)
}

func (l *Loader) columnMapping(source string, c ColumnDef) (ColumnMapping, error) {
	goType, err := l.typeOf(source, c.GoType)
	if err != nil {
		return ColumnMapping{}, err
	}
	m := ColumnMapping{
		Property:       c.Property,
		Column:         c.Column,
		GoType:         goType,
		ColumnType:     c.ColumnType,
		NestedMapID:    c.NestedMap,
		NestedQueryID:  c.NestedQuery,
		NotNullColumns: c.NotNullColumns,
		ColumnPrefix:   c.ColumnPrefix,
		ForeignColumn:  c.ForeignColumn,
		ResultSet:      c.ResultSet,
		Lazy:           c.Lazy,
	}
	if c.ID {
		m.Flags |= FlagID
	}
	if c.Constructor {
		m.Flags |= FlagConstructor
	}
	for _, comp := range c.Composite {
		m.Composites = append(m.Composites, ColumnMapping{Property: comp.Param, Column: comp.Column})
	}
	return m, nil
}

func (l *Loader) statement(def StatementDef, reg *Registry) (*Statement, error) {
	s := &Statement{
		ID:            def.ID,
		ResultMaps:    def.ResultMaps,
		ResultSets:    def.ResultSets,
		ResultOrdered: def.ResultOrdered,
		FlushCache:    def.FlushCache,
	}
	switch {
	case def.SQL != "" && def.Select != nil:
		return nil, Errorf(def.ID, "statement sets both sql and select")
	case def.SQL != "":
		s.Source = planner.Raw{SQL: def.SQL, Params: def.Params}
	case def.Select != nil:
		sel := planner.Select{
			Table:     def.Select.Table,
			Alias:     def.Select.Alias,
			Columns:   def.Select.Columns,
			LeftJoins: def.Select.LeftJoins,
			OrderBy:   def.Select.OrderBy,
		}
		for _, w := range def.Select.Where {
			sel.Where = append(sel.Where, planner.Cond{Column: w.Column, Param: w.Param})
		}
		s.Source = sel
	default:
		return nil, Errorf(def.ID, "statement has neither sql nor select")
	}

	paramType, err := l.typeOf(def.ID, def.ParamType)
	if err != nil {
		return nil, err
	}
	s.ParamType = paramType

	if len(s.ResultMaps) == 0 && def.ResultType != "" {
		typ, err := l.typeOf(def.ID, def.ResultType)
		if err != nil {
			return nil, err
		}
		d, err := reg.Inline(def.ID, typ, l.objects)
		if err != nil {
			return nil, err
		}
		s.ResultMaps = []string{d.ID()}
	}
	return s, nil
}
