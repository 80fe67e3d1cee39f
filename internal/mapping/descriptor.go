package mapping

import (
	"reflect"
	"slices"

	"rowgraph/internal/meta"
)

// Descriptor is an immutable description of how rows become instances of one type.
type Descriptor struct {
	id               string
	typ              reflect.Type
	mappings         []*ColumnMapping
	idMappings       []*ColumnMapping
	ctorMappings     []*ColumnMapping
	propMappings     []*ColumnMapping
	mappedColumns    map[string]struct{}
	mappedProperties map[string]struct{}
	discriminator    *Discriminator
	autoMapping      AutoMapping
	hasNestedMaps    bool
	hasNestedQueries bool
}

func (d *Descriptor) ID() string                            { return d.id }
func (d *Descriptor) Type() reflect.Type                    { return d.typ }
func (d *Descriptor) Mappings() []*ColumnMapping            { return d.mappings }
func (d *Descriptor) ConstructorMappings() []*ColumnMapping { return d.ctorMappings }
func (d *Descriptor) PropertyMappings() []*ColumnMapping    { return d.propMappings }
func (d *Descriptor) Discriminator() *Discriminator         { return d.discriminator }
func (d *Descriptor) AutoMapping() AutoMapping              { return d.autoMapping }

// IDMappings returns the identity columns, or every mapping when none is flagged.
func (d *Descriptor) IDMappings() []*ColumnMapping { return d.idMappings }

// HasNestedMappings reports whether any mapping joins a nested descriptor from the same row.
func (d *Descriptor) HasNestedMappings() bool { return d.hasNestedMaps }

// HasNestedQueries reports whether any mapping runs a nested query.
func (d *Descriptor) HasNestedQueries() bool { return d.hasNestedQueries }

// IsMapped reports whether an upper-cased column name is mapped explicitly.
func (d *Descriptor) IsMapped(upperColumn string) bool {
	_, ok := d.mappedColumns[upperColumn]
	return ok
}

// MappedColumns returns the upper-cased explicitly mapped column names.
func (d *Descriptor) MappedColumns() []string {
	cols := make([]string, 0, len(d.mappedColumns))
	for c := range d.mappedColumns {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// HasMappedProperty reports whether a property is set by an explicit mapping.
func (d *Descriptor) HasMappedProperty(property string) bool {
	_, ok := d.mappedProperties[property]
	return ok
}

// Builder assembles a Descriptor.
type Builder struct {
	id            string
	typ           reflect.Type
	mappings      []ColumnMapping
	discriminator *Discriminator
	autoMapping   AutoMapping
	parent        *Descriptor
}

// NewBuilder starts a descriptor for instances of typ. Pointer types are
// normalized to their element type.
func NewBuilder(id string, typ reflect.Type) *Builder {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return &Builder{id: id, typ: typ}
}

// Map appends column mappings in declaration order.
func (b *Builder) Map(m ...ColumnMapping) *Builder {
	b.mappings = append(b.mappings, m...)
	return b
}

// ID maps column to property and marks it as an identity column.
func (b *Builder) ID(property, column string) *Builder {
	return b.Map(ColumnMapping{Property: property, Column: column, Flags: FlagID})
}

// Result maps column to property.
func (b *Builder) Result(property, column string) *Builder {
	return b.Map(ColumnMapping{Property: property, Column: column})
}

// Discriminate sets the discriminator.
func (b *Builder) Discriminate(d *Discriminator) *Builder {
	b.discriminator = d
	return b
}

// AutoMap overrides automapping for this descriptor.
func (b *Builder) AutoMap(a AutoMapping) *Builder {
	b.autoMapping = a
	return b
}

// Extends inherits the parent's mappings that this builder does not redeclare.
// Parent constructor mappings are dropped when this builder declares its own.
func (b *Builder) Extends(parent *Descriptor) *Builder {
	b.parent = parent
	return b
}

// Build validates the mappings and resolves constructor arguments against the
// constructors registered in objects.
func (b *Builder) Build(objects *meta.Registry) (*Descriptor, error) {
	if b.id == "" {
		return nil, Errorf("descriptor", "missing id")
	}
	if b.typ == nil {
		return nil, Errorf(b.id, "missing target type")
	}
	if objects == nil {
		objects = meta.Default()
	}

	declared := make([]*ColumnMapping, 0, len(b.mappings))
	for i := range b.mappings {
		m := b.mappings[i]
		declared = append(declared, &m)
	}
	if b.parent != nil {
		declared = append(declared, inherited(b.parent, declared)...)
	}

	d := &Descriptor{
		id:               b.id,
		typ:              b.typ,
		mappedColumns:    make(map[string]struct{}),
		mappedProperties: make(map[string]struct{}),
		discriminator:    b.discriminator,
		autoMapping:      b.autoMapping,
	}
	cls := objects.For(b.typ)

	for _, m := range declared {
		if err := validateMapping(b.id, m); err != nil {
			return nil, err
		}
		if m.NestedQueryID != "" {
			d.hasNestedQueries = true
		}
		if m.NestedMapID != "" && m.ResultSet == "" {
			d.hasNestedMaps = true
		}
		if m.Column != "" {
			d.mappedColumns[meta.UpperName(m.Column)] = struct{}{}
		} else {
			for _, c := range m.Composites {
				d.mappedColumns[meta.UpperName(c.Column)] = struct{}{}
			}
		}
		if m.Property != "" {
			d.mappedProperties[m.Property] = struct{}{}
		}
		if m.Has(FlagConstructor) {
			d.ctorMappings = append(d.ctorMappings, m)
		} else {
			if m.GoType == nil && m.Property != "" {
				m.GoType = cls.SetterType(m.Property)
			}
			d.propMappings = append(d.propMappings, m)
		}
		if m.Has(FlagID) {
			d.idMappings = append(d.idMappings, m)
		}
		d.mappings = append(d.mappings, m)
	}
	if len(d.idMappings) == 0 {
		d.idMappings = d.mappings
	}
	if err := resolveConstructor(d, cls); err != nil {
		return nil, err
	}
	return d, nil
}

func validateMapping(id string, m *ColumnMapping) error {
	if m.NestedMapID != "" && m.NestedQueryID != "" {
		return Errorf(id, "property %q cannot use both a nested map and a nested query", m.Property)
	}
	if m.ResultSet != "" && m.NestedMapID == "" {
		return Errorf(id, "property %q reads result set %q but names no nested map", m.Property, m.ResultSet)
	}
	if m.Column == "" && !m.IsComposite() && m.NestedMapID == "" {
		return Errorf(id, "property %q maps no column", m.Property)
	}
	if !m.Has(FlagConstructor) && m.Property == "" {
		return Errorf(id, "column %q maps to no property", m.Column)
	}
	return nil
}

func inherited(parent *Descriptor, declared []*ColumnMapping) []*ColumnMapping {
	declaresCtor := false
	for _, m := range declared {
		if m.Has(FlagConstructor) {
			declaresCtor = true
			break
		}
	}
	var out []*ColumnMapping
	for _, pm := range parent.mappings {
		if declaresCtor && pm.Has(FlagConstructor) {
			continue
		}
		redeclared := false
		for _, m := range declared {
			if m.Property == pm.Property && m.Column == pm.Column {
				redeclared = true
				break
			}
		}
		if !redeclared {
			cp := *pm
			out = append(out, &cp)
		}
	}
	return out
}

// resolveConstructor picks the registered constructor for the constructor
// mappings, orders the mappings by parameter position and records parameter types.
func resolveConstructor(d *Descriptor, cls *meta.Class) error {
	if len(d.ctorMappings) == 0 {
		return nil
	}
	var names []string
	for _, m := range d.ctorMappings {
		if m.Property != "" {
			names = append(names, m.Property)
		}
	}

	for _, c := range cls.Constructors() {
		if len(c.Params) != len(d.ctorMappings) {
			continue
		}
		if len(names) > 0 {
			if order, ok := matchByName(d.ctorMappings, c); ok {
				d.ctorMappings = order
				return nil
			}
			continue
		}
		if matchByPosition(d.ctorMappings, c) {
			return nil
		}
	}
	if len(names) > 0 {
		return Errorf(d.id, "failed to find a constructor in %s by arg names %v", d.typ, names)
	}
	return Errorf(d.id, "failed to find a constructor in %s for %d positional arguments", d.typ, len(d.ctorMappings))
}

func matchByName(mappings []*ColumnMapping, c *meta.Constructor) ([]*ColumnMapping, bool) {
	if len(mappings) != len(c.Params) {
		return nil, false
	}
	byName := make(map[string]*ColumnMapping, len(mappings))
	for _, m := range mappings {
		byName[m.Property] = m
	}
	ordered := make([]*ColumnMapping, len(c.Params))
	for i, p := range c.Params {
		m, ok := byName[p.Name]
		if !ok {
			return nil, false
		}
		if m.GoType != nil && m.GoType != p.Type {
			return nil, false
		}
		ordered[i] = m
	}
	for i, p := range c.Params {
		ordered[i].GoType = p.Type
	}
	return ordered, true
}

func matchByPosition(mappings []*ColumnMapping, c *meta.Constructor) bool {
	for i, p := range c.Params {
		if mappings[i].GoType != nil && mappings[i].GoType != p.Type {
			return false
		}
	}
	for i, p := range c.Params {
		mappings[i].GoType = p.Type
	}
	return true
}
