// Package meta holds per-type capability tables: property accessors, registered
// constructors, and the object construction facade used by the materializer.
//
// A Class is built once per Go type by reflection and cached, so the engine only
// performs name lookups while rows are being materialized.
package meta

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Class describes what can be done with values of one type.
type Class struct {
	typ       reflect.Type
	isMap     bool
	props     map[string]*Property
	byUpper   map[string]string
	order     []string
	ctors     []*Constructor
	noDefault bool
	reg       *Registry
}

// Property is one settable member of a struct type.
type Property struct {
	Name  string
	Type  reflect.Type
	index []int
}

// Registry caches classes and holds constructor registrations.
type Registry struct {
	classes sync.Map // reflect.Type -> *Class
	mu      sync.Mutex
	options map[reflect.Type][]Option
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{options: make(map[reflect.Type][]Option)}
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Option configures a registered type.
type Option func(*Class)

// WithConstructor registers a constructor for the type.
func WithConstructor(c *Constructor) Option {
	return func(cls *Class) {
		cls.ctors = append(cls.ctors, c)
	}
}

// WithoutDefaultConstructor marks the type as constructible only through its
// registered constructors.
func WithoutDefaultConstructor() Option {
	return func(cls *Class) {
		cls.noDefault = true
	}
}

// Register records options for t and rebuilds its class.
func (r *Registry) Register(t reflect.Type, opts ...Option) *Class {
	t = indirectType(t)
	r.mu.Lock()
	r.options[t] = append(r.options[t], opts...)
	cls := r.build(t)
	r.classes.Store(t, cls)
	r.mu.Unlock()
	return cls
}

// For returns the class of t (pointer types resolve to their element).
func (r *Registry) For(t reflect.Type) *Class {
	t = indirectType(t)
	if v, ok := r.classes.Load(t); ok {
		return v.(*Class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.classes.Load(t); ok {
		return v.(*Class)
	}
	cls := r.build(t)
	r.classes.Store(t, cls)
	return cls
}

// Of returns the class of a value's dynamic type.
func (r *Registry) Of(obj any) *Class {
	return r.For(reflect.TypeOf(obj))
}

func (r *Registry) build(t reflect.Type) *Class {
	cls := &Class{
		typ:     t,
		isMap:   t.Kind() == reflect.Map && t.Key().Kind() == reflect.String,
		props:   make(map[string]*Property),
		byUpper: make(map[string]string),
		reg:     r,
	}
	if t.Kind() == reflect.Struct {
		cls.indexStruct()
	}
	for _, opt := range r.options[t] {
		opt(cls)
	}
	return cls
}

func (c *Class) indexStruct() {
	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)
			if inline || (sf.Anonymous && tag == "") {
				if ft := indirectType(sf.Type); ft.Kind() == reflect.Struct {
					walk(ft, path)
					continue
				}
			}
			if sf.PkgPath != "" {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			if _, exists := c.props[name]; exists {
				continue
			}
			c.props[name] = &Property{Name: name, Type: sf.Type, index: path}
			c.order = append(c.order, name)
			upper := UpperName(name)
			if _, taken := c.byUpper[upper]; !taken {
				c.byUpper[upper] = name
			}
		}
	}
	walk(c.typ, nil)
}

// parseTag supports "-", "col", ",inline", "col,inline".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	for i, part := range strings.Split(tag, ",") {
		switch {
		case part == "inline":
			inline = true
		case i == 0:
			name = part
		}
	}
	return name, inline, false
}

// Type is the described type (never a pointer).
func (c *Class) Type() reflect.Type {
	return c.typ
}

// IsMap reports whether values are string-keyed maps.
func (c *Class) IsMap() bool {
	return c.isMap
}

// Properties lists struct property names in declaration order.
func (c *Class) Properties() []string {
	return append([]string(nil), c.order...)
}

// Property returns the named struct property, matching exactly first and then
// ignoring case.
func (c *Class) Property(name string) (*Property, bool) {
	if p, ok := c.props[name]; ok {
		return p, true
	}
	if actual, ok := c.byUpper[UpperName(name)]; ok {
		return c.props[actual], true
	}
	return nil, false
}

// FindProperty resolves a column-derived name to a property name. With
// underscoreToCamel, underscores are dropped before the case-insensitive match.
// Map classes accept every name unchanged.
func (c *Class) FindProperty(name string, underscoreToCamel bool) (string, bool) {
	if c.isMap {
		return name, true
	}
	if underscoreToCamel {
		name = strings.ReplaceAll(name, "_", "")
	}
	if actual, ok := c.byUpper[UpperName(name)]; ok {
		return actual, true
	}
	return "", false
}

// HasSetter reports whether a (possibly dotted) property can be assigned.
func (c *Class) HasSetter(name string) bool {
	return c.SetterType(name) != nil
}

// SetterType returns the declared type of a (possibly dotted) property, or nil.
// Map properties are typed as any.
func (c *Class) SetterType(name string) reflect.Type {
	if c.isMap {
		return c.typ.Elem()
	}
	head, rest, nested := strings.Cut(name, ".")
	p, ok := c.Property(head)
	if !ok {
		return nil
	}
	if !nested {
		return p.Type
	}
	return c.reg.For(p.Type).SetterType(rest)
}

// Constructors returns the registered constructors in registration order.
func (c *Class) Constructors() []*Constructor {
	return c.ctors
}

// DefaultConstructible reports whether a zero value can be created without
// arguments. Interfaces only qualify when an implementation is known by the factory.
func (c *Class) DefaultConstructible() bool {
	if c.noDefault {
		return false
	}
	switch c.typ.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

func (c *Class) String() string {
	return fmt.Sprintf("meta.Class(%s)", c.typ)
}

// UpperName upper-cases a name with English rules, matching how column and
// property names are compared case-insensitively.
func UpperName(name string) string {
	return cases.Upper(language.English).String(name)
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
