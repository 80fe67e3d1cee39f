package meta

import (
	"fmt"
	"reflect"
)

// Factory creates result objects. Structs are returned as pointers; maps and
// slices are returned as values.
type Factory struct {
	reg   *Registry
	impls map[reflect.Type]reflect.Type
}

// NewFactory returns a factory over reg. Interfaces resolve to map[string]any
// unless an implementation is registered.
func NewFactory(reg *Registry) *Factory {
	if reg == nil {
		reg = defaultRegistry
	}
	return &Factory{reg: reg, impls: make(map[reflect.Type]reflect.Type)}
}

// Registry returns the capability registry the factory reads constructors from.
func (f *Factory) Registry() *Registry {
	return f.reg
}

// Implement maps an interface type to the concrete type created for it.
// Not safe to call concurrently with Create.
func (f *Factory) Implement(iface, impl reflect.Type) {
	f.impls[iface] = impl
}

// Create builds a zero instance of t.
func (f *Factory) Create(t reflect.Type) (any, error) {
	t = indirectType(t)
	switch t.Kind() {
	case reflect.Interface:
		if impl, ok := f.impls[t]; ok {
			return f.Create(impl)
		}
		if t.NumMethod() == 0 {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("no implementation registered for interface %s", t)
	case reflect.Map:
		return reflect.MakeMap(t).Interface(), nil
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface(), nil
	case reflect.Struct:
		if f.reg.For(t).noDefault {
			return nil, fmt.Errorf("%s has no default constructor", t)
		}
		return reflect.New(t).Interface(), nil
	}
	return reflect.Zero(t).Interface(), nil
}

// CreateWithArgs calls the registered constructor of t whose parameter types
// equal argTypes.
func (f *Factory) CreateWithArgs(t reflect.Type, argTypes []reflect.Type, args []any) (any, error) {
	for _, c := range f.reg.For(t).Constructors() {
		if c.Matches(argTypes) {
			obj, err := c.New(args)
			if err != nil {
				return nil, fmt.Errorf("error instantiating %s: %w", indirectType(t), err)
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("no constructor of %s accepts %v", indirectType(t), argTypes)
}

// IsCollection reports whether values of t hold many elements. Byte slices are scalars.
func (f *Factory) IsCollection(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Slice {
		return t.Elem().Kind() != reflect.Uint8
	}
	return false
}
