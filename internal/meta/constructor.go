package meta

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Param is one constructor parameter.
type Param struct {
	Name string
	Type reflect.Type
}

// Constructor builds an instance from positional arguments.
type Constructor struct {
	Params []Param
	// Automap marks the constructor used when columns are bound by position.
	Automap bool
	New     func(args []any) (any, error)
}

// ConstructorOf wraps a function returning T or (T, error). Parameter names
// default to arg0, arg1, ... when fewer names than parameters are given.
func ConstructorOf(fn any, names ...string) (*Constructor, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %T", fn)
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("constructor %s must return T or (T, error)", ft)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("constructor %s must not be variadic", ft)
	}

	params := make([]Param, ft.NumIn())
	for i := range params {
		name := fmt.Sprintf("arg%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		params[i] = Param{Name: name, Type: ft.In(i)}
	}

	c := &Constructor{Params: params}
	c.New = func(args []any) (any, error) {
		in := make([]reflect.Value, len(params))
		for i, p := range params {
			var arg any
			if i < len(args) {
				arg = args[i]
			}
			v, err := convertValue(arg, p.Type)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", p.Name, err)
			}
			in[i] = v
		}
		out := fv.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
	return c, nil
}

// MustConstructor is ConstructorOf that panics on error, for package-level registration.
func MustConstructor(fn any, names ...string) *Constructor {
	c, err := ConstructorOf(fn, names...)
	if err != nil {
		panic(err)
	}
	return c
}

// ParamTypes returns the parameter types in order.
func (c *Constructor) ParamTypes() []reflect.Type {
	types := make([]reflect.Type, len(c.Params))
	for i, p := range c.Params {
		types[i] = p.Type
	}
	return types
}

// Matches reports whether the parameter types equal types exactly.
func (c *Constructor) Matches(types []reflect.Type) bool {
	if len(types) != len(c.Params) {
		return false
	}
	for i, p := range c.Params {
		if p.Type != types[i] {
			return false
		}
	}
	return true
}
