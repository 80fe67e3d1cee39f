package meta

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Get reads a (possibly dotted) property from a struct pointer or string-keyed map.
// Missing intermediate values read as nil.
func (r *Registry) Get(obj any, property string) (any, error) {
	v, err := r.locate(reflect.ValueOf(obj), property, false)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, nil
	}
	if (v.Kind() == reflect.Slice || v.Kind() == reflect.Map || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil, nil
	}
	return v.Interface(), nil
}

// Set assigns value to a (possibly dotted) property, allocating nil intermediate
// structs and maps. Values are converted to the declared type where the kinds agree.
func (r *Registry) Set(obj any, property string, value any) error {
	root := reflect.ValueOf(obj)
	head, last := splitLast(property)
	target := root
	if head != "" {
		var err error
		target, err = r.locate(root, head, true)
		if err != nil {
			return err
		}
	}
	return r.setMember(target, last, value)
}

// Append adds elem to the slice held by a struct or map property.
func (r *Registry) Append(obj any, property string, elem any) error {
	cur, err := r.locate(reflect.ValueOf(obj), property, false)
	if err != nil {
		return err
	}
	if cur.Kind() == reflect.Interface {
		cur = cur.Elem()
	}
	if !cur.IsValid() {
		return r.Set(obj, property, []any{elem})
	}
	if cur.Kind() != reflect.Slice {
		return fmt.Errorf("property %q of %T is not a slice", property, obj)
	}
	ev, err := convertValue(elem, cur.Type().Elem())
	if err != nil {
		return fmt.Errorf("cannot append to %q of %T: %w", property, obj, err)
	}
	return r.Set(obj, property, reflect.Append(cur, ev).Interface())
}

// Addr returns a pointer to a struct field so that callers can bind into it.
// Map owners have no addressable members and return an error.
func (r *Registry) Addr(obj any, property string) (any, error) {
	v, err := r.locate(reflect.ValueOf(obj), property, true)
	if err != nil {
		return nil, err
	}
	if !v.CanAddr() {
		return nil, fmt.Errorf("property %q of %T is not addressable", property, obj)
	}
	return v.Addr().Interface(), nil
}

func splitLast(property string) (string, string) {
	if i := strings.LastIndexByte(property, '.'); i >= 0 {
		return property[:i], property[i+1:]
	}
	return "", property
}

// locate walks a dotted path. With create set, nil pointers and maps on the way
// are allocated.
func (r *Registry) locate(v reflect.Value, path string, create bool) (reflect.Value, error) {
	for _, name := range strings.Split(path, ".") {
		v = indirect(v, create)
		if !v.IsValid() {
			return reflect.Value{}, nil
		}
		switch v.Kind() {
		case reflect.Struct:
			p, ok := r.For(v.Type()).Property(name)
			if !ok {
				return reflect.Value{}, fmt.Errorf("no property %q in %s", name, v.Type())
			}
			v = v.FieldByIndex(p.index)
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return reflect.Value{}, fmt.Errorf("cannot read %q from %s", name, v.Type())
			}
			if v.IsNil() {
				if !create || !v.CanSet() {
					return reflect.Value{}, nil
				}
				v.Set(reflect.MakeMap(v.Type()))
			}
			next := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
			if !next.IsValid() {
				if !create {
					return reflect.Value{}, nil
				}
				next = reflect.ValueOf(map[string]any{})
				v.SetMapIndex(reflect.ValueOf(name).Convert(v.Type().Key()), next)
			}
			v = next
		default:
			return reflect.Value{}, fmt.Errorf("cannot read %q from %s", name, v.Type())
		}
	}
	return v, nil
}

func indirect(v reflect.Value, create bool) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			if !create || v.Kind() == reflect.Interface || !v.CanSet() {
				return reflect.Value{}
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}

func (r *Registry) setMember(target reflect.Value, name string, value any) error {
	target = indirect(target, true)
	if !target.IsValid() {
		return fmt.Errorf("cannot set %q on a nil owner", name)
	}
	switch target.Kind() {
	case reflect.Struct:
		p, ok := r.For(target.Type()).Property(name)
		if !ok {
			return fmt.Errorf("no property %q in %s", name, target.Type())
		}
		field := target.FieldByIndex(p.index)
		if !field.CanSet() {
			return fmt.Errorf("property %q of %s is not settable", name, target.Type())
		}
		rv, err := convertValue(value, field.Type())
		if err != nil {
			return fmt.Errorf("cannot set %s.%s: %w", target.Type(), name, err)
		}
		field.Set(rv)
		return nil
	case reflect.Map:
		if target.IsNil() {
			if !target.CanSet() {
				return fmt.Errorf("cannot set %q on a nil map", name)
			}
			target.Set(reflect.MakeMap(target.Type()))
		}
		rv, err := convertValue(value, target.Type().Elem())
		if err != nil {
			return fmt.Errorf("cannot set map key %q: %w", name, err)
		}
		target.SetMapIndex(reflect.ValueOf(name).Convert(target.Type().Key()), rv)
		return nil
	}
	return fmt.Errorf("cannot set %q on %s", name, target.Type())
}

// Convert adapts a value to type t using the same rules as Set.
func Convert(value any, t reflect.Type) (any, error) {
	rv, err := convertValue(value, t)
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

func convertValue(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := convertValue(value, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Zero(t), nil
		}
		return convertValue(v.Elem().Interface(), t)
	}
	if t.Kind() == reflect.Slice && v.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(t, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := convertValue(v.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, ev)
		}
		return out, nil
	}
	if t.Kind() == reflect.Map && v.Kind() == reflect.Map {
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			kv, err := convertValue(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			ev, err := convertValue(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(kv, ev)
		}
		return out, nil
	}
	if compatibleKinds(v.Kind(), t.Kind()) && v.Type().ConvertibleTo(t) {
		if isNumber(v.Kind()) && !fitsNumber(v, t) {
			return reflect.Value{}, fmt.Errorf("%T value %v does not fit %s", value, value, t)
		}
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%T is not assignable to %s", value, t)
}

// fitsNumber reports whether v converts to the numeric type t without
// wrapping, truncating a fraction or losing its sign.
func fitsNumber(v reflect.Value, t reflect.Type) bool {
	zero := reflect.Zero(t)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		switch {
		case isInt(t.Kind()):
			return !zero.OverflowInt(n)
		case isUint(t.Kind()):
			return n >= 0 && !zero.OverflowUint(uint64(n))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := v.Uint()
		switch {
		case isInt(t.Kind()):
			return n <= math.MaxInt64 && !zero.OverflowInt(int64(n))
		case isUint(t.Kind()):
			return !zero.OverflowUint(n)
		}
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch {
		case isInt(t.Kind()):
			return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !zero.OverflowInt(int64(f))
		case isUint(t.Kind()):
			return f == math.Trunc(f) && f >= 0 && f < math.MaxUint64 && !zero.OverflowUint(uint64(f))
		}
		if t.Kind() == reflect.Float32 {
			return math.IsInf(f, 0) || math.IsNaN(f) || !zero.OverflowFloat(f)
		}
	}
	return true
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func compatibleKinds(from, to reflect.Kind) bool {
	switch {
	case from == to:
		return true
	case isNumber(from) && isNumber(to):
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
