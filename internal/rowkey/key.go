// Package rowkey builds order-sensitive composite identity keys.
//
// A Key accumulates values in order. Two keys are equal only when every
// accumulated value is equal; the running hash is used for bucketing and as a
// fast reject, never as the equality decision.
package rowkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

const (
	defaultMultiplier = 37
	defaultHashcode   = 17
)

// Key is an ordered accumulation of values. The zero value is not usable; use New.
type Key struct {
	multiplier uint64
	hashcode   uint64
	checksum   uint64
	count      int
	parts      []any
	null       bool
}

var nullKey = &Key{multiplier: defaultMultiplier, hashcode: defaultHashcode, null: true}

// Null returns the sentinel key that identifies nothing. It is never stored.
func Null() *Key {
	return nullKey
}

// New creates an empty key seeded with the given values.
func New(values ...any) *Key {
	k := &Key{multiplier: defaultMultiplier, hashcode: defaultHashcode}
	for _, v := range values {
		k.Update(v)
	}
	return k
}

// Update appends a value to the key.
func (k *Key) Update(v any) {
	if k.null {
		panic("rowkey: cannot update the null key")
	}
	base := hashValue(v)
	k.count++
	k.checksum += base
	base *= uint64(k.count)
	k.hashcode = k.multiplier*k.hashcode + base
	k.parts = append(k.parts, v)
}

// UpdateAll appends every value in order.
func (k *Key) UpdateAll(values ...any) {
	for _, v := range values {
		k.Update(v)
	}
}

// Count is the number of values accumulated so far.
func (k *Key) Count() int {
	return k.count
}

// IsNull reports whether k is the null sentinel.
func (k *Key) IsNull() bool {
	return k == nil || k.null
}

// Hash returns the running hash of the accumulated values.
func (k *Key) Hash() uint64 {
	return k.hashcode
}

// Clone returns an independent copy that can be updated further.
func (k *Key) Clone() *Key {
	if k.null {
		return k
	}
	c := *k
	c.parts = append([]any(nil), k.parts...)
	return &c
}

// Combine returns child extended with parent, or the null key when either side
// does not identify a row on its own (one update is only the mapping id).
func Combine(child, parent *Key) *Key {
	if child.IsNull() || parent.IsNull() || child.count < 2 || parent.count < 2 {
		return nullKey
	}
	combined := child.Clone()
	combined.Update(parent)
	return combined
}

// Equal compares every accumulated value in order.
func (k *Key) Equal(other *Key) bool {
	if k == other {
		return true
	}
	if k == nil || other == nil || k.null || other.null {
		return false
	}
	if k.hashcode != other.hashcode || k.checksum != other.checksum || k.count != other.count {
		return false
	}
	for i := range k.parts {
		if !valuesEqual(k.parts[i], other.parts[i]) {
			return false
		}
	}
	return true
}

func (k *Key) String() string {
	if k.null {
		return "rowkey(null)"
	}
	var b strings.Builder
	b.WriteString(strconv.FormatUint(k.hashcode, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(k.checksum, 10))
	for _, p := range k.parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *Key:
		bv, ok := b.(*Key)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if reflect.ValueOf(a).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func hashValue(v any) uint64 {
	if k, ok := v.(*Key); ok {
		return k.hashcode
	}
	return xxh3.Hash(canonicalBytes(v))
}

// canonicalBytes encodes a value with a type tag so that equal values always
// produce equal bytes and values of different kinds rarely collide.
func canonicalBytes(v any) []byte {
	var buf [9]byte
	switch val := v.(type) {
	case nil:
		return []byte{'n'}
	case string:
		return append([]byte{'s'}, val...)
	case []byte:
		return append([]byte{'b'}, val...)
	case bool:
		if val {
			return []byte{'t'}
		}
		return []byte{'f'}
	case int:
		return intBytes(buf[:], 'i', int64(val))
	case int8:
		return intBytes(buf[:], 'i', int64(val))
	case int16:
		return intBytes(buf[:], 'i', int64(val))
	case int32:
		return intBytes(buf[:], 'i', int64(val))
	case int64:
		return intBytes(buf[:], 'i', val)
	case uint:
		return uintBytes(buf[:], 'u', uint64(val))
	case uint8:
		return uintBytes(buf[:], 'u', uint64(val))
	case uint16:
		return uintBytes(buf[:], 'u', uint64(val))
	case uint32:
		return uintBytes(buf[:], 'u', uint64(val))
	case uint64:
		return uintBytes(buf[:], 'u', val)
	case float32:
		return uintBytes(buf[:], 'd', math.Float64bits(float64(val)))
	case float64:
		return uintBytes(buf[:], 'd', math.Float64bits(val))
	case time.Time:
		return append([]byte{'T'}, val.UTC().Format(time.RFC3339Nano)...)
	case uuid.UUID:
		return append([]byte{'U'}, val[:]...)
	case fmt.Stringer:
		return append([]byte{'S'}, val.String()...)
	default:
		return []byte(fmt.Sprintf("%T:%v", v, v))
	}
}

func intBytes(buf []byte, tag byte, v int64) []byte {
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], uint64(v))
	return append([]byte(nil), buf...)
}

func uintBytes(buf []byte, tag byte, v uint64) []byte {
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], v)
	return append([]byte(nil), buf...)
}
