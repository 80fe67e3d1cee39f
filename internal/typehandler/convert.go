package typehandler

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rowgraph/internal/sqltype"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

func conversionError(raw any, target string, err error) error {
	if err != nil {
		return fmt.Errorf("cannot convert %T value %v to %s: %w", raw, raw, target, err)
	}
	return fmt.Errorf("cannot convert %T value %v to %s", raw, raw, target)
}

func toString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case []byte:
		return parseBool(raw, string(v))
	case string:
		return parseBool(raw, v)
	}
	if i, ok := integerOf(raw); ok {
		return i != 0, nil
	}
	return nil, conversionError(raw, "bool", nil)
}

func parseBool(raw any, s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, conversionError(raw, "bool", err)
	}
	return b, nil
}

func toInt64(raw any) (any, error) {
	if i, ok := integerOf(raw); ok {
		return i, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return nil, conversionError(raw, "int64", nil)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return parseInt(raw, string(v))
	case string:
		return parseInt(raw, v)
	}
	return nil, conversionError(raw, "int64", nil)
}

func parseInt(raw any, s string) (any, error) {
	s = strings.TrimSpace(s)
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr == nil && f == math.Trunc(f) {
		return int64(f), nil
	}
	return nil, conversionError(raw, "int64", err)
}

func toUint64(raw any) (any, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case []byte:
		return parseUint(raw, string(v))
	case string:
		return parseUint(raw, v)
	}
	i, err := toInt64(raw)
	if err != nil {
		return nil, conversionError(raw, "uint64", err)
	}
	if i.(int64) < 0 {
		return nil, conversionError(raw, "uint64", nil)
	}
	return uint64(i.(int64)), nil
}

func parseUint(raw any, s string) (any, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, conversionError(raw, "uint64", err)
	}
	return u, nil
}

func toFloat64(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return parseFloat(raw, string(v))
	case string:
		return parseFloat(raw, v)
	}
	if i, ok := integerOf(raw); ok {
		return float64(i), nil
	}
	if u, ok := raw.(uint64); ok {
		return float64(u), nil
	}
	return nil, conversionError(raw, "float64", nil)
}

func parseFloat(raw any, s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, conversionError(raw, "float64", err)
	}
	return f, nil
}

func toTime(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return parseTime(raw, string(v))
	case string:
		return parseTime(raw, v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return nil, conversionError(raw, "time.Time", nil)
}

func parseTime(raw any, s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, conversionError(raw, "time.Time", nil)
}

func toBytes(raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	case uuid.UUID:
		return append([]byte(nil), v[:]...), nil
	}
	return nil, conversionError(raw, "[]byte", nil)
}

// toUUID accepts textual UUIDs and 16-byte RFC-order binary storage.
func toUUID(raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		u, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, conversionError(raw, "uuid.UUID", err)
		}
		return u, nil
	case []byte:
		if len(v) == 16 {
			u, err := uuid.FromBytes(v)
			if err != nil {
				return nil, conversionError(raw, "uuid.UUID", err)
			}
			return u, nil
		}
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return nil, conversionError(raw, "uuid.UUID", err)
		}
		return u, nil
	}
	return nil, conversionError(raw, "uuid.UUID", nil)
}

func integerOf(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint8:
		return int64(v), true
	}
	return 0, false
}

// unknownHandler picks a conversion from the column's type class and leaves
// values of unrecognized columns as the driver returned them, except text bytes.
type unknownHandler struct {
	class sqltype.Class
}

func (h unknownHandler) Result(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch h.class {
	case sqltype.Integer:
		if _, isBool := raw.(bool); isBool {
			return raw, nil
		}
		return toInt64(raw)
	case sqltype.Float:
		return toFloat64(raw)
	case sqltype.Decimal, sqltype.String, sqltype.JSON:
		return toString(raw)
	case sqltype.Boolean:
		if b, ok := raw.([]byte); ok && len(b) == 1 && (b[0] == 0 || b[0] == 1) {
			return b[0] == 1, nil
		}
		return toBool(raw)
	case sqltype.Binary:
		return toBytes(raw)
	case sqltype.Temporal:
		return toTime(raw)
	case sqltype.UUID:
		return toUUID(raw)
	}
	if b, ok := raw.([]byte); ok {
		return string(b), nil
	}
	return raw, nil
}

// scannerHandler delegates to a type implementing sql.Scanner.
type scannerHandler struct {
	typ reflect.Type
}

func (h scannerHandler) Result(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	ptr := reflect.New(h.typ)
	if err := ptr.Interface().(interface{ Scan(any) error }).Scan(raw); err != nil {
		return nil, conversionError(raw, h.typ.String(), err)
	}
	return ptr.Elem().Interface(), nil
}
