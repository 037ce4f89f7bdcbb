package mixpanel

import (
	"encoding/json"
	"math"
	"net/url"
	"reflect"
	"time"
)

// dateLayout is the timestamp format Mixpanel expects for date-valued properties.
const dateLayout = "2006-01-02T15:04:05"

// Value is a property value Mixpanel accepts. The set of implementations is closed.
type Value interface {
	raw() any
}

type (
	String string
	Int    int64
	Float  float64
	Bool   bool
	Null   struct{}
	List   []Value
	Dict   map[string]Value
)

type Time struct{ time.Time }

type URL struct{ *url.URL }

func (v String) raw() any { return string(v) }
func (v Int) raw() any    { return int64(v) }
func (v Float) raw() any  { return float64(v) }
func (v Bool) raw() any   { return bool(v) }
func (Null) raw() any     { return nil }
func (v Time) raw() any   { return v.UTC().Format(dateLayout) }

func (v URL) raw() any {
	if v.URL == nil {
		return nil
	}
	return v.URL.String()
}

func (v List) raw() any {
	out := make([]any, len(v))
	for i, item := range v {
		out[i] = item.raw()
	}
	return out
}

func (v Dict) raw() any {
	out := make(map[string]any, len(v))
	for k, item := range v {
		out[k] = item.raw()
	}
	return out
}

// Properties is a property map narrowed to Mixpanel value types.
type Properties map[string]Value

// Raw returns the wire representation of the properties.
func (p Properties) Raw() map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.raw()
	}
	return out
}

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Narrow converts a loosely typed property map into Mixpanel values. It reports
// false when any value, at any depth, has no Mixpanel representation. A nil map
// narrows to nil.
func Narrow(props map[string]any) (Properties, bool) {
	if props == nil {
		return nil, true
	}

	out := make(Properties, len(props))
	for k, v := range props {
		value, ok := ToValue(v)
		if !ok {
			return nil, false
		}
		out[k] = value
	}
	return out, true
}

// ToValue converts a single value. Non-finite floats and integers outside the
// int64 range are rejected since they cannot be encoded on the wire.
func ToValue(v any) (Value, bool) {
	switch x := v.(type) {
	case nil:
		return Null{}, true
	case Value:
		return x, true
	case string:
		return String(x), true
	case bool:
		return Bool(x), true
	case int:
		return Int(x), true
	case int8:
		return Int(x), true
	case int16:
		return Int(x), true
	case int32:
		return Int(x), true
	case int64:
		return Int(x), true
	case uint8:
		return Int(x), true
	case uint16:
		return Int(x), true
	case uint32:
		return Int(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, false
		}
		return Int(x), true
	case uint64:
		if x > math.MaxInt64 {
			return nil, false
		}
		return Int(x), true
	case float32:
		return toFloat(float64(x))
	case float64:
		return toFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), true
		}
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return toFloat(f)
	case time.Time:
		return Time{x}, true
	case *time.Time:
		if x == nil {
			return Null{}, true
		}
		return Time{*x}, true
	case *url.URL:
		if x == nil {
			return Null{}, true
		}
		return URL{x}, true
	case url.URL:
		return URL{&x}, true
	case []any:
		list := make(List, len(x))
		for i, item := range x {
			value, ok := ToValue(item)
			if !ok {
				return nil, false
			}
			list[i] = value
		}
		return list, true
	case []string:
		list := make(List, len(x))
		for i, item := range x {
			list[i] = String(item)
		}
		return list, true
	case map[string]any:
		dict := make(Dict, len(x))
		for k, item := range x {
			value, ok := ToValue(item)
			if !ok {
				return nil, false
			}
			dict[k] = value
		}
		return dict, true
	default:
		return reflectValue(reflect.ValueOf(v))
	}
}

// reflectValue handles named types and collections other than []any and
// map[string]any. Maps need string keys.
func reflectValue(rv reflect.Value) (Value, bool) {
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), true
	case reflect.Bool:
		return Bool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return Int(u), true
	case reflect.Float32, reflect.Float64:
		return toFloat(rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, true
		}
		return ToValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		list := make(List, rv.Len())
		for i := range list {
			value, ok := ToValue(rv.Index(i).Interface())
			if !ok {
				return nil, false
			}
			list[i] = value
		}
		return list, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		dict := make(Dict, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			value, ok := ToValue(iter.Value().Interface())
			if !ok {
				return nil, false
			}
			dict[iter.Key().String()] = value
		}
		return dict, true
	default:
		return nil, false
	}
}

func toFloat(f float64) (Value, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return Float(f), true
}
