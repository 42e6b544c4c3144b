package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

var (
	integerGrammar = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatGrammar   = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// Boolean text tokens. Nothing else is accepted for a boolean text argument.
const (
	TrueToken  = "true"
	FalseToken = "false"
)

type fault struct {
	reason mcperr.Reason
	msg    string
}

func mismatch(format string, args ...any) *fault {
	return &fault{reason: mcperr.ReasonTypeMismatch, msg: fmt.Sprintf(format, args...)}
}

// CoerceText converts a single text value, such as a URI segment, to t.
// Only flat types can be carried as text.
func CoerceText(t Type, s string) (any, error) {
	v, f := coerceText(t, s)
	if f != nil {
		return nil, errors.Newf("%s: %s", f.reason, f.msg)
	}
	return v, nil
}

func coerceText(t Type, s string) (any, *fault) {
	switch t {
	case TypeString:
		return s, nil
	case TypeInteger:
		if !integerGrammar.MatchString(s) {
			return nil, mismatch("%q is not an integer", s)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, mismatch("%q does not fit in a 64-bit integer", s)
		}
		return n, nil
	case TypeFloat:
		if !floatGrammar.MatchString(s) {
			return nil, mismatch("%q is not a number", s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, mismatch("%q is out of range for a float", s)
		}
		return f, nil
	case TypeBoolean:
		switch s {
		case TrueToken:
			return true, nil
		case FalseToken:
			return false, nil
		}
		return nil, mismatch("%q is not %q or %q", s, TrueToken, FalseToken)
	default:
		return nil, mismatch("%s values cannot be given as text", t)
	}
}

// coerceValue converts a decoded JSON (or native Go) flat value to t without
// any cross-type conversion from text.
func coerceValue(t Type, v any) (any, *fault) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInteger:
		return toInt(v)
	case TypeFloat:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		if n, ok := v.(json.Number); ok {
			return coerceText(TypeFloat, n.String())
		}
	default:
		return nil, mismatch("%s is not a flat type", t)
	}
	return nil, mismatch("expected %s, got %s", t, kindOf(v))
}

func toInt(v any) (any, *fault) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, mismatch("%q is not an integer", n.String())
		}
		return floatToInt(f)
	}
	return nil, mismatch("expected integer, got %s", kindOf(v))
}

func uintToInt(u uint64) (any, *fault) {
	if u > math.MaxInt64 {
		return nil, mismatch("%d does not fit in a 64-bit integer", u)
	}
	return int64(u), nil
}

func floatToInt(f float64) (any, *fault) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, mismatch("%v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, mismatch("%v does not fit in a 64-bit integer", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize converts v to p's type without applying constraints. It is used
// for defaults and declared choices, which are trusted once Check has passed.
func normalize(p Param, v any) (any, error) {
	switch p.Type {
	case TypeRecord:
		m, ok := asMap(v)
		if !ok {
			return nil, errors.Newf("expected record, got %s", kindOf(v))
		}
		out := make(map[string]any, len(m))
		for k, raw := range m {
			f, known := p.Fields.Lookup(k)
			if !known {
				out[k] = raw
				continue
			}
			nv, err := normalize(f, raw)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case TypeSequence:
		s, ok := asSlice(v)
		if !ok {
			return nil, errors.Newf("expected sequence, got %s", kindOf(v))
		}
		out := make([]any, len(s))
		for i, raw := range s {
			if p.Items == nil {
				out[i] = raw
				continue
			}
			nv, err := normalize(*p.Items, raw)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case TypeMapping:
		m, ok := asMap(v)
		if !ok {
			return nil, errors.Newf("expected mapping, got %s", kindOf(v))
		}
		out := make(map[string]any, len(m))
		for k, raw := range m {
			if p.Values == nil {
				out[k] = raw
				continue
			}
			nv, err := normalize(*p.Values, raw)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	}
	nv, f := coerceValue(p.Type, v)
	if f != nil {
		s, isText := v.(string)
		if !isText {
			return nil, errors.New(f.msg)
		}
		if nv, f = coerceText(p.Type, s); f != nil {
			return nil, errors.New(f.msg)
		}
	}
	return nv, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Values:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case map[string]any, Values:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
