// Package schema describes handler parameters and validates raw invocation
// arguments against them.
//
// A handler's parameters are an ordered Params list. Each Param declares a
// type, whether it is required, an optional default and the constraints that
// apply to its type (numeric range, string pattern, enumerated choices).
// Params are normally derived once at registration time by Reflect from a Go
// argument struct, but can also be written by hand.
//
// Validate turns raw arguments (text segments from a resource URI, or decoded
// JSON for a tool call) into typed Values, collecting every field failure
// instead of stopping at the first.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
)

// Type is the declared type of a parameter.
type Type string

const (
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeString   Type = "string"
	TypeRecord   Type = "record"
	TypeSequence Type = "sequence"
	TypeMapping  Type = "mapping"
)

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeBoolean, TypeString, TypeRecord, TypeSequence, TypeMapping:
		return true
	}
	return false
}

// Numeric reports whether range constraints apply to t.
func (t Type) Numeric() bool { return t == TypeInteger || t == TypeFloat }

// Flat reports whether t can be carried by a single text value.
func (t Type) Flat() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeBoolean, TypeString:
		return true
	}
	return false
}

// JSONType is the JSON Schema type keyword for t.
func (t Type) JSONType() string {
	switch t {
	case TypeFloat:
		return "number"
	case TypeRecord, TypeMapping:
		return "object"
	case TypeSequence:
		return "array"
	default:
		return string(t)
	}
}

// Param is a single parameter descriptor.
type Param struct {
	Name        string
	Type        Type
	Description string
	Required    bool
	// Default is substituted when the argument is absent. nil means no default.
	Default any

	Minimum *float64
	Maximum *float64
	Pattern string
	Choices []any

	// Fields describes a record's members.
	Fields Params
	// Items describes a sequence's elements. nil accepts any element.
	Items *Param
	// Values describes a mapping's values. nil accepts any value.
	Values *Param
}

// HasDefault reports whether p declares a default value.
func (p Param) HasDefault() bool { return p.Default != nil }

// Params is an ordered list of parameter descriptors.
type Params []Param

// Lookup returns the descriptor named name.
func (ps Params) Lookup(name string) (Param, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Names returns the parameter names in declaration order.
func (ps Params) Names() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// ErrInvalidParam is wrapped by every error returned from Check.
var ErrInvalidParam = errors.New("invalid parameter descriptor")

// Check verifies the descriptor invariants: unique names, a default only on
// optional parameters, constraints only on compatible types, min <= max and
// choices/defaults that coerce to the declared type.
func (ps Params) Check() error {
	return ps.check("")
}

func (ps Params) check(prefix string) error {
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		path := joinPath(prefix, p.Name)
		if p.Name == "" {
			return errors.Wrapf(ErrInvalidParam, "%s: empty name", displayPath(prefix))
		}
		if _, dup := seen[p.Name]; dup {
			return errors.Wrapf(ErrInvalidParam, "%s: duplicate name", path)
		}
		seen[p.Name] = struct{}{}
		if err := p.check(path); err != nil {
			return err
		}
	}
	return nil
}

func (p Param) check(path string) error {
	if !p.Type.Valid() {
		return errors.Wrapf(ErrInvalidParam, "%s: unknown type %q", path, p.Type)
	}
	if p.HasDefault() && p.Required {
		return errors.Wrapf(ErrInvalidParam, "%s: a parameter with a default must be optional", path)
	}
	if p.Pattern != "" {
		if p.Type != TypeString {
			return errors.Wrapf(ErrInvalidParam, "%s: pattern requires type string, got %s", path, p.Type)
		}
		if _, err := compilePattern(p.Pattern); err != nil {
			return errors.Wrapf(ErrInvalidParam, "%s: bad pattern: %v", path, err)
		}
	}
	if p.Minimum != nil || p.Maximum != nil {
		if !p.Type.Numeric() {
			return errors.Wrapf(ErrInvalidParam, "%s: minimum/maximum require a numeric type, got %s", path, p.Type)
		}
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return errors.Wrapf(ErrInvalidParam, "%s: minimum %v exceeds maximum %v", path, *p.Minimum, *p.Maximum)
		}
	}
	if len(p.Choices) > 0 && !p.Type.Flat() {
		return errors.Wrapf(ErrInvalidParam, "%s: choices require a flat type, got %s", path, p.Type)
	}
	for _, c := range p.Choices {
		if _, err := normalize(Param{Type: p.Type}, c); err != nil {
			return errors.Wrapf(ErrInvalidParam, "%s: choice %v is not a %s", path, c, p.Type)
		}
	}
	if p.HasDefault() {
		if _, err := normalize(p, p.Default); err != nil {
			return errors.Wrapf(ErrInvalidParam, "%s: default %v is not a %s", path, p.Default, p.Type)
		}
	}
	switch p.Type {
	case TypeRecord:
		if err := p.Fields.check(path); err != nil {
			return err
		}
	case TypeSequence:
		if p.Items != nil {
			if err := p.Items.check(path + "[]"); err != nil {
				return err
			}
		}
	case TypeMapping:
		if p.Values != nil {
			if err := p.Values.check(path + "{}"); err != nil {
				return err
			}
		}
	default:
		if len(p.Fields) > 0 || p.Items != nil || p.Values != nil {
			return errors.Wrapf(ErrInvalidParam, "%s: nested descriptors require record, sequence or mapping", path)
		}
	}
	return nil
}

// Values holds validated, typed arguments keyed by parameter name. Integers
// are int64, floats float64, booleans bool, strings string, records and
// mappings map[string]any and sequences []any.
type Values map[string]any

// Has reports whether name is present.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// String returns the string argument name, or "" when absent.
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Int returns the integer argument name, or 0 when absent.
func (v Values) Int(name string) int64 {
	i, _ := v[name].(int64)
	return i
}

// Float returns the float argument name, or 0 when absent.
func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

// Bool returns the boolean argument name, or false when absent.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Ptr is a convenience for building Minimum/Maximum bounds.
func Ptr(f float64) *float64 { return &f }

var patternCache sync.Map // string -> *regexp.Regexp

// compilePattern anchors p so it must match the whole string.
func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + p + `)$`)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func displayPath(p string) string {
	if p == "" {
		return "(root)"
	}
	return p
}

func formatBound(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(f)
}
