package schema

import (
	"encoding/json"
	"reflect"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
)

// Reflect derives Params from the exported fields of struct type T.
//
// Field names come from json tags. A field is required unless its json tag
// has omitempty or it declares a default. Constraints come from jsonschema
// tags, for example:
//
//	type Args struct {
//		Operation string  `json:"operation" jsonschema:"pattern=^(add|subtract)$"`
//		Precision int     `json:"precision,omitempty" jsonschema:"minimum=0,maximum=10,default=2"`
//		Section   string  `json:"section" jsonschema:"enum=profile,enum=settings"`
//	}
func Reflect[T any]() (Params, error) {
	return ReflectType(reflect.TypeFor[T]())
}

// MustReflect is Reflect that panics on error. It is meant for package-level
// handler definitions.
func MustReflect[T any]() Params {
	ps, err := Reflect[T]()
	if err != nil {
		panic(err)
	}
	return ps
}

// ReflectType is Reflect for a runtime type. t must be a struct or a pointer
// to one.
func ReflectType(t reflect.Type) (ps Params, err error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrInvalidParam, "argument type %s is not a struct", t)
	}
	defer func() {
		// The reflector panics on kinds it cannot describe (channels, funcs).
		if r := recover(); r != nil {
			ps, err = nil, errors.Wrapf(ErrInvalidParam, "reflect %s: %v", t, r)
		}
	}()

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	s := r.ReflectFromType(t)
	ps, err = fromObject("", s)
	if err != nil {
		return nil, err
	}
	if err := ps.Check(); err != nil {
		return nil, err
	}
	return ps, nil
}

func fromObject(path string, s *jsonschema.Schema) (Params, error) {
	if s.Properties == nil {
		return Params{}, nil
	}
	var ps Params
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		p, err := fromSchema(joinPath(path, el.Key), el.Key, el.Value)
		if err != nil {
			return nil, err
		}
		p.Required = slices.Contains(s.Required, el.Key) && !p.HasDefault()
		ps = append(ps, p)
	}
	return ps, nil
}

func fromSchema(path, name string, s *jsonschema.Schema) (Param, error) {
	p := Param{Name: name, Description: s.Description}
	switch s.Type {
	case "integer":
		p.Type = TypeInteger
	case "number":
		p.Type = TypeFloat
	case "boolean":
		p.Type = TypeBoolean
	case "string":
		p.Type = TypeString
		p.Pattern = s.Pattern
	case "array":
		p.Type = TypeSequence
		if s.Items != nil && s.Items.Type != "" {
			items, err := fromSchema(path+"[]", "", s.Items)
			if err != nil {
				return Param{}, err
			}
			p.Items = &items
		}
	case "object":
		if s.Properties != nil {
			p.Type = TypeRecord
			fields, err := fromObject(path, s)
			if err != nil {
				return Param{}, err
			}
			p.Fields = fields
			break
		}
		if s.AdditionalProperties == jsonschema.FalseSchema {
			return Param{}, errors.Wrapf(ErrInvalidParam, "%s: mappings must have string keys", path)
		}
		p.Type = TypeMapping
		if s.AdditionalProperties != nil && s.AdditionalProperties.Type != "" {
			values, err := fromSchema(path+"{}", "", s.AdditionalProperties)
			if err != nil {
				return Param{}, err
			}
			p.Values = &values
		}
	default:
		return Param{}, errors.Wrapf(ErrInvalidParam, "%s: unsupported schema type %q", path, s.Type)
	}

	if p.Type.Numeric() {
		if s.Minimum != "" {
			f, err := s.Minimum.Float64()
			if err != nil {
				return Param{}, errors.Wrapf(ErrInvalidParam, "%s: minimum: %v", path, err)
			}
			p.Minimum = &f
		}
		if s.Maximum != "" {
			f, err := s.Maximum.Float64()
			if err != nil {
				return Param{}, errors.Wrapf(ErrInvalidParam, "%s: maximum: %v", path, err)
			}
			p.Maximum = &f
		}
	}
	for _, c := range s.Enum {
		v, err := normalize(Param{Type: p.Type}, unwrapNumber(c))
		if err != nil {
			return Param{}, errors.Wrapf(ErrInvalidParam, "%s: choice %v: %v", path, c, err)
		}
		p.Choices = append(p.Choices, v)
	}
	if s.Default != nil {
		v, err := normalize(p, unwrapNumber(s.Default))
		if err != nil {
			return Param{}, errors.Wrapf(ErrInvalidParam, "%s: default %v: %v", path, s.Default, err)
		}
		p.Default = v
	}
	return p, nil
}

func unwrapNumber(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
