package schema

import (
	"fmt"
	"sort"

	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

// Mode selects how raw argument values are interpreted.
type Mode int

const (
	// ModeStructured treats raw values as decoded JSON. Tool arguments use it.
	ModeStructured Mode = iota
	// ModeText treats raw string values as text to be parsed. Resource URI
	// segments and prompt arguments use it. Structured types are rejected.
	ModeText
)

func (m Mode) String() string {
	if m == ModeText {
		return "text"
	}
	return "structured"
}

// ValidateOption configures Validate.
type ValidateOption func(*validator)

// AllowUnknown accepts argument keys that match no descriptor. They are
// dropped from the result.
func AllowUnknown() ValidateOption {
	return func(v *validator) { v.allowUnknown = true }
}

// Validate checks raw against params and returns the typed values. Every
// descriptor is checked; if any fails the returned error is an *mcperr.Error
// with CodeValidation listing all failures in declaration order.
func Validate(params Params, raw map[string]any, mode Mode, opts ...ValidateOption) (Values, error) {
	v := &validator{mode: mode}
	for _, opt := range opts {
		opt(v)
	}
	out := v.fields(params, "", raw)
	if len(v.errs) > 0 {
		return nil, mcperr.Validation(v.errs)
	}
	return Values(out), nil
}

// ValidateText is Validate in ModeText over string arguments.
func ValidateText(params Params, raw map[string]string, opts ...ValidateOption) (Values, error) {
	m := make(map[string]any, len(raw))
	for k, s := range raw {
		m[k] = s
	}
	return Validate(params, m, ModeText, opts...)
}

type validator struct {
	mode         Mode
	allowUnknown bool
	errs         []mcperr.FieldError
}

func (v *validator) fail(path string, r mcperr.Reason, format string, args ...any) {
	v.errs = append(v.errs, mcperr.FieldError{Path: path, Reason: r, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) fields(params Params, prefix string, raw map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for _, p := range params {
		path := joinPath(prefix, p.Name)
		val, present := raw[p.Name]
		if present && val == nil {
			present = false
		}
		if !present {
			if p.HasDefault() {
				if d, err := normalize(p, p.Default); err == nil {
					out[p.Name] = d
				}
				continue
			}
			if p.Required {
				v.fail(path, mcperr.ReasonMissingRequired, "required argument is missing")
			}
			continue
		}
		if got, ok := v.value(p, path, val); ok {
			out[p.Name] = got
		}
	}
	if !v.allowUnknown {
		var unknown []string
		for k := range raw {
			if _, ok := params.Lookup(k); !ok {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			v.fail(joinPath(prefix, k), mcperr.ReasonTypeMismatch, "unknown argument")
		}
	}
	return out
}

func (v *validator) value(p Param, path string, raw any) (any, bool) {
	if p.Type.Flat() {
		var (
			got any
			f   *fault
		)
		if s, isText := raw.(string); isText && v.mode == ModeText {
			got, f = coerceText(p.Type, s)
		} else {
			got, f = coerceValue(p.Type, raw)
		}
		if f != nil {
			v.fail(path, f.reason, "%s", f.msg)
			return nil, false
		}
		return v.constrain(p, path, got)
	}
	if v.mode == ModeText {
		v.fail(path, mcperr.ReasonTypeMismatch, "%s values cannot be given as text", p.Type)
		return nil, false
	}

	before := len(v.errs)
	switch p.Type {
	case TypeRecord:
		m, ok := asMap(raw)
		if !ok {
			v.fail(path, mcperr.ReasonTypeMismatch, "expected record, got %s", kindOf(raw))
			return nil, false
		}
		out := v.fields(p.Fields, path, m)
		return out, len(v.errs) == before
	case TypeSequence:
		s, ok := asSlice(raw)
		if !ok {
			v.fail(path, mcperr.ReasonTypeMismatch, "expected sequence, got %s", kindOf(raw))
			return nil, false
		}
		out := make([]any, len(s))
		for i, el := range s {
			if p.Items == nil {
				out[i] = el
				continue
			}
			if got, ok := v.value(*p.Items, indexPath(path, i), el); ok {
				out[i] = got
			}
		}
		return out, len(v.errs) == before
	case TypeMapping:
		m, ok := asMap(raw)
		if !ok {
			v.fail(path, mcperr.ReasonTypeMismatch, "expected mapping, got %s", kindOf(raw))
			return nil, false
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(m))
		for _, k := range keys {
			if p.Values == nil {
				out[k] = m[k]
				continue
			}
			if got, ok := v.value(*p.Values, joinPath(path, k), m[k]); ok {
				out[k] = got
			}
		}
		return out, len(v.errs) == before
	}
	v.fail(path, mcperr.ReasonTypeMismatch, "unknown type %q", p.Type)
	return nil, false
}

// constrain applies choices, then range, then pattern. Only the first
// violated constraint is reported for a field.
func (v *validator) constrain(p Param, path string, val any) (any, bool) {
	if len(p.Choices) > 0 && !inChoices(p.Type, val, p.Choices) {
		v.fail(path, mcperr.ReasonNotInChoices, "%v is not one of %v", val, p.Choices)
		return nil, false
	}
	if p.Type.Numeric() {
		f, _ := toFloat(val)
		if p.Minimum != nil && f < *p.Minimum {
			v.fail(path, mcperr.ReasonOutOfRange, "%v is below minimum %s", val, formatBound(*p.Minimum))
			return nil, false
		}
		if p.Maximum != nil && f > *p.Maximum {
			v.fail(path, mcperr.ReasonOutOfRange, "%v is above maximum %s", val, formatBound(*p.Maximum))
			return nil, false
		}
	}
	if p.Pattern != "" {
		re, err := compilePattern(p.Pattern)
		if err != nil {
			v.fail(path, mcperr.ReasonPatternMismatch, "bad pattern %q: %v", p.Pattern, err)
			return nil, false
		}
		if s, _ := val.(string); !re.MatchString(s) {
			v.fail(path, mcperr.ReasonPatternMismatch, "%q does not match %q", s, p.Pattern)
			return nil, false
		}
	}
	return val, true
}

func inChoices(t Type, val any, choices []any) bool {
	for _, c := range choices {
		cv, err := normalize(Param{Type: t}, c)
		if err != nil {
			continue
		}
		if t.Numeric() {
			a, _ := toFloat(val)
			b, _ := toFloat(cv)
			if a == b {
				return true
			}
			continue
		}
		if cv == val {
			return true
		}
	}
	return false
}
