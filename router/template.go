// Package router matches resource URIs against registered URI templates.
//
// Templates are a restricted form of RFC 6570: a template is split into
// segments on "/" (the "scheme://" prefix is its own leading segment) and
// every segment is either a literal or a single whole-segment placeholder such
// as {user_id}. A URI matches a template when it has the same number of
// segments, every literal segment is equal and every placeholder segment is
// non-empty. When several templates match, the one with the most literal
// segments wins; a tie is an error rather than an implicit precedence rule.
package router

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/yosida95/uritemplate/v3"
)

// ErrInvalidTemplate is wrapped by every Parse error.
var ErrInvalidTemplate = errors.New("invalid uri template")

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const schemeSep = "://"

// Segment is one element of a template. Exactly one of Literal or Var is
// meaningful: Var is non-empty for placeholders.
type Segment struct {
	Literal string
	Var     string
}

// IsVar reports whether s is a placeholder.
func (s Segment) IsVar() bool { return s.Var != "" }

// Template is a parsed resource URI template.
type Template struct {
	raw      string
	segments []Segment
	vars     []string
	expander *uritemplate.Template
}

// Parse parses raw into a Template. Placeholder names must be unique and
// each placeholder must occupy a whole segment.
func Parse(raw string) (*Template, error) {
	if raw == "" {
		return nil, errors.Wrap(ErrInvalidTemplate, "empty template")
	}
	expander, err := uritemplate.New(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidTemplate, "%q: %v", raw, err)
	}

	t := &Template{raw: raw, expander: expander}
	seen := make(map[string]struct{})
	for _, part := range split(raw) {
		if !strings.ContainsAny(part, "{}") {
			t.segments = append(t.segments, Segment{Literal: part})
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(part, "{"), "}")
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") || !varName.MatchString(name) {
			return nil, errors.Wrapf(ErrInvalidTemplate, "%q: segment %q must be a literal or a single {name} placeholder", raw, part)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Wrapf(ErrInvalidTemplate, "%q: placeholder %q is repeated", raw, name)
		}
		seen[name] = struct{}{}
		t.segments = append(t.segments, Segment{Var: name})
		t.vars = append(t.vars, name)
	}
	if got := expander.Varnames(); len(got) != len(t.vars) {
		return nil, errors.Wrapf(ErrInvalidTemplate, "%q: placeholders %v do not match %v", raw, got, t.vars)
	}
	return t, nil
}

// MustParse is Parse that panics on error.
func MustParse(raw string) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template as written.
func (t *Template) String() string { return t.raw }

// Segments returns a copy of the template's segments.
func (t *Template) Segments() []Segment { return append([]Segment(nil), t.segments...) }

// Vars returns the placeholder names in order.
func (t *Template) Vars() []string { return append([]string(nil), t.vars...) }

// Specificity is the number of literal segments.
func (t *Template) Specificity() int {
	n := 0
	for _, s := range t.segments {
		if !s.IsVar() {
			n++
		}
	}
	return n
}

// Overlaps reports whether some URI could match both t and o: they have the
// same segment count and no position holds two different literals.
func (t *Template) Overlaps(o *Template) bool {
	if len(t.segments) != len(o.segments) {
		return false
	}
	for i, s := range t.segments {
		os := o.segments[i]
		if !s.IsVar() && !os.IsVar() && s.Literal != os.Literal {
			return false
		}
	}
	return true
}

// Match reports whether uri matches t and returns the captured placeholder
// values, percent-decoded.
func (t *Template) Match(uri string) (map[string]string, bool) {
	parts := split(uri)
	if len(parts) != len(t.segments) {
		return nil, false
	}
	captures := make(map[string]string, len(t.vars))
	for i, s := range t.segments {
		if !s.IsVar() {
			if parts[i] != s.Literal {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		v, err := url.PathUnescape(parts[i])
		if err != nil {
			v = parts[i]
		}
		captures[s.Var] = v
	}
	return captures, true
}

// Expand builds a concrete URI from values, percent-encoding each one.
func (t *Template) Expand(values map[string]string) (string, error) {
	vals := uritemplate.Values{}
	for k, v := range values {
		vals.Set(k, uritemplate.String(v))
	}
	s, err := t.expander.Expand(vals)
	if err != nil {
		return "", errors.Wrapf(err, "expand %q", t.raw)
	}
	return s, nil
}

// split breaks a template or URI into segments. A leading "scheme://" is
// kept whole as the first segment.
func split(s string) []string {
	var out []string
	if i := strings.Index(s, schemeSep); i >= 0 && !strings.ContainsAny(s[:i], "/{}") {
		out = append(out, s[:i+len(schemeSep)])
		s = s[i+len(schemeSep):]
	}
	return append(out, strings.Split(s, "/")...)
}
