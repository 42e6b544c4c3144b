package router

import (
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

// Match is the result of a successful route.
type Match[V any] struct {
	Template    *Template
	Value       V
	Captures    map[string]string
	Specificity int
}

type route[V any] struct {
	tmpl  *Template
	value V
}

// Router holds templates and the value registered with each. Add is not safe
// for concurrent use; Match is safe once no more routes are added.
type Router[V any] struct {
	routes []route[V]
}

// New returns an empty Router.
func New[V any]() *Router[V] {
	return &Router[V]{}
}

// Check reports whether t could be added: DuplicateName for a byte-identical
// template, AmbiguousTemplate for an overlapping template of equal
// specificity.
func (r *Router[V]) Check(t *Template) error {
	for _, rt := range r.routes {
		if rt.tmpl.raw == t.raw {
			return mcperr.New(mcperr.CodeDuplicateName, "resource template %q is already registered", t.raw)
		}
	}
	spec := t.Specificity()
	for _, rt := range r.routes {
		if rt.tmpl.Specificity() == spec && rt.tmpl.Overlaps(t) {
			return mcperr.New(mcperr.CodeAmbiguousTemplate,
				"resource template %q overlaps %q with equal specificity %d", t.raw, rt.tmpl.raw, spec)
		}
	}
	return nil
}

// Add registers t with value v after Check.
func (r *Router[V]) Add(t *Template, v V) error {
	if err := r.Check(t); err != nil {
		return err
	}
	r.routes = append(r.routes, route[V]{tmpl: t, value: v})
	return nil
}

// Len returns the number of routes.
func (r *Router[V]) Len() int { return len(r.routes) }

// Match returns the single most specific template matching uri. It fails
// with NotFound when nothing matches and AmbiguousMatch when two or more
// templates tie for the best specificity.
func (r *Router[V]) Match(uri string) (Match[V], error) {
	var (
		best  Match[V]
		found bool
		tied  []string
	)
	for _, rt := range r.routes {
		caps, ok := rt.tmpl.Match(uri)
		if !ok {
			continue
		}
		spec := rt.tmpl.Specificity()
		switch {
		case !found || spec > best.Specificity:
			best = Match[V]{Template: rt.tmpl, Value: rt.value, Captures: caps, Specificity: spec}
			found = true
			tied = tied[:0]
		case spec == best.Specificity:
			tied = append(tied, rt.tmpl.raw)
		}
	}
	if !found {
		return Match[V]{}, mcperr.New(mcperr.CodeNotFound, "no resource template matches %q", uri)
	}
	if len(tied) > 0 {
		return Match[V]{}, mcperr.New(mcperr.CodeAmbiguousMatch,
			"%q matches %q and %v with equal specificity %d", uri, best.Template.raw, tied, best.Specificity)
	}
	return best, nil
}
