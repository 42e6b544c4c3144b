package registry

import (
	"slices"

	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/router"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

// prepare checks rec and fills in derived state.
func prepare(rec *Record) error {
	if !rec.Kind.Valid() {
		return mcperr.New(mcperr.CodeInternal, "unknown handler kind %q", rec.Kind)
	}
	if rec.Name == "" {
		return mcperr.New(mcperr.CodeInternal, "%s name is required", rec.Kind)
	}
	if rec.Handler == nil {
		return mcperr.New(mcperr.CodeInternal, "%s %q has no handler", rec.Kind, rec.Name)
	}
	if rec.Output != nil && rec.Kind != KindTool {
		return mcperr.New(mcperr.CodeInternal, "%s %q: output schemas apply to tools only", rec.Kind, rec.Name)
	}
	if rec.AllowUnknown && rec.Kind != KindTool {
		return mcperr.New(mcperr.CodeInternal, "%s %q: additional arguments apply to tools only", rec.Kind, rec.Name)
	}

	rec.Params = slices.Clone(rec.Params)
	if err := rec.Params.Check(); err != nil {
		return mcperr.Wrap(mcperr.CodeInternal, err, "%s %q has invalid parameters", rec.Kind, rec.Name)
	}

	switch rec.Kind {
	case KindPrompt:
		if err := requireFlat(rec); err != nil {
			return err
		}
	case KindResource:
		tmpl, err := router.Parse(rec.Name)
		if err != nil {
			return mcperr.Wrap(mcperr.CodeInternal, err, "resource %q has an invalid template", rec.Name)
		}
		rec.template = tmpl
		if err := reconcile(rec); err != nil {
			return err
		}
	}
	return nil
}

// requireFlat rejects structured parameters on records whose arguments
// arrive as text.
func requireFlat(rec *Record) error {
	for _, p := range rec.Params {
		if !p.Type.Flat() {
			return mcperr.New(mcperr.CodeInternal,
				"%s %q: parameter %q has type %s; only flat types are allowed", rec.Kind, rec.Name, p.Name, p.Type)
		}
	}
	return nil
}

// reconcile lines up a resource's parameters with its template placeholders.
// A placeholder with no descriptor gets a required string parameter. A
// descriptor with no placeholder can never be supplied, so it must be
// optional.
func reconcile(rec *Record) error {
	if err := requireFlat(rec); err != nil {
		return err
	}
	vars := rec.template.Vars()
	for _, v := range vars {
		if _, ok := rec.Params.Lookup(v); !ok {
			rec.Params = append(rec.Params, schema.Param{Name: v, Type: schema.TypeString, Required: true})
		}
	}
	for _, p := range rec.Params {
		if p.Required && !slices.Contains(vars, p.Name) {
			return mcperr.New(mcperr.CodeInternal,
				"resource %q: required parameter %q has no placeholder in the template", rec.Name, p.Name)
		}
	}
	return nil
}
