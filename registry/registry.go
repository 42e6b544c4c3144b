// Package registry holds the registered tools, resources and prompts.
//
// Registration is a one-time setup phase. Every Record is checked when it is
// added: parameter descriptors must be consistent, names must be unique, and
// a resource template may not overlap an existing one at equal specificity.
// After Freeze the registry is read-only and lookups take no lock.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/router"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

// Kind is the kind of a registered handler.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTool, KindResource, KindPrompt:
		return true
	}
	return false
}

// Handler runs one invocation with validated arguments.
type Handler func(ctx context.Context, inv *invocation.Context, args schema.Values) (any, error)

// Record describes one registered handler. It is immutable once registered.
type Record struct {
	Kind Kind
	// Name is the tool or prompt name, or the URI template of a resource.
	Name        string
	Description string
	Params      schema.Params
	// Returns tags the result shape, e.g. "text", "json" or "messages".
	Returns string
	// Blocking handlers run on the worker pool instead of the event lane.
	Blocking bool
	// Capability, when set, is checked with the access-control collaborator
	// before the handler runs.
	Capability string
	MimeType   string
	// Output optionally validates a tool's structured result.
	Output *schema.Output
	// AllowUnknown accepts tool arguments that match no declared parameter.
	AllowUnknown bool
	Handler      Handler

	template *router.Template
}

// Template returns the parsed URI template of a resource record.
func (r *Record) Template() *router.Template { return r.template }

// Mode returns how raw arguments for r are interpreted: structured values for
// tools, text for resource segments and prompt arguments.
func (r *Record) Mode() schema.Mode {
	if r.Kind == KindTool {
		return schema.ModeStructured
	}
	return schema.ModeText
}

// Validate checks raw against the record's parameters.
func (r *Record) Validate(raw map[string]any) (schema.Values, error) {
	var opts []schema.ValidateOption
	if r.AllowUnknown {
		opts = append(opts, schema.AllowUnknown())
	}
	return schema.Validate(r.Params, raw, r.Mode(), opts...)
}

// Registry holds records by kind.
type Registry struct {
	frozen atomic.Bool

	mu        sync.Mutex
	tools     map[string]*Record
	prompts   map[string]*Record
	resources *router.Router[*Record]
	byURI     map[string]*Record
	order     map[Kind][]*Record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]*Record),
		prompts:   make(map[string]*Record),
		resources: router.New[*Record](),
		byURI:     make(map[string]*Record),
		order:     make(map[Kind][]*Record),
	}
}

// Register adds a copy of rec and returns the stored record.
func (r *Registry) Register(rec Record) (*Record, error) {
	if r.frozen.Load() {
		return nil, mcperr.New(mcperr.CodeInternal, "registry is frozen; cannot register %s %q", rec.Kind, rec.Name)
	}
	if err := prepare(&rec); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock so a racing Freeze wins.
	if r.frozen.Load() {
		return nil, mcperr.New(mcperr.CodeInternal, "registry is frozen; cannot register %s %q", rec.Kind, rec.Name)
	}

	stored := &rec
	switch rec.Kind {
	case KindTool:
		if _, ok := r.tools[rec.Name]; ok {
			return nil, mcperr.New(mcperr.CodeDuplicateName, "tool %q is already registered", rec.Name)
		}
		r.tools[rec.Name] = stored
	case KindPrompt:
		if _, ok := r.prompts[rec.Name]; ok {
			return nil, mcperr.New(mcperr.CodeDuplicateName, "prompt %q is already registered", rec.Name)
		}
		r.prompts[rec.Name] = stored
	case KindResource:
		if err := r.resources.Add(rec.template, stored); err != nil {
			return nil, err
		}
		r.byURI[rec.Name] = stored
	}
	r.order[rec.Kind] = append(r.order[rec.Kind], stored)
	return stored, nil
}

// Freeze ends the setup phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Lookup returns the record of kind registered under name. For resources,
// name is the template text; use Match to route a concrete URI.
func (r *Registry) Lookup(kind Kind, name string) (*Record, error) {
	var (
		rec *Record
		ok  bool
	)
	r.read(func() {
		switch kind {
		case KindTool:
			rec, ok = r.tools[name]
		case KindPrompt:
			rec, ok = r.prompts[name]
		case KindResource:
			rec, ok = r.byURI[name]
		}
	})
	if !ok {
		return nil, mcperr.New(mcperr.CodeNotFound, "%s %q not found", kind, name)
	}
	return rec, nil
}

// Match routes uri to the most specific resource template.
func (r *Registry) Match(uri string) (router.Match[*Record], error) {
	var (
		m   router.Match[*Record]
		err error
	)
	r.read(func() { m, err = r.resources.Match(uri) })
	return m, err
}

// List returns the records of kind in registration order.
func (r *Registry) List(kind Kind) []*Record {
	var out []*Record
	r.read(func() { out = append(out, r.order[kind]...) })
	return out
}

// Len returns the number of records of kind.
func (r *Registry) Len(kind Kind) int {
	var n int
	r.read(func() { n = len(r.order[kind]) })
	return n
}

func (r *Registry) read(fn func()) {
	if r.frozen.Load() {
		fn()
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}
