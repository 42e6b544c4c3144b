package mcpservice

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/registry"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

// Definition is a handler ready to be registered with Server.Register.
// Construction errors are carried and reported by Register.
type Definition struct {
	rec registry.Record
	err error
}

// Record returns the record Register will add.
func (d Definition) Record() registry.Record { return d.rec }

// Err returns the construction error, if any.
func (d Definition) Err() error { return d.err }

// TypedHandler receives its arguments decoded into A.
type TypedHandler[A any] func(ctx context.Context, inv *invocation.Context, args A) (any, error)

// DefOption configures a Definition.
type DefOption func(*defConfig)

type defConfig struct {
	description  string
	mimeType     string
	capability   string
	returns      string
	blocking     bool
	allowUnknown bool
	params       schema.Params
	output       func(name string) (*schema.Output, error)
}

// WithDescription sets the description shown in listings.
func WithDescription(desc string) DefOption {
	return func(c *defConfig) { c.description = desc }
}

// Blocking runs the handler on the worker pool instead of the event lane.
func Blocking() DefOption {
	return func(c *defConfig) { c.blocking = true }
}

// RequireCapability makes every call ask the access checker for tag first.
func RequireCapability(tag string) DefOption {
	return func(c *defConfig) { c.capability = tag }
}

// WithParam adds p, replacing a reflected parameter of the same name.
func WithParam(p schema.Param) DefOption {
	return func(c *defConfig) { c.params = append(c.params, p) }
}

// WithMimeType sets a resource's content type (default text/plain).
func WithMimeType(mime string) DefOption {
	return func(c *defConfig) { c.mimeType = mime }
}

// Returns overrides the result-shape tag.
func Returns(tag string) DefOption {
	return func(c *defConfig) { c.returns = tag }
}

// AllowAdditionalArguments accepts tool arguments that match no parameter.
func AllowAdditionalArguments() DefOption {
	return func(c *defConfig) { c.allowUnknown = true }
}

// WithOutput validates a tool's result against the schema of O and returns
// it as structured content.
func WithOutput[O any]() DefOption {
	return func(c *defConfig) {
		c.output = func(name string) (*schema.Output, error) { return schema.ReflectOutput[O](name) }
	}
}

// WithOutputSchema is WithOutput for a hand-written JSON Schema document.
func WithOutputSchema(doc json.RawMessage) DefOption {
	return func(c *defConfig) {
		c.output = func(name string) (*schema.Output, error) { return schema.CompileOutput(name, doc) }
	}
}

// NewTool defines a tool whose parameters are reflected from A.
func NewTool[A any](name string, fn TypedHandler[A], opts ...DefOption) Definition {
	ps, err := schema.Reflect[A]()
	return define(registry.KindTool, name, ps, err, typed(fn), opts)
}

// NewResource defines a resource under uriTemplate. Placeholders bind to the
// fields of A with the same JSON name; undescribed placeholders become
// required strings.
func NewResource[A any](uriTemplate string, fn TypedHandler[A], opts ...DefOption) Definition {
	ps, err := schema.Reflect[A]()
	return define(registry.KindResource, uriTemplate, ps, err, typed(fn), opts)
}

// NewPrompt defines a prompt whose arguments are reflected from A. Prompt
// arguments must be flat.
func NewPrompt[A any](name string, fn TypedHandler[A], opts ...DefOption) Definition {
	ps, err := schema.Reflect[A]()
	return define(registry.KindPrompt, name, ps, err, typed(fn), opts)
}

// NewRawTool defines a tool from explicit descriptors.
func NewRawTool(name string, params schema.Params, h registry.Handler, opts ...DefOption) Definition {
	return define(registry.KindTool, name, params, nil, h, opts)
}

// NewRawResource defines a resource from explicit descriptors.
func NewRawResource(uriTemplate string, params schema.Params, h registry.Handler, opts ...DefOption) Definition {
	return define(registry.KindResource, uriTemplate, params, nil, h, opts)
}

// NewRawPrompt defines a prompt from explicit descriptors.
func NewRawPrompt(name string, params schema.Params, h registry.Handler, opts ...DefOption) Definition {
	return define(registry.KindPrompt, name, params, nil, h, opts)
}

func define(kind registry.Kind, name string, params schema.Params, err error, h registry.Handler, opts []DefOption) Definition {
	var cfg defConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rec := registry.Record{
		Kind:         kind,
		Name:         name,
		Description:  cfg.description,
		Params:       mergeParams(params, cfg.params),
		Returns:      cfg.returns,
		Blocking:     cfg.blocking,
		Capability:   cfg.capability,
		MimeType:     cfg.mimeType,
		AllowUnknown: cfg.allowUnknown,
		Handler:      h,
	}
	if rec.Returns == "" {
		rec.Returns = defaultReturns(kind)
	}
	if kind == registry.KindResource && rec.MimeType == "" {
		rec.MimeType = "text/plain"
	}
	if err != nil {
		return Definition{rec: rec, err: err}
	}
	if cfg.output != nil {
		out, err := cfg.output(name)
		if err != nil {
			return Definition{rec: rec, err: errors.Wrap(err, "output schema")}
		}
		rec.Output = out
	}
	return Definition{rec: rec}
}

func defaultReturns(kind registry.Kind) string {
	switch kind {
	case registry.KindResource:
		return "text"
	case registry.KindPrompt:
		return "messages"
	default:
		return "json"
	}
}

func mergeParams(base, extra schema.Params) schema.Params {
	out := append(schema.Params(nil), base...)
	for _, p := range extra {
		replaced := false
		for i := range out {
			if out[i].Name == p.Name {
				out[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out
}

func typed[A any](fn TypedHandler[A]) registry.Handler {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, inv *invocation.Context, args schema.Values) (any, error) {
		var a A
		if err := decodeArgs(args, &a); err != nil {
			return nil, mcperr.Wrap(mcperr.CodeInternal, err, "decode arguments")
		}
		return fn(ctx, inv, a)
	}
}

// decodeArgs copies validated values into a struct using its json tags.
func decodeArgs(in schema.Values, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(in))
}
