package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/registry"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

func noop(context.Context, *invocation.Context, schema.Values) (any, error) { return nil, nil }

func tool(name string) registry.Record {
	return registry.Record{Kind: registry.KindTool, Name: name, Handler: noop}
}

func resource(tmpl string, params ...schema.Param) registry.Record {
	return registry.Record{Kind: registry.KindResource, Name: tmpl, Params: params, Handler: noop}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := registry.New()
	_, err := r.Register(tool("calculate"))
	require.NoError(t, err)

	_, err = r.Register(tool("calculate"))
	assert.True(t, mcperr.Is(err, mcperr.CodeDuplicateName))

	// The same name may be reused across kinds.
	_, err = r.Register(registry.Record{Kind: registry.KindPrompt, Name: "calculate", Handler: noop})
	require.NoError(t, err)
}

func TestRegisterDuplicateTemplate(t *testing.T) {
	r := registry.New()
	_, err := r.Register(resource("users://{user_id}/profile"))
	require.NoError(t, err)

	_, err = r.Register(resource("users://{user_id}/profile"))
	assert.True(t, mcperr.Is(err, mcperr.CodeDuplicateName))
}

func TestRegisterAmbiguousTemplate(t *testing.T) {
	r := registry.New()
	_, err := r.Register(resource("users://{user_id}/profile"))
	require.NoError(t, err)

	_, err = r.Register(resource("users://admin/{section}"))
	assert.True(t, mcperr.Is(err, mcperr.CodeAmbiguousTemplate))

	// Different specificity is fine; the more literal template wins.
	_, err = r.Register(resource("users://admin/profile"))
	require.NoError(t, err)

	m, err := r.Match("users://admin/profile")
	require.NoError(t, err)
	assert.Equal(t, "users://admin/profile", m.Value.Name)

	m, err = r.Match("users://42/profile")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user_id": "42"}, m.Captures)
}

func TestLookupNotFound(t *testing.T) {
	r := registry.New()
	_, err := r.Lookup(registry.KindTool, "missing")
	assert.True(t, mcperr.Is(err, mcperr.CodeNotFound))

	_, err = r.Match("users://42/profile")
	assert.True(t, mcperr.Is(err, mcperr.CodeNotFound))
}

func TestFreeze(t *testing.T) {
	r := registry.New()
	_, err := r.Register(tool("a"))
	require.NoError(t, err)
	r.Freeze()
	assert.True(t, r.Frozen())

	_, err = r.Register(tool("b"))
	assert.True(t, mcperr.Is(err, mcperr.CodeInternal))

	rec, err := r.Lookup(registry.KindTool, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r := registry.New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Register(tool(name))
		require.NoError(t, err)
	}
	var names []string
	for _, rec := range r.List(registry.KindTool) {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
	assert.Equal(t, 3, r.Len(registry.KindTool))
	assert.Empty(t, r.List(registry.KindPrompt))
}

func TestRegisterRejectsBadRecords(t *testing.T) {
	cases := map[string]registry.Record{
		"no handler": {Kind: registry.KindTool, Name: "x"},
		"no name":    {Kind: registry.KindTool, Handler: noop},
		"bad kind":   {Kind: "widget", Name: "x", Handler: noop},
		"bad params": {Kind: registry.KindTool, Name: "x", Handler: noop, Params: schema.Params{
			{Name: "n", Type: schema.TypeInteger, Required: true, Default: 3},
		}},
		"structured prompt arg": {Kind: registry.KindPrompt, Name: "x", Handler: noop, Params: schema.Params{
			{Name: "items", Type: schema.TypeSequence, Items: &schema.Param{Type: schema.TypeString}},
		}},
		"bad template":           resource("users://{id"),
		"orphan required param":  resource("users://{user_id}", schema.Param{Name: "extra", Type: schema.TypeString, Required: true}),
		"unknown args on prompt": {Kind: registry.KindPrompt, Name: "x", Handler: noop, AllowUnknown: true},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := registry.New().Register(rec)
			assert.True(t, mcperr.Is(err, mcperr.CodeInternal), "got %v", err)
		})
	}
}

func TestResourcePlaceholdersBecomeParams(t *testing.T) {
	r := registry.New()
	rec, err := r.Register(resource("users://{user_id}/{section}",
		schema.Param{Name: "section", Type: schema.TypeString, Required: true, Choices: []any{"profile", "settings", "history"}},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"section", "user_id"}, rec.Params.Names())
	assert.Equal(t, schema.ModeText, rec.Mode())

	m, err := r.Match("users://42/billing")
	require.NoError(t, err)

	raw := make(map[string]any, len(m.Captures))
	for k, v := range m.Captures {
		raw[k] = v
	}
	_, err = m.Value.Validate(raw)
	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.True(t, e.HasReason("section", mcperr.ReasonNotInChoices))
}

func TestRegisterCopiesParams(t *testing.T) {
	params := schema.Params{{Name: "a", Type: schema.TypeString}}
	rec, err := registry.New().Register(registry.Record{Kind: registry.KindTool, Name: "x", Params: params, Handler: noop})
	require.NoError(t, err)
	params[0].Name = "changed"
	assert.Equal(t, "a", rec.Params[0].Name)
}
