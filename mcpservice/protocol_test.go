package mcpservice_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/mcpservice"
	"github.com/ggoodman/mcp-dispatch-go/registry"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

type summarizeArgs struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty" jsonschema:"enum=short,enum=long,default=short"`
}

func summarize(_ context.Context, _ *invocation.Context, a summarizeArgs) (any, error) {
	return "Summarize (" + a.Style + "): " + a.Text, nil
}

func protocolServer(t *testing.T, opts ...mcpservice.ServerOption) *mcpservice.Server {
	t.Helper()
	srv := newServer(t, opts...)
	require.NoError(t, srv.Register(
		mcpservice.NewTool("calculate", calculate, mcpservice.WithDescription("Basic arithmetic")),
		mcpservice.NewResource("users://{user_id}/{section}", readUser, mcpservice.WithDescription("User records")),
		mcpservice.NewPrompt("summarize", summarize, mcpservice.WithDescription("Summarize text")),
	))
	srv.Freeze()
	return srv
}

func TestCallTool(t *testing.T) {
	srv := protocolServer(t)
	ctx := context.Background()

	res, err := srv.CallTool(ctx, "", mcp.CallToolRequest{
		Name:      "calculate",
		Arguments: json.RawMessage(`{"operation":"multiply","a":6,"b":7}`),
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "42", res.Content[0].Text)
	assert.False(t, res.IsError)

	res, err = srv.CallTool(ctx, "", mcp.CallToolRequest{
		Name:      "calculate",
		Arguments: json.RawMessage(`{"operation":"divide","a":4,"b":0}`),
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "division by zero")

	_, err = srv.CallTool(ctx, "", mcp.CallToolRequest{
		Name:      "calculate",
		Arguments: json.RawMessage(`{"operation":"mod","a":4,"b":1}`),
	})
	requireCode(t, err, mcperr.CodeValidation)

	_, err = srv.CallTool(ctx, "", mcp.CallToolRequest{Name: "calculate", Arguments: json.RawMessage(`[1,2]`)})
	requireCode(t, err, mcperr.CodeValidation)

	_, err = srv.CallTool(ctx, "", mcp.CallToolRequest{Name: "missing"})
	requireCode(t, err, mcperr.CodeNotFound)
}

func TestReadResource(t *testing.T) {
	srv := protocolServer(t)

	res, err := srv.ReadResource(context.Background(), "", mcp.ReadResourceRequest{URI: "users://7/settings"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, mcp.ResourceContents{URI: "users://7/settings", MimeType: "text/plain", Text: "user 7: settings"}, res.Contents[0])
}

func TestGetPrompt(t *testing.T) {
	srv := protocolServer(t)
	ctx := context.Background()

	res, err := srv.GetPrompt(ctx, "", mcp.GetPromptRequest{Name: "summarize", Arguments: map[string]string{"text": "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "Summarize text", res.Description)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "Summarize (short): hello", res.Messages[0].Content.Text)

	_, err = srv.GetPrompt(ctx, "", mcp.GetPromptRequest{Name: "summarize", Arguments: map[string]string{"text": "x", "style": "epic"}})
	e := requireCode(t, err, mcperr.CodeValidation)
	assert.True(t, e.HasReason("style", mcperr.ReasonNotInChoices))
}

func TestListings(t *testing.T) {
	srv := protocolServer(t)

	tools := srv.ListTools(nil)
	require.Len(t, tools.Items, 1)
	assert.Nil(t, tools.NextCursor)
	tool := tools.Items[0]
	assert.Equal(t, "calculate", tool.Name)
	assert.Equal(t, "object", tool.InputSchema.Type)
	assert.ElementsMatch(t, []string{"operation", "a", "b"}, tool.InputSchema.Required)
	assert.Equal(t, "^(add|subtract|multiply|divide)$", tool.InputSchema.Properties["operation"].Pattern)

	templates := srv.ListResourceTemplates(nil)
	require.Len(t, templates.Items, 1)
	assert.Equal(t, "users://{user_id}/{section}", templates.Items[0].URITemplate)
	assert.Equal(t, "text/plain", templates.Items[0].MimeType)

	prompts := srv.ListPrompts(nil)
	require.Len(t, prompts.Items, 1)
	assert.Equal(t, []mcp.PromptArgument{
		{Name: "text", Required: true},
		{Name: "style"},
	}, prompts.Items[0].Arguments)
}

func TestListPagination(t *testing.T) {
	srv := newServer(t, mcpservice.WithPageSize(2))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, srv.Register(mcpservice.NewTool(name, calculate)))
	}
	srv.Freeze()

	first := srv.ListTools(nil)
	require.Len(t, first.Items, 2)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, "a", first.Items[0].Name)

	second := srv.ListTools(first.NextCursor)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c", second.Items[0].Name)
	assert.Nil(t, second.NextCursor)

	bogus := "not-a-number"
	assert.Len(t, srv.ListTools(&bogus).Items, 2)
}

func TestRawDefinitionsAndParamOverride(t *testing.T) {
	srv := newServer(t)
	echo := func(_ context.Context, _ *invocation.Context, args schema.Values) (any, error) {
		return args.String("message"), nil
	}
	count := func(_ context.Context, _ *invocation.Context, a struct {
		N int `json:"n"`
	}) (any, error) {
		return a.N, nil
	}
	require.NoError(t, srv.Register(
		mcpservice.NewRawTool("echo", schema.Params{{Name: "message", Type: schema.TypeString, Required: true}}, echo),
		mcpservice.NewTool("count", count, mcpservice.WithParam(schema.Param{
			Name: "n", Type: schema.TypeInteger, Required: true, Maximum: schema.Ptr(10),
		})),
		mcpservice.NewTool("loose", count, mcpservice.AllowAdditionalArguments()),
	))
	srv.Freeze()
	ctx := context.Background()

	resp := srv.Dispatch(ctx, mcpservice.Request{Kind: registry.KindTool, Target: "echo", Arguments: map[string]any{"message": "hi"}})
	require.NoError(t, resp.Err)
	assert.Equal(t, "hi", resp.Result)

	resp = srv.Dispatch(ctx, mcpservice.Request{Kind: registry.KindTool, Target: "count", Arguments: map[string]any{"n": 11}})
	e := requireCode(t, resp.Err, mcperr.CodeValidation)
	assert.True(t, e.HasReason("n", mcperr.ReasonOutOfRange))

	resp = srv.Dispatch(ctx, mcpservice.Request{Kind: registry.KindTool, Target: "count", Arguments: map[string]any{"n": 2, "extra": true}})
	e = requireCode(t, resp.Err, mcperr.CodeValidation)
	assert.True(t, e.HasReason("extra", mcperr.ReasonTypeMismatch))

	resp = srv.Dispatch(ctx, mcpservice.Request{Kind: registry.KindTool, Target: "loose", Arguments: map[string]any{"n": 2, "extra": true}})
	require.NoError(t, resp.Err)
	assert.Equal(t, 2, resp.Result)
}
