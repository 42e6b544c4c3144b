package mcpservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/registry"
)

// CallOption adjusts the Request built by the protocol helpers.
type CallOption func(*Request)

// WithRequestID sets the id used for Cancel.
func WithRequestID(id string) CallOption {
	return func(r *Request) { r.RequestID = id }
}

// WithObserver streams progress and log events to o.
func WithObserver(o invocation.Observer) CallOption {
	return func(r *Request) { r.Observer = o }
}

// WithTimeout bounds this call.
func WithTimeout(d time.Duration) CallOption {
	return func(r *Request) { r.Timeout = d }
}

func buildRequest(kind registry.Kind, target, sessionID string, args map[string]any, opts []CallOption) Request {
	req := Request{Kind: kind, Target: target, SessionID: sessionID, Arguments: args}
	for _, opt := range opts {
		if opt != nil {
			opt(&req)
		}
	}
	return req
}

// CallTool runs a tools/call request. Failures raised by the handler are
// returned as a result with IsError set; routing, validation, permission and
// scheduling failures are returned as errors.
func (s *Server) CallTool(ctx context.Context, sessionID string, call mcp.CallToolRequest, opts ...CallOption) (*mcp.CallToolResult, error) {
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return nil, err
	}
	resp := s.Dispatch(ctx, buildRequest(registry.KindTool, call.Name, sessionID, args, opts))
	if resp.Err != nil {
		switch mcperr.CodeOf(resp.Err) {
		case mcperr.CodeHandlerFailed, mcperr.CodeTransient:
			return Errorf("%v", resp.Err), nil
		default:
			return nil, resp.Err
		}
	}
	return toolResult(resp.Result, resp.Structured)
}

// ReadResource runs a resources/read request.
func (s *Server) ReadResource(ctx context.Context, sessionID string, read mcp.ReadResourceRequest, opts ...CallOption) (*mcp.ReadResourceResult, error) {
	resp := s.Dispatch(ctx, buildRequest(registry.KindResource, read.URI, sessionID, nil, opts))
	if resp.Err != nil {
		return nil, resp.Err
	}
	contents, err := resourceContents(read.URI, resp.rec.MimeType, resp.Result)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

// GetPrompt runs a prompts/get request.
func (s *Server) GetPrompt(ctx context.Context, sessionID string, get mcp.GetPromptRequest, opts ...CallOption) (*mcp.GetPromptResult, error) {
	args := make(map[string]any, len(get.Arguments))
	for k, v := range get.Arguments {
		args[k] = v
	}
	resp := s.Dispatch(ctx, buildRequest(registry.KindPrompt, get.Name, sessionID, args, opts))
	if resp.Err != nil {
		return nil, resp.Err
	}
	return promptResult(resp.rec.Description, resp.Result)
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeValidation, err, "arguments must be a JSON object")
	}
	return args, nil
}

// TextResult builds a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and
// IsError set.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	res := TextResult(fmt.Sprintf(format, a...))
	res.IsError = true
	return res
}

func toolResult(v any, structured map[string]any) (*mcp.CallToolResult, error) {
	var res *mcp.CallToolResult
	switch x := v.(type) {
	case *mcp.CallToolResult:
		res = x
	case nil:
		res = &mcp.CallToolResult{}
	case string:
		res = TextResult(x)
	case mcp.ContentBlock:
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{x}}
	case []mcp.ContentBlock:
		res = &mcp.CallToolResult{Content: x}
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.CodeInternal, err, "encode tool result")
		}
		res = TextResult(string(b))
	}
	if structured != nil {
		res.StructuredContent = structured
	}
	return res, nil
}

func resourceContents(uri, mime string, v any) ([]mcp.ResourceContents, error) {
	switch x := v.(type) {
	case string:
		return []mcp.ResourceContents{{URI: uri, MimeType: mime, Text: x}}, nil
	case []byte:
		return []mcp.ResourceContents{{URI: uri, MimeType: mime, Blob: base64.StdEncoding.EncodeToString(x)}}, nil
	case mcp.ResourceContents:
		if x.URI == "" {
			x.URI = uri
		}
		return []mcp.ResourceContents{x}, nil
	case []mcp.ResourceContents:
		return x, nil
	case nil:
		return []mcp.ResourceContents{}, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.CodeInternal, err, "encode resource %s", uri)
		}
		return []mcp.ResourceContents{{URI: uri, MimeType: "application/json", Text: string(b)}}, nil
	}
}

func promptResult(desc string, v any) (*mcp.GetPromptResult, error) {
	switch x := v.(type) {
	case *mcp.GetPromptResult:
		return x, nil
	case string:
		return &mcp.GetPromptResult{Description: desc, Messages: []mcp.PromptMessage{userText(x)}}, nil
	case mcp.PromptMessage:
		return &mcp.GetPromptResult{Description: desc, Messages: []mcp.PromptMessage{x}}, nil
	case []mcp.PromptMessage:
		return &mcp.GetPromptResult{Description: desc, Messages: x}, nil
	case []string:
		msgs := make([]mcp.PromptMessage, len(x))
		for i, s := range x {
			msgs[i] = userText(s)
		}
		return &mcp.GetPromptResult{Description: desc, Messages: msgs}, nil
	default:
		return nil, mcperr.New(mcperr.CodeInternal, "prompt returned %T, want messages or text", v)
	}
}

func userText(s string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: mcp.RoleUser, Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: s}}
}
