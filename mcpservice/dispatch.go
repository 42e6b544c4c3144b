package mcpservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-dispatch-go/internal/engine"
	"github.com/ggoodman/mcp-dispatch-go/internal/logctx"
	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/registry"
)

// Request is one call arriving from a transport.
type Request struct {
	Kind registry.Kind
	// Target is a tool or prompt name, or a resource URI.
	Target string
	// Arguments are decoded JSON values for tools and text for prompts.
	// Resource arguments come from the URI and are ignored here.
	Arguments map[string]any
	// SessionID binds the call to a session. Empty means no session.
	SessionID string
	// RequestID identifies the call for Cancel. One is generated when empty.
	RequestID string
	// Timeout overrides the server default. Zero uses the default.
	Timeout time.Duration
	// Observer receives progress and log events as the handler emits them.
	Observer invocation.Observer
}

// Status is the terminal state of a dispatched call.
type Status string

const (
	StatusCompleted Status = Status(engine.StateCompleted)
	StatusFailed    Status = Status(engine.StateFailed)
)

// Response is the outcome of one Request.
type Response struct {
	RequestID string
	Status    Status
	// Result is the handler's return value.
	Result any
	// Structured is the validated structured output of tools that declare
	// one.
	Structured map[string]any
	// Err is nil on success and an *mcperr.Error otherwise.
	Err      error
	Progress []invocation.ProgressEvent
	Logs     []invocation.LogEntry
	// Captures holds the placeholder values of a resource URI.
	Captures map[string]string

	rec *registry.Record
}

// OK reports whether the call completed.
func (r Response) OK() bool { return r.Err == nil && r.Status == StatusCompleted }

// Dispatch resolves, validates and runs req. Every failure is returned in the
// Response.
func (s *Server) Dispatch(ctx context.Context, req Request) Response {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = logctx.WithInvocationData(ctx, &logctx.InvocationData{
		RequestID: req.RequestID,
		Kind:      string(req.Kind),
		Target:    req.Target,
	})
	if req.SessionID != "" {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: req.SessionID})
	}

	resp := Response{RequestID: req.RequestID}
	rec, raw, captures, err := s.resolve(req)
	if err != nil {
		return s.reject(ctx, resp, err)
	}
	resp.Captures = captures
	resp.rec = rec

	args, err := rec.Validate(raw)
	if err != nil {
		return s.reject(ctx, resp, err)
	}

	opts := []invocation.Option{invocation.WithLogger(s.log)}
	if req.Observer != nil {
		opts = append(opts, invocation.WithObserver(req.Observer))
	}
	if req.SessionID != "" {
		opts = append(opts, invocation.WithSession(s.store.Bind(req.SessionID)))
	}
	inv := invocation.New(req.RequestID, opts...)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	out := s.bridge.Invoke(ctx, engine.Call{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Record:    rec,
		Args:      args,
		Inv:       inv,
		Timeout:   timeout,
	})

	resp.Status = Status(out.State)
	resp.Result = out.Value
	resp.Structured = out.Structured
	resp.Err = out.Err
	resp.Progress = inv.Progress()
	resp.Logs = inv.Logs()
	return resp
}

// resolve finds the record for req and the raw arguments to validate.
func (s *Server) resolve(req Request) (*registry.Record, map[string]any, map[string]string, error) {
	switch req.Kind {
	case registry.KindTool, registry.KindPrompt:
		rec, err := s.reg.Lookup(req.Kind, req.Target)
		if err != nil {
			return nil, nil, nil, err
		}
		return rec, req.Arguments, nil, nil
	case registry.KindResource:
		m, err := s.reg.Match(req.Target)
		if err != nil {
			return nil, nil, nil, err
		}
		raw := make(map[string]any, len(m.Captures))
		for k, v := range m.Captures {
			raw[k] = v
		}
		return m.Value, raw, m.Captures, nil
	default:
		return nil, nil, nil, mcperr.New(mcperr.CodeNotFound, "unknown kind %q", req.Kind)
	}
}

func (s *Server) reject(ctx context.Context, resp Response, err error) Response {
	attrs := []any{slog.String("code", string(mcperr.CodeOf(err))), slog.String("err", err.Error())}
	if e, ok := mcperr.As(err); ok && len(e.Fields) > 0 {
		attrs = append(attrs, slog.Int("fields", len(e.Fields)))
	}
	s.log.InfoContext(ctx, "server.dispatch.reject", attrs...)
	resp.Status = StatusFailed
	resp.Err = err
	return resp
}
