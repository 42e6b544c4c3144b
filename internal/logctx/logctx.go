// Package logctx enriches slog records with the invocation and session that
// produced them.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and adds "inv" and "sess" groups from
// the record's context.
type Handler struct {
	slog.Handler
}

// New wraps h.
func New(h slog.Handler) Handler { return Handler{Handler: h} }

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if inv, ok := ctx.Value(invocationDataKey{}).(*InvocationData); ok {
		r.AddAttrs(slog.Group("inv",
			slog.String("id", inv.RequestID),
			slog.String("kind", inv.Kind),
			slog.String("target", inv.Target),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type invocationDataKey struct{}

type InvocationData struct {
	RequestID string
	Kind      string
	Target    string
}

func WithInvocationData(ctx context.Context, data *InvocationData) context.Context {
	return context.WithValue(ctx, invocationDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
