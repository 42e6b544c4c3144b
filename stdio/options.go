package stdio

import (
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/sessions"
)

// Option customizes a Handler.
type Option func(*Handler)

// Persister loads a session when Serve starts and saves it when Serve returns.
type Persister interface {
	sessions.Loader
	sessions.Saver
}

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithUserProvider overrides how the session id is derived when none is set
// with WithSessionID.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}

// WithSessionID names the connection's session.
func WithSessionID(id string) Option {
	return func(h *Handler) { h.sessionID = id }
}

// WithPersister restores the session from p before serving and saves it back
// after the input ends.
func WithPersister(p Persister) Option {
	return func(h *Handler) { h.persister = p }
}

// WithServerInfo sets the implementation reported by initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) { h.info = info }
}

// WithInstructions sets the instructions reported by initialize.
func WithInstructions(s string) Option {
	return func(h *Handler) { h.instructions = s }
}
