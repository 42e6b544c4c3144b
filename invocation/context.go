// Package invocation provides the per-call object handed to every handler.
//
// A Context is created fresh for one invocation and discarded when it
// completes. It carries a monotonic progress cursor, an append-only leveled
// log and a borrowed reference to the caller's session. Progress and log
// events are delivered to the Observer synchronously, in the order the
// handler issued them.
package invocation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/sessions"
)

// ErrNoSession is returned by the session accessors when the call is not
// bound to a session.
var ErrNoSession = errors.New("invocation: no session bound to call")

// Context is the per-call progress, logging and session handle.
type Context struct {
	requestID string
	session   *sessions.Session
	observer  Observer
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	reported bool
	current  float64
	total    float64
	progress []ProgressEvent
	logs     []LogEntry
}

// Option configures a Context.
type Option func(*Context)

// WithSession binds the call to sess.
func WithSession(sess *sessions.Session) Option {
	return func(c *Context) { c.session = sess }
}

// WithObserver delivers events to o.
func WithObserver(o Observer) Option {
	return func(c *Context) { c.observer = o }
}

// WithLogger mirrors handler log entries to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.log = l }
}

// New returns a Context for requestID.
func New(requestID string, opts ...Option) *Context {
	c := &Context{requestID: requestID, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestID returns the id of the invocation.
func (c *Context) RequestID() string { return c.requestID }

// SessionID returns the bound session id, or "" when unbound.
func (c *Context) SessionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// ReportProgress records progress. The first report fixes total; later
// reports must repeat it and must not decrease current.
func (c *Context) ReportProgress(current, total float64, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reported {
		if current < c.current {
			return mcperr.New(mcperr.CodeProgressOrder, "progress went backwards from %v to %v", c.current, current)
		}
		if total != c.total {
			return mcperr.New(mcperr.CodeProgressOrder, "progress total changed from %v to %v", c.total, total)
		}
	}
	c.reported = true
	c.current = current
	c.total = total

	ev := ProgressEvent{RequestID: c.requestID, Current: current, Total: total, Message: message}
	c.progress = append(c.progress, ev)
	if c.observer != nil {
		c.observer.OnProgress(ev)
	}
	return nil
}

// Log appends a message at level and delivers it immediately.
func (c *Context) Log(level mcp.LoggingLevel, message string) error {
	if !mcp.IsValidLoggingLevel(level) {
		return mcperr.New(mcperr.CodeInternal, "invalid log level %q", level)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := LogEntry{RequestID: c.requestID, Level: level, Message: message, Time: c.now()}
	c.logs = append(c.logs, entry)
	if c.observer != nil {
		c.observer.OnLog(entry)
	}
	if c.log != nil {
		c.log.Log(context.Background(), slogLevel(level), "invocation.log",
			slog.String("request_id", c.requestID),
			slog.String("level", string(level)),
			slog.String("message", message),
		)
	}
	return nil
}

func (c *Context) Debugf(format string, args ...any) {
	_ = c.Log(mcp.LoggingLevelDebug, fmt.Sprintf(format, args...))
}

func (c *Context) Infof(format string, args ...any) {
	_ = c.Log(mcp.LoggingLevelInfo, fmt.Sprintf(format, args...))
}

func (c *Context) Warningf(format string, args ...any) {
	_ = c.Log(mcp.LoggingLevelWarning, fmt.Sprintf(format, args...))
}

func (c *Context) Errorf(format string, args ...any) {
	_ = c.Log(mcp.LoggingLevelError, fmt.Sprintf(format, args...))
}

// Progress returns a copy of the accepted progress reports.
func (c *Context) Progress() []ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ProgressEvent(nil), c.progress...)
}

// Logs returns a copy of the log.
func (c *Context) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.logs...)
}

// SessionGet reads key from the bound session.
func (c *Context) SessionGet(key string) (any, bool, error) {
	if c.session == nil {
		return nil, false, ErrNoSession
	}
	v, ok := c.session.Get(key)
	return v, ok, nil
}

// SessionSet writes key in the bound session. A SessionGet followed by
// SessionSet is not atomic: calls on other workers may write in between.
// Read-modify-write callers should use SessionUpdate.
func (c *Context) SessionSet(key string, value any) error {
	if c.session == nil {
		return ErrNoSession
	}
	c.session.Set(key, value)
	return nil
}

// SessionUpdate atomically replaces key with fn's result. See
// sessions.Session.Update.
func (c *Context) SessionUpdate(key string, fn func(old any, ok bool) (any, bool)) (any, error) {
	if c.session == nil {
		return nil, ErrNoSession
	}
	return c.session.Update(key, fn), nil
}

// SessionDelete removes key from the bound session.
func (c *Context) SessionDelete(key string) error {
	if c.session == nil {
		return ErrNoSession
	}
	c.session.Delete(key)
	return nil
}

// Checkpoint returns a CodeCancelled error once ctx is done.
func (c *Context) Checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return mcperr.Wrap(mcperr.CodeCancelled, context.Cause(ctx), "request %s cancelled", c.requestID)
}

// Await runs fn with the execution lane released, then reacquires it. It is
// the only point where a non-blocking handler yields the lane. Cancellation
// is checked before fn starts and after the lane is back. Goroutines started
// by fn may dispatch nested calls with its ctx; those wait for the lane.
func (c *Context) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Checkpoint(ctx); err != nil {
		return err
	}

	err := c.suspended(ctx, fn)
	if cerr := c.Checkpoint(ctx); cerr != nil {
		return cerr
	}
	return err
}

func (c *Context) suspended(ctx context.Context, fn func(ctx context.Context) error) error {
	if s, ok := SuspenderFrom(ctx); ok {
		resume := s.Suspend(ctx)
		defer resume()
	}
	return fn(ctx)
}

func slogLevel(level mcp.LoggingLevel) slog.Level {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
