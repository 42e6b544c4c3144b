// Package engine runs handlers under one concurrency contract.
//
// The Bridge owns a single cooperative event lane and a bounded worker pool.
// Non-blocking handlers run while holding the lane and give it up only inside
// invocation.Context.Await. Blocking handlers run on a worker; the lane is
// never held while they execute. Every invocation moves through
// Pending -> Running -> {Completed, Failed}.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/auth"
	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
	"github.com/ggoodman/mcp-dispatch-go/registry"
	"github.com/ggoodman/mcp-dispatch-go/schema"
)

const (
	defaultQueueDepth = 64
)

// Call is one validated invocation ready to run.
type Call struct {
	RequestID string
	SessionID string
	Record    *registry.Record
	Args      schema.Values
	// Inv is the per-call context handed to the handler. A fresh one is
	// created when nil.
	Inv *invocation.Context
	// Timeout bounds the call; zero means no timeout.
	Timeout time.Duration
}

// Outcome is the terminal result of an invocation.
type Outcome struct {
	RequestID string
	State     State
	Value     any
	// Structured is the validated structured output of a tool that declares
	// an output schema.
	Structured map[string]any
	Err        error
	Duration   time.Duration
}

// Bridge executes calls. It is safe for concurrent use.
type Bridge struct {
	log     *slog.Logger
	checker auth.Checker
	lane    *lane
	pool    *pool

	cancelMu sync.Mutex
	cancels  map[string]context.CancelCauseFunc // reqID -> cancel func
}

// Option configures a Bridge.
type Option func(*bridgeConfig)

type bridgeConfig struct {
	log     *slog.Logger
	checker auth.Checker
	workers int
	depth   int
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *bridgeConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAccessChecker sets the collaborator consulted for capability checks.
func WithAccessChecker(ch auth.Checker) Option {
	return func(c *bridgeConfig) {
		if ch != nil {
			c.checker = ch
		}
	}
}

// WithWorkers sets the number of pool workers (default GOMAXPROCS).
func WithWorkers(n int) Option {
	return func(c *bridgeConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueDepth sets how many blocking calls may wait for a worker before
// new ones fail with CodeOverloaded.
func WithQueueDepth(n int) Option {
	return func(c *bridgeConfig) {
		if n >= 0 {
			c.depth = n
		}
	}
}

// NewBridge starts a Bridge and its workers.
func NewBridge(opts ...Option) *Bridge {
	cfg := bridgeConfig{
		log:     slog.Default(),
		checker: auth.AllowAll{},
		workers: runtime.GOMAXPROCS(0),
		depth:   defaultQueueDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Bridge{
		log:     cfg.log,
		checker: cfg.checker,
		lane:    newLane(),
		pool:    newPool(cfg.workers, cfg.depth),
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

// Invoke runs call and returns its outcome. It returns only once the handler
// has returned, or once the call has failed without starting. Handlers may
// call Invoke with their own ctx for nested calls, from the handler goroutine
// or from inside invocation.Context.Await.
func (b *Bridge) Invoke(ctx context.Context, call Call) Outcome {
	start := time.Now()
	rec := call.Record
	log := b.log.With(slog.String("request_id", call.RequestID))
	lc := newLifecycle(call.RequestID, b.log)

	out := b.invoke(ctx, lc, call)
	out.RequestID = call.RequestID
	out.State = lc.state()
	out.Duration = time.Since(start)

	if out.Err != nil {
		attrs := []any{
			slog.String("kind", string(rec.Kind)),
			slog.String("name", rec.Name),
			slog.String("code", string(mcperr.CodeOf(out.Err))),
			slog.String("err", out.Err.Error()),
			slog.Int64("dur_ms", out.Duration.Milliseconds()),
		}
		if mcperr.Is(out.Err, mcperr.CodeOverloaded) {
			attrs = append(attrs, slog.Int("queued", b.Queued()))
		}
		log.InfoContext(ctx, "bridge.invoke.fail", attrs...)
	} else {
		log.InfoContext(ctx, "bridge.invoke.ok",
			slog.String("kind", string(rec.Kind)),
			slog.String("name", rec.Name),
			slog.Bool("blocking", rec.Blocking),
			slog.Int64("dur_ms", out.Duration.Milliseconds()),
		)
	}
	return out
}

func (b *Bridge) invoke(ctx context.Context, lc *lifecycle, call Call) Outcome {
	fail := func(err error) Outcome {
		_ = lc.fire(ctx, eventFail)
		return Outcome{Err: err}
	}

	if call.Record == nil || call.Record.Handler == nil {
		return fail(mcperr.New(mcperr.CodeInternal, "call %s has no handler", call.RequestID))
	}
	if call.Inv == nil {
		call.Inv = invocation.New(call.RequestID)
	}

	if err := b.authorize(ctx, call); err != nil {
		return fail(err)
	}

	ctx, release, err := b.track(ctx, call)
	if err != nil {
		return fail(err)
	}
	defer release()

	if call.Record.Blocking {
		return b.runBlocking(ctx, lc, call)
	}
	return b.runOnLane(ctx, lc, call)
}

func (b *Bridge) authorize(ctx context.Context, call Call) error {
	capability := call.Record.Capability
	if capability == "" {
		return nil
	}
	ok, err := b.checker.Check(ctx, call.SessionID, capability)
	if err != nil {
		return mcperr.Wrap(mcperr.CodePermissionDenied, err, "capability %q check failed", capability)
	}
	if !ok {
		return mcperr.New(mcperr.CodePermissionDenied, "session %q lacks capability %q", call.SessionID, capability)
	}
	return nil
}

// track registers the call for Cancel and applies its timeout.
func (b *Bridge) track(ctx context.Context, call Call) (context.Context, func(), error) {
	callCtx, cancel := context.WithCancelCause(ctx)
	stop := func() {}
	if call.Timeout > 0 {
		var stopTimeout context.CancelFunc
		callCtx, stopTimeout = context.WithTimeoutCause(callCtx, call.Timeout,
			errors.Newf("timed out after %s", call.Timeout))
		stop = stopTimeout
	}

	if call.RequestID == "" {
		return callCtx, func() { stop(); cancel(context.Canceled) }, nil
	}

	b.cancelMu.Lock()
	if _, exists := b.cancels[call.RequestID]; exists {
		b.cancelMu.Unlock()
		stop()
		cancel(context.Canceled)
		return nil, nil, mcperr.New(mcperr.CodeInternal, "request %q is already in flight", call.RequestID)
	}
	b.cancels[call.RequestID] = cancel
	b.cancelMu.Unlock()

	return callCtx, func() {
		b.cancelMu.Lock()
		delete(b.cancels, call.RequestID)
		b.cancelMu.Unlock()
		stop()
		cancel(context.Canceled)
	}, nil
}

// runOnLane runs a non-blocking handler on the event lane. A caller that
// already holds the lane runs the handler inline rather than opening a
// second lane. The hold travels in ctx, so a lane-holding ctx shared with
// another goroutine would let that goroutine run inline too; handlers use
// invocation.Context.Await for concurrent work instead.
func (b *Bridge) runOnLane(ctx context.Context, lc *lifecycle, call Call) Outcome {
	if _, ok := holdFrom(ctx); ok {
		return b.execute(ctx, lc, call)
	}

	h, err := b.lane.acquire(ctx)
	if err != nil {
		_ = lc.fire(ctx, eventFail)
		return Outcome{Err: cancelled(call.RequestID, err)}
	}
	defer h.release()

	ctx = context.WithValue(withHold(ctx, h), workerKey{}, false)
	return b.execute(ctx, lc, call)
}

// runBlocking runs a blocking handler on a worker and waits for it. A caller
// holding the lane gives it up while it waits. A caller that is itself a
// worker runs the handler inline so nested calls cannot starve the pool.
func (b *Bridge) runBlocking(ctx context.Context, lc *lifecycle, call Call) Outcome {
	if onWorker(ctx) {
		return b.execute(ctx, lc, call)
	}

	var out Outcome
	workerCtx := context.WithValue(withHold(ctx, nil), workerKey{}, true)
	j, err := b.pool.submit(func() {
		if err := workerCtx.Err(); err != nil {
			_ = lc.fire(ctx, eventFail)
			out = Outcome{Err: cancelled(call.RequestID, context.Cause(workerCtx))}
			return
		}
		out = b.execute(workerCtx, lc, call)
	})
	if err != nil {
		_ = lc.fire(ctx, eventFail)
		return Outcome{Err: err}
	}

	if h, ok := holdFrom(ctx); ok {
		resume := h.Suspend(ctx)
		defer resume()
	}
	select {
	case <-j.done:
		return out
	case <-ctx.Done():
	}
	// Still queued: withdraw the job and fail without starting.
	if j.abandon() {
		_ = lc.fire(ctx, eventFail)
		return Outcome{Err: cancelled(call.RequestID, context.Cause(ctx))}
	}
	// Blocking handlers cannot be interrupted once running; wait for natural
	// completion.
	<-j.done
	return out
}

type workerKey struct{}

func onWorker(ctx context.Context) bool {
	v, _ := ctx.Value(workerKey{}).(bool)
	return v
}

// execute enters Running and calls the handler on the current goroutine.
func (b *Bridge) execute(ctx context.Context, lc *lifecycle, call Call) (out Outcome) {
	if err := lc.fire(ctx, eventStart); err != nil {
		return Outcome{Err: mcperr.Wrap(mcperr.CodeInternal, err, "cannot start request %s", call.RequestID)}
	}

	defer func() {
		if r := recover(); r != nil {
			err := mcperr.Wrap(mcperr.CodeInternal, errors.Newf("panic: %v", r), "%s %q panicked", call.Record.Kind, call.Record.Name)
			_ = lc.fire(ctx, eventFail)
			out = Outcome{Err: err}
		}
	}()

	rec := call.Record
	v, err := rec.Handler(ctx, call.Inv, call.Args)
	if err != nil {
		_ = lc.fire(ctx, eventFail)
		return Outcome{Err: classify(ctx, rec, call.RequestID, err)}
	}

	out = Outcome{Value: v}
	if rec.Output != nil {
		structured, err := rec.Output.Validate(v)
		if err != nil {
			_ = lc.fire(ctx, eventFail)
			return Outcome{Err: err}
		}
		out.Structured = structured
	}
	_ = lc.fire(ctx, eventComplete)
	return out
}

// Cancel asks the in-flight call requestID to stop. It reports whether such
// a call was found.
func (b *Bridge) Cancel(requestID, reason string) bool {
	if requestID == "" {
		return false
	}
	b.cancelMu.Lock()
	cancel, exists := b.cancels[requestID]
	b.cancelMu.Unlock()
	if !exists {
		return false
	}
	if reason == "" {
		reason = "cancelled"
	}
	cancel(errors.New(reason))
	return true
}

// InFlight returns the number of tracked calls.
func (b *Bridge) InFlight() int {
	b.cancelMu.Lock()
	defer b.cancelMu.Unlock()
	return len(b.cancels)
}

// Queued returns the number of blocking calls waiting for a worker.
func (b *Bridge) Queued() int { return b.pool.queued() }

// Close stops accepting blocking calls and waits for running ones.
func (b *Bridge) Close(ctx context.Context) error {
	return b.pool.close(ctx)
}

// classify maps a handler error onto the error taxonomy. Errors that already
// carry a code pass through; cancellation surfaces as CodeCancelled; anything
// else is wrapped as CodeHandlerFailed with the original preserved.
func classify(ctx context.Context, rec *registry.Record, requestID string, err error) error {
	if _, ok := mcperr.As(err); ok {
		return err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return cancelled(requestID, context.Cause(ctx))
	}
	return mcperr.Wrap(mcperr.CodeHandlerFailed, err, "%s %q failed", rec.Kind, rec.Name)
}

func cancelled(requestID string, cause error) error {
	return mcperr.Wrap(mcperr.CodeCancelled, cause, "request %s cancelled", requestID)
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s: %v", o.RequestID, o.State, o.Err)
	}
	return fmt.Sprintf("%s %s", o.RequestID, o.State)
}
