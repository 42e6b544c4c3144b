package engine

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-dispatch-go/invocation"
)

// lane is the single cooperative event-processing lane. At most one
// non-blocking handler holds it at a time.
type lane struct {
	token chan struct{}
}

func newLane() *lane {
	return &lane{token: make(chan struct{}, 1)}
}

// acquire waits for the lane or for ctx to end.
func (l *lane) acquire(ctx context.Context) (*hold, error) {
	select {
	case l.token <- struct{}{}:
		return &hold{lane: l, held: true}, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// hold is one call's ownership of the lane. It is the Suspender handed to
// handlers through their context.
type hold struct {
	lane *lane

	mu   sync.Mutex
	held bool
}

var _ invocation.Suspender = (*hold)(nil)

func (h *hold) isHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

func (h *hold) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held {
		h.held = false
		<-h.lane.token
	}
}

// Suspend gives the lane up until the returned function is called. Resuming
// always waits for the lane, even when ctx is done: the handler is still
// running and must get its lane back before it returns.
func (h *hold) Suspend(context.Context) func() {
	h.mu.Lock()
	if !h.held {
		h.mu.Unlock()
		return func() {}
	}
	h.held = false
	<-h.lane.token
	h.mu.Unlock()

	return func() {
		h.lane.token <- struct{}{}
		h.mu.Lock()
		h.held = true
		h.mu.Unlock()
	}
}

type holdKey struct{}

// withHold marks ctx as running on the lane under h. A nil h marks ctx as
// running off the lane.
func withHold(ctx context.Context, h *hold) context.Context {
	ctx = context.WithValue(ctx, holdKey{}, h)
	if h == nil {
		return invocation.WithSuspender(ctx, offLane{})
	}
	return invocation.WithSuspender(ctx, h)
}

// holdFrom returns the lane hold of the calling handler if it currently
// holds the lane.
func holdFrom(ctx context.Context) (*hold, bool) {
	h, _ := ctx.Value(holdKey{}).(*hold)
	if h == nil || !h.isHeld() {
		return nil, false
	}
	return h, true
}

// offLane is the Suspender of handlers running on a worker: there is no lane
// to give up.
type offLane struct{}

func (offLane) Suspend(context.Context) func() { return func() {} }
