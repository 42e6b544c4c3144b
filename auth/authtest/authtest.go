// Package authtest provides access checkers for tests.
package authtest

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-dispatch-go/auth"
)

// Call is one recorded Check.
type Call struct {
	SessionID  string
	Capability string
}

// Recorder answers checks from Grants and records every call.
type Recorder struct {
	Grants auth.Grants
	// Err, when set, is returned from every check.
	Err error

	mu    sync.Mutex
	calls []Call
}

// NewRecorder returns a Recorder answering from grants.
func NewRecorder(grants auth.Grants) *Recorder {
	return &Recorder{Grants: grants}
}

func (r *Recorder) Check(ctx context.Context, sessionID, capability string) (bool, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{SessionID: sessionID, Capability: capability})
	r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	return r.Grants.Check(ctx, sessionID, capability)
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

var _ auth.Checker = (*Recorder)(nil)
