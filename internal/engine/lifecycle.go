package engine

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of one invocation.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
)

var lifecycleEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(StatePending)}, Dst: string(StateRunning)},
	{Name: eventComplete, Src: []string{string(StateRunning)}, Dst: string(StateCompleted)},
	{Name: eventFail, Src: []string{string(StatePending), string(StateRunning)}, Dst: string(StateFailed)},
}

// lifecycle tracks Pending -> Running -> {Completed, Failed}. Failed may
// also be entered straight from Pending when the call never starts.
type lifecycle struct {
	fsm *fsm.FSM
}

func newLifecycle(requestID string, log *slog.Logger) *lifecycle {
	return &lifecycle{
		fsm: fsm.NewFSM(string(StatePending), lifecycleEvents, fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				log.DebugContext(ctx, "bridge.invoke.transition",
					slog.String("request_id", requestID),
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
				)
			},
		}),
	}
}

// fire applies event. Transitions must not be skipped because the caller's
// context was cancelled, so the event runs on a context that cannot be.
func (l *lifecycle) fire(ctx context.Context, event string) error {
	return l.fsm.Event(context.WithoutCancel(ctx), event)
}

func (l *lifecycle) state() State { return State(l.fsm.Current()) }
