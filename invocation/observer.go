package invocation

import (
	"time"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
)

// ProgressEvent is one accepted progress report.
type ProgressEvent struct {
	RequestID string  `json:"requestId"`
	Current   float64 `json:"current"`
	Total     float64 `json:"total"`
	Message   string  `json:"message,omitempty"`
}

// LogEntry is one leveled message logged by a handler.
type LogEntry struct {
	RequestID string           `json:"requestId"`
	Level     mcp.LoggingLevel `json:"level"`
	Message   string           `json:"message"`
	Time      time.Time        `json:"time"`
}

// Observer receives progress and log events as soon as a handler emits them.
// Events of one invocation are delivered in order, one at a time; an Observer
// must not call back into the Context that delivered the event.
type Observer interface {
	OnProgress(ProgressEvent)
	OnLog(LogEntry)
}

// ObserverFuncs adapts a pair of functions to Observer. Either may be nil.
type ObserverFuncs struct {
	Progress func(ProgressEvent)
	Log      func(LogEntry)
}

func (o ObserverFuncs) OnProgress(ev ProgressEvent) {
	if o.Progress != nil {
		o.Progress(ev)
	}
}

func (o ObserverFuncs) OnLog(e LogEntry) {
	if o.Log != nil {
		o.Log(e)
	}
}
