package harness

import (
	"context"
	"sync"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// Trace event types.
const (
	TraceDispatch  = "dispatch"
	TraceCompleted = "completed"
	TraceFailed    = "failed"
	TraceRejected  = "rejected"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Action  string `json:"action"`
	Seq     int64  `json:"seq,omitempty"`
	Args    []any  `json:"args,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if every step outcome and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains dispatches and their outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final store state.
	State map[string]any `json:"state,omitempty"`

	// Notifications counts subscriber invocations.
	Notifications int `json:"notifications"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceCollector turns store events into trace entries. Completions of
// delayed dispatches arrive from timer goroutines.
type traceCollector struct {
	mu     sync.Mutex
	events []TraceEvent
}

var _ fluxtor.Observer = (*traceCollector)(nil)

func (c *traceCollector) OnEvent(_ context.Context, e fluxtor.Event) {
	var ev TraceEvent
	switch e.Type {
	case fluxtor.EventDispatchStarted:
		args, _ := e.Data["args"].([]any)
		ev = TraceEvent{Type: TraceDispatch, ID: e.DispatchID, Action: e.Action, Seq: e.Seq, Args: args}
	case fluxtor.EventDispatchCompleted:
		ev = TraceEvent{Type: TraceCompleted, ID: e.DispatchID, Action: e.Action, Seq: e.Seq, Payload: e.Data["payload"]}
	case fluxtor.EventDispatchFailed:
		errText, _ := e.Data["error"].(string)
		stage, _ := e.Data["stage"].(string)
		ev = TraceEvent{Type: TraceFailed, ID: e.DispatchID, Action: e.Action, Seq: e.Seq, Payload: e.Data["payload"], Error: errText, Stage: stage}
	case fluxtor.EventDispatchRejected:
		errText, _ := e.Data["error"].(string)
		ev = TraceEvent{Type: TraceRejected, Action: e.Action, Error: errText}
	default:
		return
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *traceCollector) snapshot() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}
