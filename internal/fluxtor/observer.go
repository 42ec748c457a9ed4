package fluxtor

import (
	"context"
	"log/slog"
)

// EventType names a point in the dispatch pipeline.
type EventType string

const (
	// EventDispatchStarted fires after the action lookup succeeds.
	// Data: "args".
	EventDispatchStarted EventType = "dispatch.started"

	// EventDispatchRejected fires when the dispatched name is unknown.
	// The event has no dispatch id and no seq.
	EventDispatchRejected EventType = "dispatch.rejected"

	// EventMiddlewareEntered fires before a middleware is called.
	// Data: "index", "payload".
	EventMiddlewareEntered EventType = "middleware.entered"

	// EventRepeatedNext fires when a middleware calls next a second time.
	// Data: "index".
	EventRepeatedNext EventType = "middleware.repeated_next"

	// EventDispatchReduced fires after every reducer ran.
	// Data: "keys".
	EventDispatchReduced EventType = "dispatch.reduced"

	// EventDispatchCompleted fires after every subscriber was notified.
	// Data: "payload", "state".
	EventDispatchCompleted EventType = "dispatch.completed"

	// EventDispatchFailed fires when the action function or a reducer fails.
	// Data: "error", "stage", and "payload" when a reducer failed.
	EventDispatchFailed EventType = "dispatch.failed"
)

// Stages reported under "stage" in EventDispatchFailed data.
const (
	StageAction = "action"
	StageReduce = "reduce"
)

// Event describes one step of one dispatch.
type Event struct {
	Type       EventType
	DispatchID string
	Action     string
	Seq        int64
	Data       map[string]any
}

// Observer receives pipeline events.
//
// OnEvent is called synchronously on the goroutine driving the dispatch and
// must not block or call back into the store's dispatch path.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

// OnEvent implements Observer.
func (NoOpObserver) OnEvent(context.Context, Event) {}

// SlogObserver writes every event to a structured logger at debug level,
// failures at warn.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates an observer writing to logger.
// A nil logger uses slog.Default().
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

// OnEvent implements Observer.
func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := slog.LevelDebug
	if event.Type == EventDispatchFailed || event.Type == EventDispatchRejected || event.Type == EventRepeatedNext {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("action", event.Action),
	}
	if event.DispatchID != "" {
		attrs = append(attrs, slog.String("dispatch_id", event.DispatchID), slog.Int64("seq", event.Seq))
	}
	for k, v := range event.Data {
		if k == "state" {
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(ctx, level, "fluxtor event", attrs...)
}

// MultiObserver fans events out to several observers in order.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that forwards to every non-nil observer.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, o := range observers {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
	return m
}

// OnEvent implements Observer.
func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, o := range m.observers {
		o.OnEvent(ctx, event)
	}
}
