package recorder

import (
	"context"
	"fmt"

	"github.com/roach88/fluxtor/internal/fluxtor"
	"github.com/roach88/fluxtor/internal/ir"
)

var _ fluxtor.Observer = (*Recorder)(nil)

// OnEvent implements fluxtor.Observer.
//
// Values are serialized before OnEvent returns, so later mutation of args,
// payloads or state by the caller never reaches the database. Values that
// cannot be serialized are recorded as a string describing the failure.
func (r *Recorder) OnEvent(_ context.Context, event fluxtor.Event) {
	rec := record{
		eventType:  event.Type,
		dispatchID: event.DispatchID,
		action:     event.Action,
		seq:        event.Seq,
	}

	data := make(map[string]any, len(event.Data))
	for k, v := range event.Data {
		data[k] = v
	}

	switch event.Type {
	case fluxtor.EventDispatchStarted:
		rec.args = r.canonical(event.Data["args"])
	case fluxtor.EventDispatchCompleted:
		payload := r.canonical(event.Data["payload"])
		rec.payload = &payload
		if state, ok := event.Data["state"]; ok {
			digest, err := ir.StateDigest(state)
			if err != nil {
				r.logger.Warn("state digest failed", "dispatch_id", event.DispatchID, "error", err)
			}
			rec.stateDigest = digest
			delete(data, "state")
			data["state_digest"] = digest
		}
	case fluxtor.EventDispatchFailed:
		rec.errText, _ = event.Data["error"].(string)
		rec.stage, _ = event.Data["stage"].(string)
		if p, ok := event.Data["payload"]; ok {
			payload := r.canonical(p)
			rec.payload = &payload
		}
	}
	rec.data = r.canonical(data)

	if !r.queue.Enqueue(rec) {
		r.logger.Debug("recorder closed, event dropped",
			"event", string(event.Type),
			"dispatch_id", event.DispatchID,
		)
	}
}

func (r *Recorder) canonical(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		r.logger.Warn("value not serializable", "error", err)
		b, _ = ir.MarshalCanonical(fmt.Sprintf("unserializable %T: %v", v, err))
	}
	return string(b)
}
