package fluxtor

import (
	"context"
	"slices"
	"sync/atomic"
)

// Dispatch runs the named action through the pipeline.
//
// It fails with an unknown action error before anything runs when name is
// not registered, and returns the action function's error unmodified when
// that fails. In both cases the returned Pending is nil.
//
// Otherwise Dispatch returns once the middleware chain has either finished
// or handed control to an asynchronous step. If the pipeline already
// finished, the returned error is its outcome (nil or a reducer error);
// otherwise use the Pending to wait for it.
func (s *Store) Dispatch(action string, args ...any) (*Pending, error) {
	return s.DispatchContext(context.Background(), action, args...)
}

// DispatchContext is Dispatch with a context handed to observers.
// The context never cancels the dispatch.
func (s *Store) DispatchContext(ctx context.Context, action string, args ...any) (*Pending, error) {
	s.mu.RLock()
	fn, ok := s.actions[action]
	chain := slices.Clone(s.middlewares)
	s.mu.RUnlock()

	if !ok {
		err := NewUnknownActionError(action)
		s.logger.Debug("dispatch rejected", "action", action, "error", err)
		s.emit(ctx, Event{
			Type:   EventDispatchRejected,
			Action: action,
			Data:   map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	if args == nil {
		args = []any{}
	}

	p := newPending(s.ids.Generate(), action, s.clock.Next())
	s.logger.Debug("dispatch started",
		"action", action,
		"dispatch_id", p.ID,
		"seq", p.Seq,
		"middlewares", len(chain),
	)
	s.emit(ctx, p.event(EventDispatchStarted, map[string]any{"args": args}))

	payload, err := fn(args...)
	if err != nil {
		s.fail(ctx, p, StageAction, nil, err)
		return nil, err
	}

	d := &dispatch{store: s, ctx: ctx, pending: p, chain: chain}
	d.forward(0, payload)

	if p.Completed() {
		return p, p.Err()
	}
	return p, nil
}

// DispatchWait dispatches and waits for the pipeline to finish or ctx to end.
func (s *Store) DispatchWait(ctx context.Context, action string, args ...any) error {
	p, err := s.DispatchContext(ctx, action, args...)
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// dispatch drives one payload through a snapshot of the middleware chain.
type dispatch struct {
	store   *Store
	ctx     context.Context
	pending *Pending
	chain   []Middleware
}

// forward hands payload to middleware i, or commits it after the last one.
// Middleware i+1 starts only from inside middleware i's next, so at most one
// middleware of a dispatch is ever in flight.
func (d *dispatch) forward(i int, payload any) {
	s := d.store
	if i == len(d.chain) {
		s.commit(d.ctx, d.pending, payload)
		return
	}

	s.emit(d.ctx, d.pending.event(EventMiddlewareEntered, map[string]any{
		"index":   i,
		"payload": payload,
	}))

	var called atomic.Bool
	next := func(p any) {
		if !called.CompareAndSwap(false, true) {
			s.logger.Warn("middleware called next more than once",
				"action", d.pending.Action,
				"dispatch_id", d.pending.ID,
				"index", i,
			)
			s.emit(d.ctx, d.pending.event(EventRepeatedNext, map[string]any{"index": i}))
			return
		}
		d.forward(i+1, p)
	}

	d.chain[i](s, d.pending.Action, payload, next)
}

// commit reduces the final payload and notifies subscribers.
func (s *Store) commit(ctx context.Context, p *Pending, payload any) {
	keys, err := s.reduce(p.Action, payload)
	if err != nil {
		s.fail(ctx, p, StageReduce, payload, err)
		return
	}
	s.logger.Debug("dispatch reduced", "action", p.Action, "dispatch_id", p.ID, "keys", keys)
	s.emit(ctx, p.event(EventDispatchReduced, map[string]any{"keys": keys}))

	s.notify()

	if s.observer != nil {
		s.emit(ctx, p.event(EventDispatchCompleted, map[string]any{
			"payload": payload,
			"state":   s.State(),
		}))
	}
	s.logger.Debug("dispatch completed", "action", p.Action, "dispatch_id", p.ID)
	p.finish(payload, nil)
}

// reduce applies every reducer in registration order. A failing reducer
// stops the loop; keys written before it keep their new values.
func (s *Store) reduce(action string, payload any) ([]string, error) {
	s.reduceMu.Lock()
	defer s.reduceMu.Unlock()

	s.mu.RLock()
	reducers := slices.Clone(s.reducers)
	s.mu.RUnlock()

	keys := make([]string, 0, len(reducers))
	for _, r := range reducers {
		s.stateMu.RLock()
		prev := s.state[r.key]
		s.stateMu.RUnlock()

		next, err := r.fn(prev, action, payload)
		if err != nil {
			return keys, err
		}

		s.stateMu.Lock()
		s.state[r.key] = next
		s.stateMu.Unlock()
		keys = append(keys, r.key)
	}
	return keys, nil
}

// notify calls every handler in registration order, outside all locks.
func (s *Store) notify() {
	s.mu.RLock()
	handlers := slices.Clone(s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(s)
	}
}

func (s *Store) fail(ctx context.Context, p *Pending, stage string, payload any, err error) {
	s.logger.Warn("dispatch failed",
		"action", p.Action,
		"dispatch_id", p.ID,
		"stage", stage,
		"error", err,
	)
	data := map[string]any{
		"stage": stage,
		"error": err.Error(),
	}
	if payload != nil {
		data["payload"] = payload
	}
	s.emit(ctx, p.event(EventDispatchFailed, data))
	p.finish(payload, err)
}

func (s *Store) emit(ctx context.Context, e Event) {
	if s.observer == nil {
		return
	}
	s.observer.OnEvent(ctx, e)
}

func (p *Pending) event(t EventType, data map[string]any) Event {
	return Event{
		Type:       t,
		DispatchID: p.ID,
		Action:     p.Action,
		Seq:        p.Seq,
		Data:       data,
	}
}
