package fluxtor

import (
	"io"
	"log/slog"
	"maps"
	"reflect"
	"sync"
)

// State is the store's key-value state.
type State map[string]any

// ActionFunc turns dispatch arguments into an action payload.
type ActionFunc func(args ...any) (any, error)

// Reducer computes the new value for one state key. prev is nil when the key
// is absent. Reducers see every dispatched action and return prev unchanged
// for actions they do not handle.
type Reducer func(prev any, action string, payload any) (any, error)

// Next forwards a payload to the following middleware, or to reduction after
// the last one. Only the first call has an effect.
type Next func(payload any)

// Middleware inspects or transforms a payload. It forwards by calling next,
// possibly later and from another goroutine, or aborts the dispatch by never
// calling it.
type Middleware func(s *Store, action string, payload any, next Next)

// Handler is notified with the store after each completed dispatch.
type Handler func(s *Store)

type reducerEntry struct {
	key string
	fn  Reducer
}

// Store is a unidirectional data flow state container.
//
// Thread-safety model:
//   - registration and state reads: safe from any goroutine
//   - Dispatch: safe from any goroutine, including handlers and middleware
//   - reducers: run one dispatch at a time, must not dispatch
type Store struct {
	// mu guards the four registries.
	mu          sync.RWMutex
	actions     map[string]ActionFunc
	reducers    []reducerEntry
	middlewares []Middleware
	handlers    []Handler

	stateMu sync.RWMutex
	state   State

	// reduceMu serializes reduction phases across dispatches.
	reduceMu sync.Mutex

	clock    Sequencer
	ids      IDGenerator
	logger   *slog.Logger
	observer Observer
}

// New creates a Store holding a copy of initial.
//
// initial may be nil, a State, or any map keyed by strings. Anything else
// (slices, scalars, structs, pointers) fails with an invalid argument error
// for the first argument, expecting an object.
func New(initial any, opts ...Option) (*Store, error) {
	state, err := toState(initial)
	if err != nil {
		return nil, err
	}

	s := &Store{
		actions: make(map[string]ActionFunc),
		state:   state,
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// toState applies the object kind check to a constructor argument.
func toState(initial any) (State, error) {
	switch v := initial.(type) {
	case nil:
		return State{}, nil
	case State:
		if v == nil {
			return State{}, nil
		}
		return maps.Clone(v), nil
	case map[string]any:
		if v == nil {
			return State{}, nil
		}
		return State(maps.Clone(v)), nil
	}

	rv := reflect.ValueOf(initial)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, NewInvalidArgumentError("first", "object")
	}

	state := make(State, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		state[iter.Key().String()] = iter.Value().Interface()
	}
	return state, nil
}

// AddReducer appends a reducer for key. Several reducers may share a key;
// they run in registration order and the last one wins.
func (s *Store) AddReducer(key string, fn Reducer) error {
	if key == "" {
		return NewInvalidArgumentError("first", "non-empty string")
	}
	if fn == nil {
		return NewInvalidArgumentError("second", "function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reducers = append(s.reducers, reducerEntry{key: key, fn: fn})
	return nil
}

// AddMiddleware appends a middleware to the chain.
func (s *Store) AddMiddleware(fn Middleware) error {
	if fn == nil {
		return NewInvalidArgumentError("first", "function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, fn)
	return nil
}

// AddAction registers fn under name. Registering a name again replaces the
// earlier function.
func (s *Store) AddAction(name string, fn ActionFunc) error {
	if name == "" {
		return NewInvalidArgumentError("first", "non-empty string")
	}
	if fn == nil {
		return NewInvalidArgumentError("second", "function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = fn
	return nil
}

// Subscribe appends a handler notified after every completed dispatch.
func (s *Store) Subscribe(fn Handler) error {
	if fn == nil {
		return NewInvalidArgumentError("first", "function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
	return nil
}

// HasAction reports whether name is registered.
func (s *Store) HasAction(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[name]
	return ok
}

// State returns a shallow copy of the current state.
func (s *Store) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return maps.Clone(s.state)
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// Len returns the number of keys in the state.
func (s *Store) Len() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return len(s.state)
}

// Logger returns the store's logger, for middleware that wants to log with
// the same handler.
func (s *Store) Logger() *slog.Logger {
	return s.logger
}
