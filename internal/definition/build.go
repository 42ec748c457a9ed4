package definition

import (
	"fmt"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// Build creates a store from a definition. Registration follows declaration
// order, so middleware runs and reducers apply in the order they are listed.
func Build(def *Definition, opts ...fluxtor.Option) (*fluxtor.Store, error) {
	s, err := fluxtor.New(cloneValue(def.State), opts...)
	if err != nil {
		return nil, fmt.Errorf("build %q: %w", def.Name, err)
	}

	for _, a := range def.Actions {
		if err := s.AddAction(a.Name, NewAction(a)); err != nil {
			return nil, fmt.Errorf("build %q: %w", def.Name, err)
		}
	}
	for _, m := range def.Middleware {
		mw, err := NewMiddleware(m)
		if err != nil {
			return nil, fmt.Errorf("build %q: %w", def.Name, err)
		}
		if err := s.AddMiddleware(mw); err != nil {
			return nil, fmt.Errorf("build %q: %w", def.Name, err)
		}
	}
	for _, r := range def.Reducers {
		fn, err := NewReducer(r)
		if err != nil {
			return nil, fmt.Errorf("build %q: %w", def.Name, err)
		}
		if err := s.AddReducer(r.Key, fn); err != nil {
			return nil, fmt.Errorf("build %q: %w", def.Name, err)
		}
	}
	return s, nil
}

// NewAction turns an ActionDef into an action function. Positional args are
// stored under the declared param names; trailing params may be omitted.
// An action without params takes no args and has a nil payload.
func NewAction(def ActionDef) fluxtor.ActionFunc {
	return func(args ...any) (any, error) {
		if len(args) > len(def.Params) {
			return nil, fmt.Errorf("action %q takes %d argument(s), got %d", def.Name, len(def.Params), len(args))
		}
		if len(def.Params) == 0 {
			return nil, nil
		}

		payload := make(map[string]any, len(args))
		for i, arg := range args {
			payload[def.Params[i]] = arg
		}
		return payload, nil
	}
}
