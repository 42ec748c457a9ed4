package definition

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// NewMiddleware turns a MiddlewareDef into a store middleware.
func NewMiddleware(def MiddlewareDef) (fluxtor.Middleware, error) {
	var mw fluxtor.Middleware
	switch def.Kind {
	case KindLog:
		mw = logMiddleware
	case KindDefaults:
		mw = defaultsMiddleware(def.Values)
	case KindDelay:
		mw = delayMiddleware(def.Delay)
	case KindBlock:
		mw = blockMiddleware
	default:
		return nil, fmt.Errorf("unknown middleware kind %q", def.Kind)
	}

	if len(def.On) == 0 {
		return mw, nil
	}
	return func(s *fluxtor.Store, action string, payload any, next fluxtor.Next) {
		if !slices.Contains(def.On, action) {
			next(payload)
			return
		}
		mw(s, action, payload, next)
	}, nil
}

func logMiddleware(s *fluxtor.Store, action string, payload any, next fluxtor.Next) {
	s.Logger().Info("action", slog.String("action", action), slog.Any("payload", payload))
	next(payload)
}

// defaultsMiddleware fills payload fields that are absent. Payloads that are
// not objects pass through untouched.
func defaultsMiddleware(values map[string]any) fluxtor.Middleware {
	return func(_ *fluxtor.Store, _ string, payload any, next fluxtor.Next) {
		var out map[string]any
		switch p := payload.(type) {
		case nil:
			out = make(map[string]any, len(values))
		case map[string]any:
			out = maps.Clone(p)
		default:
			next(payload)
			return
		}

		for k, v := range values {
			if _, ok := out[k]; !ok {
				out[k] = cloneValue(v)
			}
		}
		next(out)
	}
}

func delayMiddleware(d time.Duration) fluxtor.Middleware {
	return func(_ *fluxtor.Store, _ string, payload any, next fluxtor.Next) {
		time.AfterFunc(d, func() { next(payload) })
	}
}

// blockMiddleware never forwards, so the dispatch stays pending.
func blockMiddleware(s *fluxtor.Store, action string, _ any, _ fluxtor.Next) {
	s.Logger().Info("action blocked", slog.String("action", action))
}
