package definition

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// payloadStore records every reduced payload under "last".
func payloadStore(t *testing.T, opts ...fluxtor.Option) *fluxtor.Store {
	t.Helper()
	s, err := fluxtor.New(nil, opts...)
	require.NoError(t, err)
	for _, name := range []string{"add", "other"} {
		require.NoError(t, s.AddAction(name, NewAction(ActionDef{Name: name, Params: []string{"title", "done"}})))
	}
	require.NoError(t, s.AddReducer("last", func(_ any, _ string, payload any) (any, error) {
		return payload, nil
	}))
	return s
}

func addMiddleware(t *testing.T, s *fluxtor.Store, def MiddlewareDef) {
	t.Helper()
	mw, err := NewMiddleware(def)
	require.NoError(t, err)
	require.NoError(t, s.AddMiddleware(mw))
}

func TestDefaultsMiddleware(t *testing.T) {
	s := payloadStore(t)
	addMiddleware(t, s, MiddlewareDef{Kind: KindDefaults, Values: map[string]any{"done": false, "title": "untitled"}})

	_, err := s.Dispatch("add", "milk")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "milk", "done": false}, s.State()["last"])

	_, err = s.Dispatch("add")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "untitled", "done": false}, s.State()["last"])

	_, err = s.Dispatch("add", "eggs", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "eggs", "done": true}, s.State()["last"])
}

func TestDefaultsMiddlewarePassesNonObjects(t *testing.T) {
	s, err := fluxtor.New(nil)
	require.NoError(t, err)
	require.NoError(t, s.AddAction("n", func(args ...any) (any, error) { return 7, nil }))
	require.NoError(t, s.AddReducer("last", func(_ any, _ string, payload any) (any, error) { return payload, nil }))
	addMiddleware(t, s, MiddlewareDef{Kind: KindDefaults, Values: map[string]any{"x": 1}})

	_, err = s.Dispatch("n")
	require.NoError(t, err)
	assert.Equal(t, 7, s.State()["last"])
}

func TestMiddlewareOnFilter(t *testing.T) {
	s := payloadStore(t)
	addMiddleware(t, s, MiddlewareDef{Kind: KindDefaults, On: []string{"add"}, Values: map[string]any{"done": false}})

	_, err := s.Dispatch("other", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "x"}, s.State()["last"])

	_, err = s.Dispatch("add", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "x", "done": false}, s.State()["last"])
}

func TestDelayMiddleware(t *testing.T) {
	s := payloadStore(t)
	addMiddleware(t, s, MiddlewareDef{Kind: KindDelay, Delay: 20 * time.Millisecond})

	p, err := s.Dispatch("add", "later")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Completed())
	assert.Nil(t, s.State()["last"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, map[string]any{"title": "later"}, s.State()["last"])
}

func TestBlockMiddleware(t *testing.T) {
	s := payloadStore(t)
	addMiddleware(t, s, MiddlewareDef{Kind: KindBlock, On: []string{"other"}})

	p, err := s.Dispatch("other", "nope")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
	assert.Nil(t, s.State()["last"])

	_, err = s.Dispatch("add", "yes")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "yes"}, s.State()["last"])
}

func TestLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := payloadStore(t, fluxtor.WithLogger(logger))
	addMiddleware(t, s, MiddlewareDef{Kind: KindLog})

	_, err := s.Dispatch("add", "milk")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "action=add")
	assert.Contains(t, buf.String(), "milk")
	assert.Equal(t, map[string]any{"title": "milk"}, s.State()["last"])
}

func TestNewMiddlewareUnknownKind(t *testing.T) {
	_, err := NewMiddleware(MiddlewareDef{Kind: "retry"})
	assert.Error(t, err)
}

func TestNewAction(t *testing.T) {
	withParams := NewAction(ActionDef{Name: "login", Params: []string{"name", "role"}})

	payload, err := withParams("alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alice", "role": "admin"}, payload)

	payload, err = withParams("alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alice"}, payload)

	_, err = withParams("a", "b", "c")
	assert.EqualError(t, err, `action "login" takes 2 argument(s), got 3`)

	noParams := NewAction(ActionDef{Name: "reset"})
	payload, err = noParams()
	require.NoError(t, err)
	assert.Nil(t, payload)

	_, err = noParams(1)
	assert.Error(t, err)
}
