package fluxtor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestStore(t *testing.T, initial any, opts ...Option) *Store {
	t.Helper()
	s, err := New(initial, opts...)
	require.NoError(t, err)
	return s
}

// counterStore has an "inc" action adding its optional argument (default 1)
// to "count".
func counterStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := newTestStore(t, State{"count": 0}, opts...)
	require.NoError(t, s.AddAction("inc", func(args ...any) (any, error) {
		if len(args) == 0 {
			return 1, nil
		}
		return args[0], nil
	}))
	require.NoError(t, s.AddReducer("count", func(prev any, action string, payload any) (any, error) {
		if action != "inc" {
			return prev, nil
		}
		return prev.(int) + payload.(int), nil
	}))
	return s
}

func TestDispatch_LoginMergesPayloadIntoUser(t *testing.T) {
	s := newTestStore(t, State{"user": map[string]any{"logged": false}})

	require.NoError(t, s.AddAction("login", func(args ...any) (any, error) {
		return map[string]any{"u": args[0], "p": args[1]}, nil
	}))
	require.NoError(t, s.AddReducer("user", func(prev any, action string, payload any) (any, error) {
		if action != "login" {
			return prev, nil
		}
		merged := map[string]any{}
		if m, ok := prev.(map[string]any); ok {
			maps.Copy(merged, m)
		}
		maps.Copy(merged, payload.(map[string]any))
		return merged, nil
	}))

	p, err := s.Dispatch("login", "alice", "secret")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Completed())
	assert.Equal(t, "login", p.Action)

	user, ok := s.Get("user")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"logged": false, "u": "alice", "p": "secret"}, user)
}

func TestDispatch_ZeroMiddlewareIsSynchronous(t *testing.T) {
	s := counterStore(t)

	notified := 0
	require.NoError(t, s.Subscribe(func(*Store) { notified++ }))

	p, err := s.Dispatch("inc", 5)
	require.NoError(t, err)

	// Everything already happened before Dispatch returned
	assert.True(t, p.Completed())
	assert.Equal(t, 1, notified)
	v, _ := s.Get("count")
	assert.Equal(t, 5, v)
	assert.Equal(t, 5, p.Payload())
}

func TestDispatch_AsyncMiddlewareKeepsRegistrationOrder(t *testing.T) {
	s := newTestStore(t, nil)

	require.NoError(t, s.AddAction("run", func(args ...any) (any, error) {
		return []string{"start"}, nil
	}))

	var mu sync.Mutex
	var finished []string

	delayed := func(name string, delay time.Duration) Middleware {
		return func(_ *Store, _ string, payload any, next Next) {
			go func() {
				time.Sleep(delay)
				mu.Lock()
				finished = append(finished, name)
				mu.Unlock()
				next(append(payload.([]string), name))
			}()
		}
	}

	// The slow middleware is registered first
	require.NoError(t, s.AddMiddleware(delayed("m1", 50*time.Millisecond)))
	require.NoError(t, s.AddMiddleware(delayed("m2", 10*time.Millisecond)))

	var seen []string
	require.NoError(t, s.AddReducer("steps", func(prev any, action string, payload any) (any, error) {
		seen = payload.([]string)
		return payload, nil
	}))

	p, err := s.Dispatch("run")
	require.NoError(t, err)
	assert.False(t, p.Completed(), "async chain should still be running")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []string{"start", "m1", "m2"}, seen)
	mu.Lock()
	assert.Equal(t, []string{"m1", "m2"}, finished)
	mu.Unlock()
	v, _ := s.Get("steps")
	assert.Equal(t, []string{"start", "m1", "m2"}, v)
}

func TestDispatch_MiddlewareTransformsPayload(t *testing.T) {
	s := counterStore(t)

	var received *Store
	require.NoError(t, s.AddMiddleware(func(st *Store, action string, payload any, next Next) {
		received = st
		next(payload.(int) * 10)
	}))
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		next(payload.(int) + 1)
	}))

	_, err := s.Dispatch("inc", 2)
	require.NoError(t, err)

	v, _ := s.Get("count")
	assert.Equal(t, 21, v)
	assert.Same(t, s, received)
}

func TestDispatch_UnknownActionChangesNothing(t *testing.T) {
	clock := NewClock()
	s := counterStore(t, WithClock(clock))

	ran := false
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		ran = true
		next(payload)
	}))
	require.NoError(t, s.Subscribe(func(*Store) { ran = true }))

	p, err := s.Dispatch("neverRegistered")
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, IsUnknownAction(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "neverRegistered", e.Action)

	assert.False(t, ran)
	assert.Equal(t, State{"count": 0}, s.State())
	assert.Equal(t, int64(0), clock.Current())
	assert.Len(t, s.reducers, 1)
	assert.Len(t, s.middlewares, 1)
	assert.Len(t, s.handlers, 1)
	assert.False(t, s.HasAction("neverRegistered"))
}

func TestDispatch_SameKeyLastReducerWins(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAction("set", passthroughAction))
	require.NoError(t, s.AddReducer("first", func(prev any, action string, payload any) (any, error) {
		return "first", nil
	}))
	require.NoError(t, s.AddReducer("first", func(prev any, action string, payload any) (any, error) {
		assert.Equal(t, "first", prev, "second reducer sees the first reducer's value")
		return "second", nil
	}))

	_, err := s.Dispatch("set")
	require.NoError(t, err)

	v, _ := s.Get("first")
	assert.Equal(t, "second", v)
}

func TestDispatch_AbsentKeyHasNilPrev(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAction("touch", passthroughAction))

	var prevSeen any = "unset"
	require.NoError(t, s.AddReducer("missing", func(prev any, action string, payload any) (any, error) {
		prevSeen = prev
		return "now set", nil
	}))

	_, err := s.Dispatch("touch")
	require.NoError(t, err)
	assert.Nil(t, prevSeen)

	v, ok := s.Get("missing")
	assert.True(t, ok)
	assert.Equal(t, "now set", v)
}

func TestDispatch_ReducersRunForEveryAction(t *testing.T) {
	s := counterStore(t)
	require.NoError(t, s.AddAction("noop", passthroughAction))

	calls := 0
	require.NoError(t, s.AddReducer("other", func(prev any, action string, payload any) (any, error) {
		calls++
		return prev, nil
	}))

	_, err := s.Dispatch("inc")
	require.NoError(t, err)
	_, err = s.Dispatch("noop")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	v, _ := s.Get("count")
	assert.Equal(t, 1, v)
}

func TestDispatch_SubscribersNotifiedOnceInOrder(t *testing.T) {
	s := newTestStore(t, State{"a": 0, "b": 0})
	require.NoError(t, s.AddAction("bump", passthroughAction))
	for _, key := range []string{"a", "b"} {
		require.NoError(t, s.AddReducer(key, func(prev any, action string, payload any) (any, error) {
			return prev.(int) + 1, nil
		}))
	}

	var log []string
	var snapshots []State
	require.NoError(t, s.Subscribe(func(st *Store) {
		log = append(log, "h1")
		snapshots = append(snapshots, st.State())
	}))
	require.NoError(t, s.Subscribe(func(*Store) { log = append(log, "h2") }))

	_, err := s.Dispatch("bump")
	require.NoError(t, err)
	_, err = s.Dispatch("bump")
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h2", "h1", "h2"}, log)
	// Handlers only ever see fully reduced state
	assert.Equal(t, []State{{"a": 1, "b": 1}, {"a": 2, "b": 2}}, snapshots)
}

func TestDispatch_ReentrantFromSubscriber(t *testing.T) {
	s := counterStore(t)

	var log []string
	require.NoError(t, s.Subscribe(func(st *Store) {
		count, _ := st.Get("count")
		log = append(log, fmt.Sprintf("h1:%d", count))
		if count == 1 {
			_, err := st.Dispatch("inc")
			assert.NoError(t, err)
		}
	}))
	require.NoError(t, s.Subscribe(func(st *Store) {
		count, _ := st.Get("count")
		log = append(log, fmt.Sprintf("h2:%d", count))
	}))

	_, err := s.Dispatch("inc")
	require.NoError(t, err)

	// The nested dispatch ran to completion before the outer one reached h2
	assert.Equal(t, []string{"h1:1", "h1:2", "h2:2", "h2:2"}, log)
	v, _ := s.Get("count")
	assert.Equal(t, 2, v)
}

func TestDispatch_ReentrantFromAction(t *testing.T) {
	s := counterStore(t)
	require.NoError(t, s.AddAction("double", func(args ...any) (any, error) {
		_, err := s.Dispatch("inc", 10)
		return nil, err
	}))

	_, err := s.Dispatch("double")
	require.NoError(t, err)

	v, _ := s.Get("count")
	assert.Equal(t, 10, v)
}

func TestDispatch_MiddlewareWithoutNextAborts(t *testing.T) {
	s := counterStore(t)
	require.NoError(t, s.AddMiddleware(func(*Store, string, any, Next) {}))

	notified := false
	require.NoError(t, s.Subscribe(func(*Store) { notified = true }))

	p, err := s.Dispatch("inc")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Completed())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, notified)
	assert.Equal(t, State{"count": 0}, s.State())
	assert.Nil(t, p.Payload())
}

func TestDispatch_NextIsSingleUse(t *testing.T) {
	rec := &recordingObserver{}
	s := counterStore(t, WithObserver(rec))
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		next(payload)
		next(payload)
	}))

	notified := 0
	require.NoError(t, s.Subscribe(func(*Store) { notified++ }))

	_, err := s.Dispatch("inc")
	require.NoError(t, err)

	v, _ := s.Get("count")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, notified)
	assert.Contains(t, rec.types(), EventRepeatedNext)
}

func TestDispatch_ActionErrorPropagates(t *testing.T) {
	s := counterStore(t)
	require.NoError(t, s.AddAction("explode", func(args ...any) (any, error) {
		return nil, errBoom
	}))

	p, err := s.Dispatch("explode")
	assert.Nil(t, p)
	assert.Same(t, errBoom, err)
	assert.Equal(t, State{"count": 0}, s.State())
}

func TestDispatch_ReducerErrorLeavesPartialState(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAction("go", passthroughAction))
	require.NoError(t, s.AddReducer("a", func(any, string, any) (any, error) { return 1, nil }))
	require.NoError(t, s.AddReducer("b", func(any, string, any) (any, error) { return nil, errBoom }))
	require.NoError(t, s.AddReducer("c", func(any, string, any) (any, error) { return 3, nil }))

	notified := false
	require.NoError(t, s.Subscribe(func(*Store) { notified = true }))

	p, err := s.Dispatch("go")
	assert.Same(t, errBoom, err)
	require.NotNil(t, p)
	assert.True(t, p.Completed())
	assert.Same(t, errBoom, p.Err())

	assert.Equal(t, State{"a": 1}, s.State())
	assert.False(t, notified)
}

func TestDispatch_AsyncReducerErrorReachesWaiter(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAction("go", passthroughAction))
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		time.AfterFunc(5*time.Millisecond, func() { next(payload) })
	}))
	require.NoError(t, s.AddReducer("a", func(any, string, any) (any, error) { return nil, errBoom }))

	p, err := s.Dispatch("go")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Same(t, errBoom, p.Wait(ctx))
}

func TestDispatch_MiddlewareSnapshotPerDispatch(t *testing.T) {
	s := counterStore(t)

	release := make(chan struct{})
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		go func() {
			<-release
			next(payload)
		}()
	}))

	p, err := s.Dispatch("inc", 1)
	require.NoError(t, err)

	// Registered while the first dispatch is parked in the chain
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		next(payload.(int) * 100)
	}))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	v, _ := s.Get("count")
	assert.Equal(t, 1, v, "in-flight dispatch keeps the chain it started with")

	require.NoError(t, s.DispatchWait(ctx, "inc", 1))
	v, _ = s.Get("count")
	assert.Equal(t, 101, v)
}

func TestDispatch_ConcurrentDispatchesSerializeReduction(t *testing.T) {
	s := counterStore(t)
	require.NoError(t, s.AddMiddleware(func(_ *Store, _ string, payload any, next Next) {
		go next(payload)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.DispatchWait(ctx, "inc"))
		}()
	}
	wg.Wait()

	v, _ := s.Get("count")
	assert.Equal(t, 50, v)
}

func TestDispatch_IDsAndSeq(t *testing.T) {
	s := counterStore(t, WithIDGenerator(NewFixedGenerator("d-1", "d-2")), WithClock(NewClockAt(10)))

	p1, err := s.Dispatch("inc")
	require.NoError(t, err)
	p2, err := s.Dispatch("inc")
	require.NoError(t, err)

	assert.Equal(t, "d-1", p1.ID)
	assert.Equal(t, int64(11), p1.Seq)
	assert.Equal(t, "d-2", p2.ID)
	assert.Equal(t, int64(12), p2.Seq)
}

func TestDispatchWait_ReturnsUnknownAction(t *testing.T) {
	s := counterStore(t)
	err := s.DispatchWait(context.Background(), "missing")
	assert.True(t, IsUnknownAction(err))
}
