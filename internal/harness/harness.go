package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/fluxtor/internal/definition"
	"github.com/roach88/fluxtor/internal/fluxtor"
	"github.com/roach88/fluxtor/internal/testutil"
)

// DefaultStalledTimeout is how long a step expected to stall waits before
// it is declared stalled.
const DefaultStalledTimeout = 50 * time.Millisecond

// RunOption configures a scenario run.
type RunOption func(*runConfig)

type runConfig struct {
	observer fluxtor.Observer
	logger   *slog.Logger
}

// WithObserver attaches an extra observer next to the trace collector,
// e.g. a recorder.
func WithObserver(o fluxtor.Observer) RunOption {
	return func(c *runConfig) {
		c.observer = o
	}
}

// WithLogger sets the store logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// The store is built fresh from the scenario's definitions with
// deterministic ids ("dispatch-001", ...) and sequence numbers, so the
// same scenario always yields the same trace.
//
// Returns an error only when the scenario cannot be executed at all
// (definitions fail to load, unknown store). Step and assertion mismatches
// are reported through Result.Errors.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a context handed to observers.
func RunContext(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	def, err := loadDefinition(scenario)
	if err != nil {
		return nil, err
	}

	collector := &traceCollector{}
	var observer fluxtor.Observer = collector
	if cfg.observer != nil {
		observer = fluxtor.NewMultiObserver(collector, cfg.observer)
	}

	s, err := definition.Build(def,
		fluxtor.WithLogger(cfg.logger),
		fluxtor.WithObserver(observer),
		fluxtor.WithIDGenerator(testutil.NewSequentialIDGenerator(testutil.DefaultIDPrefix)),
		fluxtor.WithClock(testutil.NewDeterministicClock()),
	)
	if err != nil {
		return nil, fmt.Errorf("building store %q: %w", scenario.Store, err)
	}

	var notified atomic.Int64
	if err := s.Subscribe(func(*fluxtor.Store) { notified.Add(1) }); err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if step.Expect == "" {
			step.Expect = OutcomeCompleted
		}
		outcome, stepErr := runStep(ctx, s, step)
		checkStep(result, i, step, outcome, stepErr)
	}

	// Delayed completions notify from timer goroutines.
	result.State = map[string]any(s.State())
	result.Notifications = int(notified.Load())
	result.Trace = collector.snapshot()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func loadDefinition(scenario *Scenario) (*definition.Definition, error) {
	loaded, errs := definition.LoadDir(scenario.Definitions, definition.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("loading definitions: %w", errors.Join(errs...))
	}

	def, ok := loaded.Lookup(scenario.Store)
	if !ok {
		return nil, fmt.Errorf("store %q not found in %s (have %s)",
			scenario.Store, scenario.Definitions, strings.Join(loaded.Names(), ", "))
	}

	if len(scenario.State) > 0 {
		def = def.WithState(scenario.State)
	}
	return def, nil
}

// runStep dispatches one step and classifies its outcome.
func runStep(ctx context.Context, s *fluxtor.Store, step Step) (string, error) {
	p, err := s.DispatchContext(ctx, step.Dispatch, step.Args...)
	switch {
	case fluxtor.IsUnknownAction(err):
		return OutcomeRejected, err
	case err != nil:
		return OutcomeFailed, err
	}

	timeout := step.Timeout
	if timeout == 0 {
		timeout = DefaultStepTimeout
		if step.Expect == OutcomeStalled {
			timeout = DefaultStalledTimeout
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.Wait(waitCtx); err != nil {
		if !p.Completed() && errors.Is(err, context.DeadlineExceeded) {
			return OutcomeStalled, nil
		}
		return OutcomeFailed, err
	}
	return OutcomeCompleted, nil
}

func checkStep(result *Result, index int, step Step, outcome string, err error) {
	if outcome != step.Expect {
		msg := fmt.Sprintf("steps[%d] %s: expected %s, got %s", index, step.Dispatch, step.Expect, outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
		return
	}

	if step.Error != "" && (err == nil || !strings.Contains(err.Error(), step.Error)) {
		got := "no error"
		if err != nil {
			got = err.Error()
		}
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q", index, step.Dispatch, step.Error, got))
	}
}
