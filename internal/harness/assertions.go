package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/fluxtor/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == TraceDispatch {
				fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Action, render(event.Args))
			}
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against a result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(result.State, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertNotifyCount:
		return assertNotifyCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertFinalState checks a single state key. A missing key matches only
// a null expectation.
func assertFinalState(state map[string]any, a Assertion) error {
	actual, ok := state[a.Key]
	if !ok {
		if a.Expect == nil {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state.%s = %s", a.Key, render(a.Expect)),
			Actual:   fmt.Sprintf("state.%s is missing", a.Key),
		}
	}

	if !valuesEqual(actual, a.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state.%s = %s", a.Key, render(a.Expect)),
			Actual:   fmt.Sprintf("state.%s = %s", a.Key, render(actual)),
		}
	}
	return nil
}

// assertTraceContains checks for a completed dispatch of the action whose
// payload matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Type == TraceCompleted && event.Action == a.Action && matchPayload(event.Payload, a.Payload) {
			return nil
		}
	}

	expected := fmt.Sprintf("completed %s", a.Action)
	if a.Payload != nil {
		expected += " with payload " + render(a.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "no matching completion in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first dispatch of each listed action
// happens in the listed order.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int)
	for i, event := range trace {
		if event.Type != TraceDispatch {
			continue
		}
		if _, seen := first[event.Action]; !seen {
			first[event.Action] = i
		}
	}

	prev := -1
	for _, action := range a.Actions {
		pos, ok := first[action]
		if !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %s", strings.Join(a.Actions, " -> ")),
				Actual:   fmt.Sprintf("%s was never dispatched", action),
				Trace:    trace,
			}
		}
		if pos < prev {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %s", strings.Join(a.Actions, " -> ")),
				Actual:   fmt.Sprintf("%s was dispatched too early", action),
				Trace:    trace,
			}
		}
		prev = pos
	}
	return nil
}

// assertTraceCount checks how many times an action was dispatched.
// Rejected dispatches are not counted.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TraceDispatch && event.Action == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s dispatched %d time(s)", a.Action, a.Count),
			Actual:   fmt.Sprintf("%s dispatched %d time(s)", a.Action, count),
			Trace:    trace,
		}
	}
	return nil
}

func assertNotifyCount(result *Result, a Assertion) error {
	if result.Notifications != a.Count {
		return &AssertionError{
			Type:     AssertNotifyCount,
			Expected: fmt.Sprintf("%d notification(s)", a.Count),
			Actual:   fmt.Sprintf("%d notification(s)", result.Notifications),
		}
	}
	return nil
}

// matchPayload reports whether actual carries the expected payload.
// Object expectations are a subset match, extra keys in actual are ignored.
func matchPayload(actual, expected any) bool {
	if expected == nil {
		return true
	}

	expectedMap, ok := expected.(map[string]any)
	if !ok {
		return valuesEqual(actual, expected)
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for key, expectedVal := range expectedMap {
		actualVal, exists := actualMap[key]
		if !exists || !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values by their canonical JSON form, so 3 and
// 3.0 are equal and map ordering is irrelevant.
func valuesEqual(a, b any) bool {
	ab, err := ir.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := ir.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func render(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
