package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fluxtor/internal/ir"
)

// TraceSnapshot captures the trace and final state of a scenario run.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Trace        []TraceEvent   `json:"trace"`
	FinalState   map[string]any `json:"final_state"`
}

// toCanonicalMap converts a TraceSnapshot to plain maps so optional fields
// are omitted per event type.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type":   event.Type,
			"action": event.Action,
		}
		if event.ID != "" {
			eventMap["id"] = event.ID
			eventMap["seq"] = event.Seq
		}
		switch event.Type {
		case TraceDispatch:
			args := event.Args
			if args == nil {
				args = []any{}
			}
			eventMap["args"] = args
		case TraceCompleted:
			eventMap["payload"] = event.Payload
		case TraceFailed:
			eventMap["error"] = event.Error
			eventMap["stage"] = event.Stage
			if event.Payload != nil {
				eventMap["payload"] = event.Payload
			}
		case TraceRejected:
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	finalState := s.FinalState
	if finalState == nil {
		finalState = map[string]any{}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final_state":   finalState,
	}
}

// Snapshot renders a result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		FinalState:   result.State,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Step or assertion failures and
// golden mismatches fail the test.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
