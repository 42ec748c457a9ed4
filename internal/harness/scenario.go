package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted run against one store.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Definitions is the CUE package directory holding the store.
	// Relative paths are resolved against the scenario file location.
	Definitions string `yaml:"definitions"`

	// Store names the store declared in Definitions.
	Store string `yaml:"store"`

	// State overrides top-level keys of the declared initial state.
	State map[string]any `yaml:"state,omitempty"`

	// Steps are dispatched in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: final_state, trace_contains, trace_order,
	// trace_count, notify_count
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single dispatch.
type Step struct {
	// Dispatch is the action name.
	Dispatch string `yaml:"dispatch"`

	// Args are passed positionally to the action.
	Args []any `yaml:"args,omitempty"`

	// Expect is the expected outcome. Defaults to completed.
	Expect string `yaml:"expect,omitempty"`

	// Error, when set, must appear in the failure message.
	Error string `yaml:"error,omitempty"`

	// Timeout bounds how long the step waits for an asynchronous
	// completion. Defaults to DefaultStepTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": state[Key] equals Expect
	// - "trace_contains": a completed dispatch of Action carried Payload
	// - "trace_order": Actions were first dispatched in this order
	// - "trace_count": Action was dispatched exactly Count times
	// - "notify_count": subscribers were notified exactly Count times
	Type string `yaml:"type"`

	// Key is the state key (used by final_state).
	Key string `yaml:"key,omitempty"`

	// Expect is the expected state value (used by final_state).
	Expect any `yaml:"expect,omitempty"`

	// Action is the action name (used by trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is the expected payload (used by trace_contains).
	// Objects match as a subset, everything else matches exactly.
	Payload any `yaml:"payload,omitempty"`

	// Actions is the expected dispatch order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState    = "final_state"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertNotifyCount   = "notify_count"
)

// Step outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeStalled   = "stalled"
)

// DefaultStepTimeout is how long a step waits for an asynchronous completion
// when the scenario does not say otherwise.
const DefaultStepTimeout = time.Second

// LoadScenario reads and parses a scenario YAML file.
// The definitions path is resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the definitions path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) && basePath != "" {
		scenario.Definitions = filepath.Join(basePath, scenario.Definitions)
	}

	if _, err := os.Stat(scenario.Definitions); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: definitions directory not found: %s", scenario.Definitions)
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Paths are left as
// written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}

	if s.Store == "" {
		return fmt.Errorf("store is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Dispatch == "" {
			return fmt.Errorf("steps[%d]: dispatch is required", i)
		}
		switch step.Expect {
		case "":
			step.Expect = OutcomeCompleted
		case OutcomeCompleted, OutcomeFailed, OutcomeRejected, OutcomeStalled:
		default:
			return fmt.Errorf("steps[%d]: unknown expect %q", i, step.Expect)
		}
		if step.Error != "" && step.Expect != OutcomeFailed && step.Expect != OutcomeRejected {
			return fmt.Errorf("steps[%d]: error is only valid with expect failed or rejected", i)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("steps[%d]: timeout must be non-negative", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertNotifyCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notify_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
