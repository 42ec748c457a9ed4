package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "counter_basic.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "counter_basic", scenario.Name)
	assert.Equal(t, filepath.Join("testdata", "definitions"), scenario.Definitions)
	assert.Equal(t, "counter", scenario.Store)

	require.Len(t, scenario.Steps, 4)
	assert.Equal(t, OutcomeCompleted, scenario.Steps[0].Expect, "expect defaults to completed")
	assert.Equal(t, []any{2}, scenario.Steps[1].Args)
	assert.Equal(t, OutcomeRejected, scenario.Steps[2].Expect)
	assert.Equal(t, 20*time.Millisecond, scenario.Steps[3].Timeout)

	require.Len(t, scenario.Assertions, 6)
	assert.Equal(t, map[string]any{"by": 2}, scenario.Assertions[1].Payload)
	assert.Equal(t, []string{"increment", "freeze"}, scenario.Assertions[2].Actions)
}

func TestLoadScenario_StateOverrides(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "counter_failure.yaml"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 10}, scenario.State)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_DefinitionsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
definitions: nowhere
store: counter
steps:
  - dispatch: increment
`), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitions directory not found")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	base, err := filepath.Abs("testdata")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
definitions: definitions
store: counter
steps:
  - dispatch: increment
`), 0644))

	scenario, err := LoadScenarioWithBasePath(path, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "definitions"), scenario.Definitions)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a}]\nassertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name:    "missing name",
			yaml:    "definitions: d\nstore: s\nsteps: [{dispatch: a}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing definitions",
			yaml:    "name: x\nstore: s\nsteps: [{dispatch: a}]\n",
			wantErr: "definitions is required",
		},
		{
			name:    "missing store",
			yaml:    "name: x\ndefinitions: d\nsteps: [{dispatch: a}]\n",
			wantErr: "store is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndefinitions: d\nstore: s\n",
			wantErr: "steps list is required",
		},
		{
			name:    "step without dispatch",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{args: [1]}]\n",
			wantErr: "steps[0]: dispatch is required",
		},
		{
			name:    "unknown expect",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a, expect: exploded}]\n",
			wantErr: `steps[0]: unknown expect "exploded"`,
		},
		{
			name:    "error on completed step",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a, error: boom}]\n",
			wantErr: "error is only valid",
		},
		{
			name:    "bad timeout",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a, timeout: soon}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a}]\nassertions: [{type: vibes}]\n",
			wantErr: `assertions[0]: unknown assertion type "vibes"`,
		},
		{
			name:    "final_state without key",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a}]\nassertions: [{type: final_state, expect: 1}]\n",
			wantErr: "key is required for final_state",
		},
		{
			name:    "trace_order without actions",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a}]\nassertions: [{type: trace_order}]\n",
			wantErr: "actions list is required",
		},
		{
			name:    "negative count",
			yaml:    "name: x\ndefinitions: d\nstore: s\nsteps: [{dispatch: a}]\nassertions: [{type: trace_count, action: a, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
