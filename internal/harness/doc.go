// Package harness runs scripted scenarios against stores built from CUE
// definitions.
//
// A scenario names a definitions directory and a store, dispatches a list of
// actions in order, and then checks assertions against the collected trace
// and the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: counter_basic
//	description: "Increments accumulate"
//	definitions: ../definitions
//	store: counter
//	state: { count: 10 }
//	steps:
//	  - dispatch: increment
//	    args: [2]
//	  - dispatch: freeze
//	    expect: stalled
//	    timeout: 20ms
//	assertions:
//	  - type: final_state
//	    key: count
//	    expect: 12
//	  - type: trace_contains
//	    action: increment
//	    payload: { by: 2 }
//	  - type: trace_order
//	    actions: [increment, freeze]
//	  - type: trace_count
//	    action: increment
//	    count: 1
//	  - type: notify_count
//	    count: 1
//
// The definitions path is resolved relative to the scenario file.
//
// # Determinism
//
// Dispatch ids and sequence numbers come from testutil generators, so the
// same scenario always produces the same trace. Traces can be compared
// against golden files with RunWithGolden.
package harness
