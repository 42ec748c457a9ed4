// Package definition declares fluxtor stores in CUE and builds them.
//
// A definitions directory is one CUE package. Every field under the
// top-level "store" struct declares one store:
//
//	store: counter: {
//		state: {count: 0}
//		action: increment: params: ["by"]
//		action: reset: {}
//		reducer: [
//			{key: "count", on: "increment", op: "add", field: "by"},
//			{key: "count", on: "reset", op: "set", value: 0},
//		]
//		middleware: [{kind: "defaults", values: {by: 1}}]
//	}
//
// Actions map positional args to the declared params and produce a
// map[string]any payload. Reducers react only to the actions named in "on"
// and apply one of the ops set, add, append, merge, toggle or unset.
// Middleware kinds are log, defaults, delay and block.
//
// Compile checks a single store; LoadDir loads a whole directory and reports
// LoadErrors with CUE positions and stable codes. Build turns a Definition
// into a *fluxtor.Store.
package definition
