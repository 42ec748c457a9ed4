// Package fluxtor implements a unidirectional data flow state container.
//
// A Store holds a single state map and four ordered registries: actions,
// middleware, reducers and subscribers. Everything that changes state goes
// through Dispatch.
//
// PIPELINE:
//
//  1. The action function registered under the dispatched name turns the
//     call arguments into a payload.
//  2. The payload travels through the middleware chain. Each middleware
//     receives a single-use Next and decides when (or whether) to forward.
//     A middleware may forward from another goroutine after a delay.
//  3. Every reducer runs, in registration order, against the value stored
//     under its key. Reducers are not filtered by action name.
//  4. Every subscriber is called, in registration order, with the store.
//
// Dispatch returns a Pending handle. With no middleware, or with middleware
// that forwards synchronously, the pipeline has already finished when
// Dispatch returns.
//
// ORDERING:
//
// Reduction phases of all dispatches are serialized. Subscribers run outside
// every store lock, so a subscriber may dispatch again; the nested dispatch
// finishes (including its own notifications) before the outer dispatch moves
// on to its next subscriber. Two dispatches that are both parked in
// asynchronous middleware reduce in whichever order their chains finish.
//
// Reducers run under the reduce lock and must not dispatch.
package fluxtor
