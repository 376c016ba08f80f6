// Package dispatch routes stage tasks between the orchestrator and the stage
// workers with at-least-once delivery. The Redis broker carries production
// traffic; the memory queue mirrors its semantics for tests and the
// single-node development mode.
package dispatch
