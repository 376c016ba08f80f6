// Package workflow is the pipeline orchestrator. It enqueues fusion jobs,
// runs per-stage worker pools against the dispatch broker, sequences the
// four-stage chain through the tracker with exactly-once advancement, and
// enforces the time limit and delivery budget policies.
//
// The chain's only ordering guarantee: a stage's task is submitted strictly
// after the prior stage's success is recorded. Duplicate deliveries, crashed
// consumers, and lost tasks are all absorbed by the compare-and-swap advance
// plus the reclaim sweep.
package workflow
