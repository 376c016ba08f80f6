// Package stage defines the contract between the workflow manager and the
// four pipeline stage workers: the execution interface, the typed result and
// metadata passed along the chain, and failure classification.
package stage
