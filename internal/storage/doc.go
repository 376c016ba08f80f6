// Package storage models the durable object store holding source tracks and
// final artifacts: a narrow upload/download/metadata contract, a
// filesystem-backed implementation, and a bounded-backoff retry wrapper.
package storage
