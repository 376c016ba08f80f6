// Package audioproc is the HTTP client for the external audio processing
// services: the stem separator, the feature analyzer, the fusion generator,
// and the enhancer. All four share the same invoke contract and failure
// mapping, so one client serves the whole pipeline.
package audioproc
