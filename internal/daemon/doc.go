// Package daemon wires the workflow manager, the janitor, and the metrics
// endpoint into a single-instance background process.
package daemon
