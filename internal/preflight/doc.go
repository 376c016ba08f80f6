// Package preflight validates the runtime environment before processing
// begins: directory access, broker connectivity, and processing service
// health endpoints.
package preflight
