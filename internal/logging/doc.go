// Package logging centralizes slog construction and the structured field
// conventions shared by the daemon, workflow manager, and stage workers.
package logging
