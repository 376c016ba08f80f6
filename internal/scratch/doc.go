// Package scratch manages the ephemeral per-job working directories and the
// retention sweep that guarantees their reclamation after crashes.
package scratch
