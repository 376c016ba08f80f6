// Package config loads, defaults, and validates the TOML configuration shared
// by the stemfused daemon and the stemfuse CLI.
package config
