// Package extraction implements the second pipeline stage: deriving tempo,
// key, energy, and danceability per source track from its stems via the
// external analyzer service.
package extraction
