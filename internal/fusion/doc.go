// Package fusion implements the third pipeline stage: deriving a generation
// prompt from the extracted features (or honoring a user-supplied one) and
// synthesizing the fused track through the external generator service.
package fusion
