package stage

// Metadata is the tagged, per-stage structured payload carried by a Result.
// Exactly one section is populated by each stage; downstream stages read the
// sections they need and validate presence at their boundary.
type Metadata struct {
	Separation  *SeparationMetadata  `json:"separation,omitempty"`
	Extraction  *ExtractionMetadata  `json:"extraction,omitempty"`
	Fusion      *FusionMetadata      `json:"fusion,omitempty"`
	Enhancement *EnhancementMetadata `json:"enhancement,omitempty"`
}

// TrackSource describes one downloaded source track.
type TrackSource struct {
	Ref         string `json:"ref"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// SeparationMetadata records the source tracks the stems were derived from.
type SeparationMetadata struct {
	Tracks map[string]TrackSource `json:"tracks"`
}

// TrackFeatures are the musical features extracted per source track,
// aggregated across its stems.
type TrackFeatures struct {
	Tempo        float64 `json:"tempo"`
	Key          string  `json:"key"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
}

// ExtractionMetadata carries the per-track feature set.
type ExtractionMetadata struct {
	Tracks map[string]TrackFeatures `json:"tracks"`
}

// FusionMetadata records the generation parameters actually used, for
// reproducibility and debugging.
type FusionMetadata struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds int     `json:"duration_seconds"`
	GuidanceScale   float64 `json:"guidance_scale"`
	Temperature     float64 `json:"temperature"`
}

// EnhancementMetadata records the post-processing chain applied to the fused
// track and the durable reference of the uploaded artifact.
type EnhancementMetadata struct {
	Normalized        bool    `json:"normalized"`
	CompressThreshold float64 `json:"compress_threshold"`
	CompressRatio     float64 `json:"compress_ratio"`
	EQ                string  `json:"eq"`
	Limiter           bool    `json:"limiter"`
	StorageRef        string  `json:"storage_ref"`
}
