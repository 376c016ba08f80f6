package storage

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store is the durable object storage the pipeline reads source tracks from
// and writes the final artifact to. Implementations map transport failures to
// services.ErrUnavailable and missing objects to services.ErrNotFound so the
// workflow can classify them.
type Store interface {
	// Upload persists a local file and returns its storage reference.
	Upload(ctx context.Context, localPath string) (string, error)
	// Download fetches the object behind ref into localPath, overwriting any
	// existing file (stage re-execution must be idempotent).
	Download(ctx context.Context, ref, localPath string) error
	// Metadata returns size and content information for a stored object.
	Metadata(ctx context.Context, ref string) (ObjectInfo, error)
}
