package storage

import (
	"context"
	"time"

	"stemfuse/internal/services"
)

// Retrying wraps a Store with bounded exponential backoff on retryable
// failures. Fatal classifications (not found, validation) surface immediately.
type Retrying struct {
	inner    Store
	attempts int
	backoff  time.Duration
}

// NewRetrying constructs the wrapper. attempts < 1 behaves as a single try.
func NewRetrying(inner Store, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff}
}

func (r *Retrying) Upload(ctx context.Context, localPath string) (string, error) {
	var ref string
	err := r.do(ctx, func() error {
		var err error
		ref, err = r.inner.Upload(ctx, localPath)
		return err
	})
	return ref, err
}

func (r *Retrying) Download(ctx context.Context, ref, localPath string) error {
	return r.do(ctx, func() error {
		return r.inner.Download(ctx, ref, localPath)
	})
}

func (r *Retrying) Metadata(ctx context.Context, ref string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, func() error {
		var err error
		info, err = r.inner.Metadata(ctx, ref)
		return err
	})
	return info, err
}

func (r *Retrying) do(ctx context.Context, op func() error) error {
	delay := r.backoff
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !services.IsRetryable(lastErr) || attempt == r.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
