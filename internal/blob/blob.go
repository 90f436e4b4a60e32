package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"quill/internal/config"
	"quill/internal/services"
	"quill/internal/textutil"
)

// Object describes a stored blob.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Store is the blob storage contract used by the pipeline and reaper.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the configured backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobBackendS3:
		return NewS3FromConfig(ctx, cfg)
	case config.BlobBackendFS, "":
		return NewFS(cfg.Blob.Dir, cfg.Blob.PublicBaseURL)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", fmt.Sprintf("unknown backend %q", cfg.Blob.Backend), nil)
	}
}

// CleanKey normalizes key and rejects keys escaping the store root.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.Contains(trimmed, "..") {
		return "", services.Wrap(services.ErrValidation, "blob", "key", fmt.Sprintf("invalid key %q", key), nil)
	}
	return cleaned, nil
}

// DerivedKey returns the key for a derived asset produced in cycle.
func DerivedKey(artifactID string, cycle int, kind, ext string) string {
	return fmt.Sprintf("derived/%s/c%d/%s%s", artifactID, cycle, kind, ext)
}

// UploadKey returns the key for a provisional upload.
func UploadKey(resourceID, filename string) string {
	return "uploads/" + resourceID + "/" + textutil.SanitizeFileName(filename)
}

// Download copies key into a local file at dst.
func Download(ctx context.Context, store Store, key, dst string) error {
	src, err := store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return out.Close()
}

// PutFile uploads a local file.
func PutFile(ctx context.Context, store Store, key, src, contentType string) (Object, error) {
	f, err := os.Open(src)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return store.Put(ctx, key, f, contentType)
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/" + key
}
