package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"quill/internal/services"
)

// FS stores blobs under a local directory.
type FS struct {
	root    string
	baseURL string
}

// NewFS creates root if needed.
func NewFS(root, baseURL string) (*FS, error) {
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", "blob dir is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: root, baseURL: baseURL}, nil
}

// Path returns the local path for key.
func (f *FS) Path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

func (f *FS) Put(ctx context.Context, key string, body io.Reader, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target, err := f.Path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create blob parent: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp blob: %w", err)
	}
	size, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("write blob %s: %w", key, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("commit blob %s: %w", key, err)
	}
	cleaned, _ := CleanKey(key)
	return Object{Key: cleaned, URL: f.URL(cleaned), ContentType: contentType, Size: size}, nil
}

func (f *FS) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := f.Path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "blob", "open", fmt.Sprintf("blob %s not found", key), err)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return file, nil
}

func (f *FS) Exists(_ context.Context, key string) (bool, error) {
	target, err := f.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return true, nil
}

func (f *FS) Delete(_ context.Context, key string) error {
	target, err := f.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	f.pruneEmptyParents(filepath.Dir(target))
	return nil
}

func (f *FS) URL(key string) string {
	if url := joinURL(f.baseURL, key); url != "" {
		return url
	}
	target, err := f.Path(key)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(target)
}

func (f *FS) pruneEmptyParents(dir string) {
	root := filepath.Clean(f.root)
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
