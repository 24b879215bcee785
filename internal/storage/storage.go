package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrBlobNotFound is returned by Get for a path that holds no bytes.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore defines how we store file bytes
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// Remove deletes the blob at exactly path. A missing blob is not an error.
	Remove(ctx context.Context, path string) error
	// Delete removes every blob under prefix, which must end in a slash.
	Delete(ctx context.Context, prefix string) error
}

// checkPrefix rejects prefixes that would not stop at a directory boundary.
func checkPrefix(prefix string) error {
	if strings.Trim(prefix, "/") == "" {
		return fmt.Errorf("refusing to delete the whole blob store")
	}
	if !strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("blob prefix %q must end in a slash", prefix)
	}
	return nil
}

// Signer issues time-limited access URLs for blob paths.
type Signer interface {
	Sign(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// FilesystemStorage stores files on local disk
type FilesystemStorage struct {
	basePath  string // e.g., "./data/files"
	publicURL string
}

func NewFilesystemStorage(basePath, publicURL string) (*FilesystemStorage, error) {
	if basePath == "" {
		basePath = "./data/files"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStorage{basePath: basePath, publicURL: publicURL}, nil
}

func (fs *FilesystemStorage) fullPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob path %q escapes store root", path)
	}
	return filepath.Join(fs.basePath, clean), nil
}

func (fs *FilesystemStorage) Get(_ context.Context, path string) ([]byte, error) {
	full, err := fs.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, path)
	}
	return data, err
}

func (fs *FilesystemStorage) Put(_ context.Context, path string, data []byte, _ string) error {
	full, err := fs.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("ensure blob dir: %w", err)
	}
	// write-then-rename so readers never see a torn blob
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

func (fs *FilesystemStorage) Remove(_ context.Context, path string) error {
	full, err := fs.fullPath(path)
	if err != nil {
		return err
	}
	if full == filepath.Clean(fs.basePath) {
		return fmt.Errorf("blob path %q names the store root", path)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (fs *FilesystemStorage) Delete(_ context.Context, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	full, err := fs.fullPath(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// Sign returns publicURL/path?expires=unix, or a file:// URL when no public URL is configured.
func (fs *FilesystemStorage) Sign(_ context.Context, path string, ttl time.Duration) (string, error) {
	full, err := fs.fullPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("sign %s: %w", path, err)
	}
	if fs.publicURL == "" {
		abs, err := filepath.Abs(full)
		if err != nil {
			return "", err
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	u, err := url.Parse(fs.publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	// Blob paths already carry escaped segments; those bytes are the file
	// name, so they are escaped once more on the way into the URL.
	rel := &url.URL{Path: path}
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/" + rel.EscapedPath()
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	q := u.Query()
	if ttl > 0 {
		q.Set("expires", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
