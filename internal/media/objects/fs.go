package objects

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FS stores objects on the local filesystem and serves them under baseURL.
type FS struct {
	root    string
	baseURL string
	mu      sync.RWMutex
}

// NewFS creates the root directory if needed.
func NewFS(root, baseURL string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	return &FS{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data and returns its URL.
func (f *FS) Put(ctx context.Context, objectPath string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("object data cannot be empty")
	}
	key, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	full := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return f.baseURL + "/" + key, nil
}

// Delete removes the object behind url. Missing objects are not an error.
func (f *FS) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := keyFromURL(url, f.baseURL)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(filepath.Join(f.root, filepath.FromSlash(key))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Handler serves stored objects. Mount it at the base URL path.
func (f *FS) Handler() http.Handler {
	return http.StripPrefix(f.baseURL, http.FileServer(http.Dir(f.root)))
}
