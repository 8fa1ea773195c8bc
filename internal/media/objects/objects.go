// Package objects is the object storage collaborator: it stores binary payloads
// under a path, hands back a retrievable URL, and deletes by that URL.
package objects

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrForeignURL is returned when asked to delete a URL this store did not issue.
var ErrForeignURL = errors.New("url does not belong to this object store")

// Store puts and deletes payloads.
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

// cleanPath normalizes an object path and rejects escapes from the store root.
func cleanPath(p string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("object path cannot be empty")
	}
	return cleaned, nil
}

// keyFromURL strips base from url, returning the object path.
func keyFromURL(url, base string) (string, error) {
	base = strings.TrimRight(base, "/") + "/"
	key, ok := strings.CutPrefix(url, base)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return cleanPath(key)
}
