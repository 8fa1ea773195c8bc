package backup

import "errors"

var (
	// ErrInvalidManifest indicates the archive manifest is missing or malformed.
	ErrInvalidManifest = errors.New("invalid or missing manifest")

	// ErrVersionMismatch indicates the bundle major version is not supported.
	ErrVersionMismatch = errors.New("bundle version not supported")
)
