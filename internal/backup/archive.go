package backup

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/backup/stream"
	domainerrors "github.com/promptshelf/promptshelf-server/internal/errors"
)

// Archive layout.
const (
	ManifestPath = "manifest.json"
	ImagesPath   = "images.jsonl"
)

// ErrCorruptedArchive indicates the images stream does not match the manifest checksum.
var ErrCorruptedArchive = errors.New("archive integrity check failed")

// Manifest describes an archive. Checksum is the SHA-256 of images.jsonl.
type Manifest struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Metadata   Metadata  `json:"metadata"`
	Checksum   string    `json:"checksum"`
}

// WriteArchive writes b as a zip archive: one JSON line per image plus a manifest.
func WriteArchive(w io.Writer, b *Bundle) error {
	zw := zip.NewWriter(w)

	f, err := zw.Create(ImagesPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", ImagesPath, err)
	}
	hash := sha256.New()
	enc := json.NewEncoder(io.MultiWriter(f, hash))
	enc.SetEscapeHTML(false)
	for _, img := range b.Images {
		if err := enc.Encode(img); err != nil {
			return fmt.Errorf("write image %s: %w", img.ID, err)
		}
	}

	manifest := Manifest{
		Version:    b.Version,
		ExportedAt: b.ExportedAt,
		Metadata:   b.Metadata,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
	}
	if err := stream.WriteJSON(zw, ManifestPath, manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return zw.Close()
}

// ReadManifest opens an archive and returns its validated manifest.
func ReadManifest(r io.ReaderAt, size int64) (*zip.Reader, *Manifest, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "not a zip archive")
	}

	var m Manifest
	if err := stream.ReadJSON(zr, ManifestPath, &m); err != nil {
		return nil, nil, domainerrors.Wrap(fmt.Errorf("%w: %w", ErrInvalidManifest, err), domainerrors.CodeValidation, "read manifest")
	}
	if err := checkVersion(&m.Version); err != nil {
		return nil, nil, err
	}
	return zr, &m, nil
}

// ImportArchive verifies an archive written by WriteArchive and imports its
// images through the same per-record path as Import.
func (i *Importer) ImportArchive(ctx context.Context, r io.ReaderAt, size int64, at time.Time) (*ImportReport, error) {
	zr, manifest, err := ReadManifest(r, size)
	if err != nil {
		return nil, err
	}

	if manifest.Checksum != "" {
		if err := verifyChecksum(zr, manifest.Checksum); err != nil {
			return nil, err
		}
	}

	rc, err := stream.OpenFile(zr, ImagesPath)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "read images")
	}
	return i.ImportRecords(ctx, stream.NewReader[json.RawMessage](rc).All(), at)
}

func verifyChecksum(zr *zip.Reader, want string) error {
	rc, err := stream.OpenFile(zr, ImagesPath)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "read images")
	}
	defer rc.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, rc); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "read images")
	}
	if got := hex.EncodeToString(hash.Sum(nil)); got != want {
		return domainerrors.Wrap(ErrCorruptedArchive, domainerrors.CodeValidation, "checksum mismatch")
	}
	return nil
}
