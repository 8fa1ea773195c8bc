// Package backup exports the gallery into a portable, versioned bundle and
// replays bundles into the store.
package backup

import (
	"strings"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"github.com/promptshelf/promptshelf-server/internal/snapshot"
)

// FormatVersion is the bundle format version. Increment major on breaking changes.
const FormatVersion = "2.0"

// Bundle is a self-contained export: every image with its prompts and tags inlined.
type Bundle struct {
	Version    string        `json:"version"`
	ExportedAt time.Time     `json:"exportedAt"`
	Images     []BundleImage `json:"images"`
	Metadata   Metadata      `json:"metadata"`
}

// Metadata summarizes a bundle. Tags is the catalogue derived from the
// exported images, so its counts always agree with Images.
type Metadata struct {
	TotalImages  int                     `json:"totalImages"`
	TotalPrompts int                     `json:"totalPrompts"`
	TotalTags    int                     `json:"totalTags"`
	Tags         []snapshot.CatalogEntry `json:"tags"`
}

// BundleImage is the portable form of one image.
type BundleImage struct {
	ID        string          `json:"id,omitempty"`
	Title     string          `json:"title"`
	URL       string          `json:"url" validate:"required,payload"`
	Width     int             `json:"width,omitempty" validate:"gte=0"`
	Height    int             `json:"height,omitempty" validate:"gte=0"`
	Size      int64           `json:"size,omitempty" validate:"gte=0"`
	Encoding  domain.Codec    `json:"encoding,omitempty"`
	BlurHash  string          `json:"blurHash,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Prompts   []BundlePrompt  `json:"prompts" validate:"dive"`
	Tags      []domain.TagRef `json:"tags"`
}

// BundlePrompt is one inlined prompt block.
type BundlePrompt struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// supportedVersion reports whether v shares the current major version.
func supportedVersion(v string) bool {
	major, _, _ := strings.Cut(v, ".")
	current, _, _ := strings.Cut(FormatVersion, ".")
	return major == current
}
