package domain

import "strings"

// Codec identifies the binary encoding of an image payload.
type Codec string

// Known payload codecs.
const (
	CodecPNG     Codec = "png"
	CodecJPEG    Codec = "jpeg"
	CodecWebP    Codec = "webp"
	CodecGIF     Codec = "gif"
	CodecUnknown Codec = "unknown"
)

// CanonicalCodec is the encoding all inline payloads are migrated toward.
const CanonicalCodec = CodecJPEG

// Image is a gallery entry. Its payload is either an external URL or an
// inline data-URI. Prompt blocks live in their own collection keyed by image.
type Image struct {
	Record
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Width    int      `json:"width,omitempty"`
	Height   int      `json:"height,omitempty"`
	Size     int64    `json:"size,omitempty"`
	Codec    Codec    `json:"encoding,omitempty"`
	BlurHash string   `json:"blurHash,omitempty"`
	Tags     []TagRef `json:"tags"`
}

// IsInline reports whether the payload is embedded as a data-URI.
func (i *Image) IsInline() bool {
	return strings.HasPrefix(i.URL, "data:")
}

// PromptBlock is one titled prompt attached to an image, ordered by Order.
type PromptBlock struct {
	Record
	ImageID string `json:"imageId"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Order   int    `json:"order"`
}
