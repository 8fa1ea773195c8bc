package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/promptshelf/promptshelf-server/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// Transcoded is the result of re-encoding a payload to the canonical codec.
type Transcoded struct {
	DataURI  string
	Codec    domain.Codec
	Size     int64
	Width    int
	Height   int
	BlurHash string
}

// Transcoder re-encodes inline payloads to the canonical codec.
type Transcoder struct {
	quality int
}

// NewTranscoder creates a Transcoder with the given JPEG quality (1-100).
func NewTranscoder(quality int) *Transcoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Transcoder{quality: quality}
}

// Quality returns the configured quality factor.
func (t *Transcoder) Quality() int { return t.quality }

// Transcode decodes a data-URI payload and re-encodes it as JPEG.
// Transparent regions are flattened onto white.
func (t *Transcoder) Transcode(payload string) (*Transcoded, error) {
	d, err := ParseDataURI(payload)
	if err != nil {
		return nil, err
	}
	raw, err := d.Bytes()
	if err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", d.MediaType, err)
	}

	bounds := src.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg from %s: %w", format, err)
	}

	hash, err := ComputeBlurHash(flat)
	if err != nil {
		// A missing placeholder must not fail the migration.
		hash = ""
	}

	return &Transcoded{
		DataURI:  EncodeDataURI(MediaType(domain.CanonicalCodec), buf.Bytes()),
		Codec:    domain.CanonicalCodec,
		Size:     int64(buf.Len()),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		BlurHash: hash,
	}, nil
}
