// Package images parses, measures, and transcodes inline image payloads.
package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/promptshelf/promptshelf-server/internal/domain"
)

// ErrNotDataURI is returned when a payload is not an inline data-URI.
var ErrNotDataURI = errors.New("payload is not a data URI")

// DataURI is a decoded "data:" payload.
type DataURI struct {
	MediaType string
	Base64    bool
	raw       string // everything after the comma
}

// ParseDataURI splits a data-URI into its media type and encoded body without decoding it.
func ParseDataURI(s string) (DataURI, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return DataURI{}, ErrNotDataURI
	}
	header, body, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURI{}, fmt.Errorf("data URI has no payload separator")
	}

	d := DataURI{raw: body}
	params := strings.Split(header, ";")
	d.MediaType = strings.ToLower(strings.TrimSpace(params[0]))
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			d.Base64 = true
		}
	}
	if d.MediaType == "" {
		d.MediaType = "text/plain"
	}
	return d, nil
}

// Codec maps the declared media type to a payload codec.
func (d DataURI) Codec() domain.Codec {
	switch d.MediaType {
	case "image/png":
		return domain.CodecPNG
	case "image/jpeg", "image/jpg":
		return domain.CodecJPEG
	case "image/webp":
		return domain.CodecWebP
	case "image/gif":
		return domain.CodecGIF
	default:
		return domain.CodecUnknown
	}
}

// Size estimates the decoded byte length without decoding the payload.
func (d DataURI) Size() int64 {
	if !d.Base64 {
		if unescaped, err := url.PathUnescape(d.raw); err == nil {
			return int64(len(unescaped))
		}
		return int64(len(d.raw))
	}
	body := strings.TrimSpace(d.raw)
	padding := len(body) - len(strings.TrimRight(body, "="))
	size := int64(len(body))*3/4 - int64(padding)
	return max(size, 0)
}

// Bytes decodes the payload.
func (d DataURI) Bytes() ([]byte, error) {
	if !d.Base64 {
		s, err := url.PathUnescape(d.raw)
		if err != nil {
			return nil, fmt.Errorf("unescape data URI: %w", err)
		}
		return []byte(s), nil
	}
	body := strings.TrimSpace(d.raw)
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		// Some clients drop the padding.
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(body, "=")); err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
	}
	return data, nil
}

// EncodeDataURI builds a base64 data-URI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// MediaType returns the MIME type written for a codec.
func MediaType(c domain.Codec) string {
	switch c {
	case domain.CodecPNG:
		return "image/png"
	case domain.CodecJPEG:
		return "image/jpeg"
	case domain.CodecWebP:
		return "image/webp"
	case domain.CodecGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// Inspect classifies a stored payload URL. External URLs report ErrNotDataURI.
func Inspect(payload string) (domain.Codec, int64, error) {
	d, err := ParseDataURI(payload)
	if err != nil {
		return domain.CodecUnknown, 0, err
	}
	return d.Codec(), d.Size(), nil
}
