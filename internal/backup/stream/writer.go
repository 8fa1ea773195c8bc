// Package stream reads and writes JSON documents and JSONL record streams inside zip archives.
package stream

import (
	"archive/zip"
	"encoding/json"
	"fmt"
)

// Writer streams records as JSONL into one file of a zip archive.
type Writer struct {
	enc   *json.Encoder
	count int
}

// NewWriter creates a JSONL writer for a path within the zip.
// The previous file in zw is closed by the call.
func NewWriter(zw *zip.Writer, path string) (*Writer, error) {
	w, err := zw.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}, nil
}

// Write encodes a single record as one JSON line.
func (w *Writer) Write(record any) error {
	if err := w.enc.Encode(record); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns records written so far.
func (w *Writer) Count() int {
	return w.count
}

// WriteJSON writes v as an indented JSON document at path.
func WriteJSON(zw *zip.Writer, path string, v any) error {
	w, err := zw.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
