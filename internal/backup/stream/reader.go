package stream

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// MaxLineSize bounds one JSONL record. Inline image payloads make lines large.
const MaxLineSize = 64 << 20

// ErrFileNotFound indicates a file was not found in the archive.
var ErrFileNotFound = errors.New("file not found in archive")

// OpenFile finds and opens a file from a zip archive.
func OpenFile(zr *zip.Reader, path string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == path {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

// ReadJSON decodes the JSON document at path into v.
func ReadJSON(zr *zip.Reader, path string, v any) error {
	rc, err := OpenFile(zr, path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

// Reader streams records from a JSONL file.
type Reader[T any] struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

// NewReader creates a streaming reader for type T. T may be json.RawMessage
// to defer decoding to the caller.
func NewReader[T any](rc io.ReadCloser) *Reader[T] {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader[T]{rc: rc, scanner: scanner}
}

// All returns an iterator over every record. A line that fails to decode
// yields its error and iteration continues with the next line.
func (r *Reader[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer r.rc.Close()

		line := 0
		for r.scanner.Scan() {
			line++
			raw := r.scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var record T
			if err := json.Unmarshal(raw, &record); err != nil {
				var zero T
				if !yield(zero, fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
			if !yield(record, nil) {
				return
			}
		}

		if err := r.scanner.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}
