package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TagSnapshot is a denormalized copy of a tag embedded in an image record.
type TagSnapshot struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
}

// TagRef is how an image points at a tag. Stored data carries two shapes:
// a bare identifier string, or an embedded tag snapshot object.
type TagRef struct {
	id       string
	embedded *TagSnapshot
}

// RefByID returns a reference to a tag identifier.
func RefByID(tagID string) TagRef {
	return TagRef{id: tagID}
}

// RefEmbedded returns an embedded snapshot reference.
func RefEmbedded(s TagSnapshot) TagRef {
	return TagRef{embedded: &s}
}

// IsEmbedded reports whether the reference carries a tag snapshot.
func (r TagRef) IsEmbedded() bool {
	return r.embedded != nil
}

// IsZero reports whether the reference points at nothing.
func (r TagRef) IsZero() bool {
	return r.id == "" && r.embedded == nil
}

// ID returns the referenced identifier: the bare string, or the snapshot's id.
func (r TagRef) ID() string {
	if r.embedded != nil {
		return r.embedded.ID
	}
	return r.id
}

// Snapshot returns the embedded snapshot, if any.
func (r TagRef) Snapshot() (TagSnapshot, bool) {
	if r.embedded == nil {
		return TagSnapshot{}, false
	}
	return *r.embedded, true
}

// MarshalJSON writes the reference back in the shape it was read.
func (r TagRef) MarshalJSON() ([]byte, error) {
	if r.embedded != nil {
		return json.Marshal(r.embedded)
	}
	return json.Marshal(r.id)
}

// UnmarshalJSON accepts a string, an object with name/color, or null.
func (r *TagRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = TagRef{}

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &r.id)
	case data[0] == '{':
		var s TagSnapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode embedded tag: %w", err)
		}
		if s.Name == "" && s.Color == "" {
			// Object without display fields: treat as a plain id reference.
			r.id = s.ID
			return nil
		}
		r.embedded = &s
		return nil
	default:
		return fmt.Errorf("tag reference must be a string or object, got %s", data)
	}
}
