package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// RecordError names the record a store operation failed on. It unwraps to
// ErrNotFound or ErrAlreadyExists.
type RecordError struct {
	Kind string
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	switch e.Err {
	case ErrNotFound:
		return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
	case ErrAlreadyExists:
		return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func notFound(kind, id string) error {
	return &RecordError{Kind: kind, ID: id, Err: ErrNotFound}
}

func alreadyExists(kind, id string) error {
	return &RecordError{Kind: kind, ID: id, Err: ErrAlreadyExists}
}
