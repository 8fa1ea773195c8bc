package domain

import "time"

// Record holds the identity and timestamps shared by every stored document.
// Timestamps are always supplied by the caller so that jobs stay deterministic.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stamp sets both timestamps. Call it when creating a new record.
func (r *Record) Stamp(at time.Time) {
	r.CreatedAt = at
	r.UpdatedAt = at
}

// Touch sets UpdatedAt.
func (r *Record) Touch(at time.Time) {
	r.UpdatedAt = at
}
