package domain

// Tag is a label applied to images. UsageCount is derived from the image
// collection and may drift between edits until reconciled.
type Tag struct {
	Record
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	Order      *int   `json:"order,omitempty"`
	CategoryID string `json:"categoryId,omitempty"` // empty means orphan
	UsageCount int    `json:"usageCount"`
}

// IsOrphan reports whether the tag has no category reference.
func (t *Tag) IsOrphan() bool {
	return t.CategoryID == ""
}
