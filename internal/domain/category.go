package domain

// Category groups tags. Order is unique and assigned max+1 on creation.
// TagCount is a display cache only.
type Category struct {
	Record
	Name      string `json:"name"`
	Color     string `json:"color"`
	Order     int    `json:"order"`
	TagCount  int    `json:"tagCount"`
	IsDefault bool   `json:"isDefault"`
}
