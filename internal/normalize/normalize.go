// Package normalize provides text normalization shared by tag resolution and search.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the case-folded form of s, suitable for case-insensitive comparison.
// A new Caser is created per call because cases.Caser is not safe for concurrent use.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Name trims s and collapses internal runs of whitespace to one space.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NameKey is the identity used when two tag names must be treated as the same tag.
func NameKey(s string) string {
	return Fold(Name(s))
}

// ContainsFold reports whether needle occurs in haystack, ignoring case.
// needle must already be folded.
func ContainsFold(haystack, foldedNeedle string) bool {
	if foldedNeedle == "" {
		return true
	}
	return strings.Contains(Fold(haystack), foldedNeedle)
}
