// Package id generates prefixed record identifiers.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Record prefixes. The prefix makes an identifier self-describing in logs and bundles.
const (
	PrefixImage    = "img"
	PrefixPrompt   = "prm"
	PrefixTag      = "tag"
	PrefixCategory = "cat"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "img-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	nid, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + nid, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Image returns a new image identifier.
func Image() (string, error) { return Generate(PrefixImage) }

// Prompt returns a new prompt block identifier.
func Prompt() (string, error) { return Generate(PrefixPrompt) }

// Tag returns a new tag identifier.
func Tag() (string, error) { return Generate(PrefixTag) }

// Category returns a new category identifier.
func Category() (string, error) { return Generate(PrefixCategory) }
