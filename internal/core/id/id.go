// Package id provides UUIDv7 generation for ledger rows and warehouses.
// UUIDv7 is time-ordered, so ids sort roughly by creation time.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a new UUIDv7.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(strings.TrimSpace(s))
}

// TryParse returns the parsed ID and true when s is a well-formed UUID.
func TryParse(s string) (ID, bool) {
	v, err := Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return v, true
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
