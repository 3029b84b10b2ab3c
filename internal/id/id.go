package id

import "github.com/google/uuid"

// New returns a fresh image identifier.
func New() string {
	return uuid.NewString()
}
