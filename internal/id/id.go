// Package id provides unique identifier generation for pipeline runs and uploads.
package id

import "github.com/google/uuid"

// Generate creates a new unique identifier with the given prefix.
// Format: <prefix>-<uuid v4>
// Example: run-3f0c2a9e-7d41-4b8e-9a52-0f6d1e2c7b10
// An empty prefix returns the bare UUID.
func Generate(prefix string) string {
	u := uuid.NewString()
	if prefix == "" {
		return u
	}
	return prefix + "-" + u
}
