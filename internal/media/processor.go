// Package media runs external audio filtering tools.
package media

import "context"

// Filter defines the interface for applying an audio filter expression to a file.
// Implementations should use ffmpeg or a compatible tool.
type Filter interface {
	// Apply reads src, runs it through the composite filter expression and
	// writes the result to dst, overwriting dst if it already exists.
	// A missing filter tool is reported by wrapping ErrFFmpegNotFound.
	Apply(ctx context.Context, src, dst, expression string) error
}
