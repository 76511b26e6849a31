// Package audio provides metadata probing and in-process editing of audio segments.
package audio

import (
	"context"
	"errors"
)

// Static errors for audio operations.
var (
	// ErrInvalidWAV is returned when a file is not a readable RIFF/WAVE container.
	ErrInvalidWAV = errors.New("not a valid WAV file")
	// ErrUnsupportedFormat is returned for WAV encodings the editor cannot modify.
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
	// ErrNoSampleRate is returned when a prober finds no usable sample rate.
	ErrNoSampleRate = errors.New("sample rate could not be determined")
)

// Prober defines the interface for reading audio stream metadata.
type Prober interface {
	// SampleRate returns the sample rate in Hz of the first audio stream in path.
	SampleRate(ctx context.Context, path string) (int, error)
}

// Editor defines the interface for the in-process editing capability used
// for gain, trimming and padding.
type Editor interface {
	// Load decodes the audio file at path into an editable Segment.
	Load(ctx context.Context, path string) (*Segment, error)
}
