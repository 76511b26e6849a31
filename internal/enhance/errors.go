package enhance

import (
	"errors"
	"fmt"
)

// Fatal errors. Enhance returns a *StageError wrapping one of these.
var (
	// ErrInputMissing is returned when the source file does not exist.
	ErrInputMissing = errors.New("input file missing")
	// ErrMetadataUnreadable is returned when no sample rate can be read from the source.
	ErrMetadataUnreadable = errors.New("audio metadata unreadable")
	// ErrFinalCopyFailed is returned when the verbatim fallback copy cannot be written.
	ErrFinalCopyFailed = errors.New("fallback copy failed")
)

// Recoverable errors. They are logged and absorbed by the stage that detects them.
var (
	ErrFilterToolUnavailable = errors.New("filter tool unavailable")
	ErrFilterToolFailed      = errors.New("filter tool failed")
	ErrFilterOutputInvalid   = errors.New("filter output invalid")
	ErrEditingUnavailable    = errors.New("editing capability unavailable")
	ErrEditingFailed         = errors.New("editing failed")
)

// events names every classified error for logs and metrics, most specific first.
var events = []struct {
	err  error
	name string
}{
	{ErrInputMissing, "input_missing"},
	{ErrMetadataUnreadable, "metadata_unreadable"},
	{ErrFinalCopyFailed, "final_copy_failed"},
	{ErrFilterToolUnavailable, "filter_tool_unavailable"},
	{ErrFilterToolFailed, "filter_tool_failed"},
	{ErrFilterOutputInvalid, "filter_output_invalid"},
	{ErrEditingUnavailable, "editing_unavailable"},
	{ErrEditingFailed, "editing_failed"},
}

// Event returns the snake_case event name for err, or "unknown".
func Event(err error) string {
	for _, e := range events {
		if errors.Is(err, e.err) {
			return e.name
		}
	}
	return "unknown"
}

// StageError records the pipeline stage at which a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}
