package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be started
	// because it is not installed or not on PATH.
	ErrFFmpegNotFound = errors.New("ffmpeg executable not found")
	// ErrEmptyExpression is returned when Apply is called without a filter expression.
	ErrEmptyExpression = errors.New("filter expression is empty")
)

// FFmpegFilter implements Filter using the ffmpeg CLI.
type FFmpegFilter struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegFilter creates a new FFmpegFilter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegFilter(ffmpegPath string) *FFmpegFilter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegFilter{ffmpegPath: ffmpegPath}
}

// Path returns the ffmpeg binary this filter invokes.
func (f *FFmpegFilter) Path() string {
	return f.ffmpegPath
}

// Apply runs src through the -af filter graph and writes dst.
func (f *FFmpegFilter) Apply(ctx context.Context, src, dst, expression string) error {
	if strings.TrimSpace(expression) == "" {
		return ErrEmptyExpression
	}

	args := []string{
		"-hide_banner",
		"-i", src, // Input file
		"-af", expression, // Composite audio filter
		"-y", // Overwrite the pre-allocated output without prompting
		dst,
	}

	return f.runFFmpeg(ctx, args)
}

// Check verifies that the ffmpeg binary can be executed.
func (f *FFmpegFilter) Check(ctx context.Context) error {
	return f.runFFmpeg(ctx, []string{"-hide_banner", "-version"})
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (f *FFmpegFilter) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if isNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrFFmpegNotFound, f.ffmpegPath, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &FFmpegError{
		Args:     args,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
}

// isNotFound reports whether err means the binary itself could not be started.
// Bare names fail in LookPath, absolute paths fail in fork/exec with ENOENT.
func isNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr.Err, fs.ErrNotExist)
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error (exit %d): %v\nargs: %v\nstderr: %s", e.ExitCode, e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Filter = (*FFmpegFilter)(nil)
