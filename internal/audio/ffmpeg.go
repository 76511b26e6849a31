package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// FFprobeProber implements Prober using the ffprobe CLI. It covers
// containers the WAV reader cannot parse.
type FFprobeProber struct {
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found in PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// SampleRate returns the sample rate of the first audio stream.
func (p *FFprobeProber) SampleRate(ctx context.Context, path string) (int, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseSampleRate(stdout.String())
}

// parseSampleRate reads the first non-empty line of ffprobe output as Hz.
func parseSampleRate(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "N/A" {
			continue
		}
		rate, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("parse sample rate %q: %w", line, err)
		}
		if rate <= 0 {
			break
		}
		return rate, nil
	}
	return 0, ErrNoSampleRate
}

// ChainProber tries each Prober in order and returns the first sample rate found.
type ChainProber struct {
	probers []Prober
}

// NewProber returns the default metadata reader: the WAV header first,
// then ffprobe for everything else.
func NewProber(ffprobePath string) *ChainProber {
	return NewChainProber(WAVProber{}, NewFFprobeProber(ffprobePath))
}

// NewChainProber creates a ChainProber from the given probers.
func NewChainProber(probers ...Prober) *ChainProber {
	return &ChainProber{probers: probers}
}

// SampleRate implements Prober. When every prober fails the errors are joined.
func (c *ChainProber) SampleRate(ctx context.Context, path string) (int, error) {
	var errs []error
	for _, p := range c.probers {
		rate, err := p.SampleRate(ctx, path)
		if err == nil && rate > 0 {
			return rate, nil
		}
		if err == nil {
			err = ErrNoSampleRate
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, ErrNoSampleRate
	}
	return 0, errors.Join(errs...)
}

// Verify interface implementation at compile time.
var (
	_ Prober = (*FFprobeProber)(nil)
	_ Prober = (*ChainProber)(nil)
)
