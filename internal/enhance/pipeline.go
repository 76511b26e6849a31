// Package enhance runs a single audio segment through the enhancement pipeline:
// input validation, an optional ffmpeg filter chain, and in-process gain, trim
// and padding. Every recoverable failure degrades to the previous artifact so a
// run only fails when the input is unusable or the last fallback copy cannot be
// written.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/maauso/segment-enhancer/internal/audio"
	"github.com/maauso/segment-enhancer/internal/id"
	"github.com/maauso/segment-enhancer/internal/media"
	"github.com/maauso/segment-enhancer/internal/storage"
)

// minOutputSize is the size of a bare WAV header. A filter output that is not
// larger than this carries no audio.
const minOutputSize = 44

// Temp file patterns for the artifacts a run can produce.
const (
	patternFiltered      = "segment_*_filtered.wav"
	patternAdjusted      = "segment_*_adjusted.wav"
	patternFinalNoEdit   = "segment_*_final_noedit.wav"
	patternFinalFallback = "segment_*_final_fallback.wav"
)

// Capabilities is the result of capability detection, passed in at construction.
type Capabilities struct {
	// Editing reports whether the in-process editor passed its self-test.
	Editing bool `json:"editing"`
	// FilterTool reports whether the ffmpeg binary could be started. It is
	// informational: the filter stage still runs and falls back on its own.
	FilterTool bool `json:"filter_tool"`
}

// Recorder receives pipeline outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveRun(outcome State, d time.Duration)
	IncFallback(stage Stage, event string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveRun(State, time.Duration) {}
func (noopRecorder) IncFallback(Stage, string)       {}

// Artifact is an audio file on disk with its known sample rate.
type Artifact struct {
	Path       string
	SampleRate int
}

// Input describes one enhancement run.
type Input struct {
	// Path is the source audio file. It is never modified or deleted.
	Path string
	// Config holds the enhancement parameters.
	Config Config
	// TempDir receives every file the run creates. It must already exist.
	// Empty means the storage root.
	TempDir string
}

// Result is the finalized segment. The caller owns Path and must remove it.
type Result struct {
	Path       string
	SampleRate int
	// Trace lists the states the run passed through, ending in a terminal state.
	Trace []State
}

// Pipeline enhances audio segments. It holds no per-run state and is safe for
// concurrent use as long as concurrent runs use distinct temp directories or
// a storage implementation with collision-free names.
type Pipeline struct {
	prober  audio.Prober
	filter  media.Filter
	editor  audio.Editor
	store   storage.Storage
	caps    Capabilities
	logger  *slog.Logger
	metrics Recorder
}

// NewPipeline creates a new Pipeline.
// The editor is only used when caps.Editing is true.
func NewPipeline(
	prober audio.Prober,
	filter media.Filter,
	editor audio.Editor,
	store storage.Storage,
	caps Capabilities,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		prober:  prober,
		filter:  filter,
		editor:  editor,
		store:   store,
		caps:    caps,
		logger:  logger,
		metrics: noopRecorder{},
	}
}

// SetMetrics configures where run outcomes are recorded.
func (p *Pipeline) SetMetrics(m Recorder) {
	if m != nil {
		p.metrics = m
	}
}

// Capabilities returns the capability set the pipeline was built with.
func (p *Pipeline) Capabilities() Capabilities {
	return p.caps
}

// Enhance runs the pipeline for in. On failure it returns a *StageError
// wrapping ErrInputMissing, ErrMetadataUnreadable or ErrFinalCopyFailed and
// leaves no files behind. Only the external filter process observes ctx.
func (p *Pipeline) Enhance(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	r := &run{
		p:     p,
		in:    in,
		ctx:   ctx,
		bg:    context.WithoutCancel(ctx),
		state: statePending,
		log: p.logger.With(
			slog.String("run_id", id.Generate("run")),
			slog.String("input", in.Path),
		),
	}

	err := r.execute()
	r.cleanup()
	p.metrics.ObserveRun(r.state, time.Since(start))

	if err != nil {
		return nil, err
	}

	r.log.Info("enhancement complete",
		slog.String("state", string(r.state)),
		slog.String("output", r.result.Path),
		slog.Int("sample_rate", r.result.SampleRate),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Result{
		Path:       r.result.Path,
		SampleRate: r.result.SampleRate,
		Trace:      r.trace,
	}, nil
}

// run carries the state of a single Enhance call.
type run struct {
	p   *Pipeline
	in  Input
	log *slog.Logger

	// ctx is forwarded to the external filter; bg is used everywhere else.
	ctx context.Context
	bg  context.Context

	state State
	trace []State

	// current is the artifact the next stage consumes.
	current Artifact
	// intermediates are files the run created and must delete unless returned.
	intermediates []string
	result        Artifact
}

func (r *run) execute() error {
	steps := []func() error{r.validate, r.filter, r.adjust}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	if !r.state.Succeeded() {
		return fmt.Errorf("run ended in state %s: %w", r.state, ErrInvalidTransition)
	}
	return nil
}

func (r *run) transition(to State) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("%s -> %s: %w", r.state, to, ErrInvalidTransition)
	}
	r.state = to
	r.trace = append(r.trace, to)
	return nil
}

// fail moves the run to FAILED and returns the error the caller sees.
func (r *run) fail(stage Stage, sentinel, cause error) error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	r.log.Error("enhancement failed",
		slog.String("stage", string(stage)),
		slog.String("event", Event(sentinel)),
		slog.String("error", err.Error()),
	)
	if terr := r.transition(StateFailed); terr != nil {
		return terr
	}
	return &StageError{Stage: stage, Err: err}
}

// fallback logs a recoverable failure and records it.
func (r *run) fallback(stage Stage, sentinel, cause error) {
	attrs := []any{
		slog.String("stage", string(stage)),
		slog.String("event", Event(sentinel)),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	r.log.Warn("stage fell back", attrs...)
	r.p.metrics.IncFallback(stage, Event(sentinel))
}

// validate confirms the input exists and reads its sample rate.
func (r *run) validate() error {
	info, err := os.Stat(r.in.Path)
	if err != nil {
		return r.fail(StageValidate, ErrInputMissing, err)
	}
	if info.IsDir() {
		return r.fail(StageValidate, ErrInputMissing, fmt.Errorf("%s is a directory", r.in.Path))
	}

	rate, err := r.p.prober.SampleRate(r.bg, r.in.Path)
	if err != nil {
		return r.fail(StageValidate, ErrMetadataUnreadable, err)
	}
	if rate <= 0 {
		return r.fail(StageValidate, ErrMetadataUnreadable, audio.ErrNoSampleRate)
	}

	r.current = Artifact{Path: r.in.Path, SampleRate: rate}
	r.log.Debug("input validated", slog.Int("sample_rate", rate))
	return r.transition(StateValidated)
}

// filter runs the external filter chain. Any failure keeps the pre-filter artifact.
func (r *run) filter() error {
	chain := BuildFilterChain(r.in.Config)
	if len(chain) == 0 {
		r.log.Debug("filter stage disabled")
		return nil
	}
	expr := chain.Expression()

	dst, err := r.p.store.CreateTemp(r.bg, r.in.TempDir, patternFiltered)
	if err != nil {
		r.fallback(StageFilter, ErrFilterOutputInvalid, err)
		return r.transition(StateFilterFallback)
	}

	r.log.Debug("applying filter chain",
		slog.String("stage", string(StageFilter)),
		slog.String("expression", expr),
	)
	if err := r.p.filter.Apply(r.ctx, r.current.Path, dst, expr); err != nil {
		sentinel := ErrFilterToolFailed
		if errors.Is(err, media.ErrFFmpegNotFound) {
			sentinel = ErrFilterToolUnavailable
		}
		return r.discardFiltered(dst, sentinel, err)
	}

	if err := checkFilterOutput(dst); err != nil {
		return r.discardFiltered(dst, ErrFilterOutputInvalid, err)
	}

	r.intermediates = append(r.intermediates, dst)
	r.current = Artifact{Path: dst, SampleRate: r.current.SampleRate}
	return r.transition(StateFiltered)
}

func (r *run) discardFiltered(path string, sentinel, cause error) error {
	r.fallback(StageFilter, sentinel, cause)
	r.remove(path)
	return r.transition(StateFilterFallback)
}

// checkFilterOutput requires a file larger than a bare WAV header.
func checkFilterOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat filter output: %w", err)
	}
	if info.Size() <= minOutputSize {
		return fmt.Errorf("filter output is %d bytes", info.Size())
	}
	return nil
}

// adjust applies gain, trim and pad, or copies the current artifact verbatim.
func (r *run) adjust() error {
	src := r.current

	if !r.p.caps.Editing {
		r.fallback(StageAdjust, ErrEditingUnavailable, nil)
		return r.copyFallback(src, patternFinalNoEdit)
	}

	out, err := r.edit(src)
	if err != nil {
		r.fallback(StageAdjust, ErrEditingFailed, err)
		return r.copyFallback(src, patternFinalFallback)
	}

	r.result = out
	return r.transition(StateAdjusted)
}

// edit writes the adjusted segment to a new file. Partial output is removed on failure.
func (r *run) edit(src Artifact) (out Artifact, err error) {
	dst, err := r.p.store.CreateTemp(r.bg, r.in.TempDir, patternAdjusted)
	if err != nil {
		return Artifact{}, fmt.Errorf("allocate output: %w", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("editor panic: %v", rec)
		}
		if err != nil {
			r.remove(dst)
		}
	}()

	seg, err := r.p.editor.Load(r.bg, src.Path)
	if err != nil {
		return Artifact{}, fmt.Errorf("load segment: %w", err)
	}

	cfg := r.in.Config
	if cfg.GainFactor != 1.0 && cfg.GainFactor > 0 && !math.IsInf(cfg.GainFactor, 1) {
		db := 20 * math.Log10(cfg.GainFactor)
		seg.Gain(db)
		r.log.Debug("gain applied", slog.Float64("gain_db", db))
	}

	if cfg.TrimEndMs > 0 {
		if terr := seg.TrimEnd(cfg.TrimEndMs); terr != nil {
			if !errors.Is(terr, audio.ErrTrimTooLong) {
				return Artifact{}, fmt.Errorf("trim: %w", terr)
			}
			r.log.Warn("segment too short to trim, skipping",
				slog.String("stage", string(StageAdjust)),
				slog.Int("length_ms", seg.LengthMs()),
				slog.Int("trim_end_ms", cfg.TrimEndMs),
			)
		}
	}

	if cfg.PadEndMs > 0 {
		seg.PadEnd(cfg.PadEndMs)
	}

	if err := seg.Export(dst); err != nil {
		return Artifact{}, fmt.Errorf("export segment: %w", err)
	}

	r.log.Debug("segment adjusted",
		slog.Duration("duration", seg.Duration()),
		slog.Float64("level_dbfs", seg.LevelDBFS()),
	)
	return Artifact{Path: dst, SampleRate: seg.SampleRate()}, nil
}

// copyFallback copies src verbatim into a new file. A failing copy ends the run.
func (r *run) copyFallback(src Artifact, pattern string) error {
	path, err := r.p.store.CopyTemp(r.bg, src.Path, r.in.TempDir, pattern)
	if err != nil {
		return r.fail(StageAdjust, ErrFinalCopyFailed, err)
	}

	rate := src.SampleRate
	if rate <= 0 {
		if probed, perr := r.p.prober.SampleRate(r.bg, path); perr == nil {
			rate = probed
		}
	}

	r.result = Artifact{Path: path, SampleRate: rate}
	return r.transition(StateAdjustFallback)
}

// cleanup deletes every intermediate except the returned file.
func (r *run) cleanup() {
	var paths []string
	for _, p := range r.intermediates {
		if p != r.result.Path {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	if err := r.p.store.CleanupTemp(r.bg, paths); err != nil {
		r.log.Warn("failed to remove intermediate files", slog.String("error", err.Error()))
	}
}

func (r *run) remove(path string) {
	if err := r.p.store.CleanupTemp(r.bg, []string{path}); err != nil {
		r.log.Warn("failed to remove partial output",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
