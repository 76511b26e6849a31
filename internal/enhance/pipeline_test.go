package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-enhancer/internal/audio"
	"github.com/maauso/segment-enhancer/internal/media"
	"github.com/maauso/segment-enhancer/internal/storage"
)

// Fake ffmpeg bodies. Arguments are: -hide_banner -i <src> -af <expr> -y <dst>.
const (
	scriptCopy      = `cp "$3" "$7"`
	scriptFail      = "echo 'Error initializing filter' >&2\nexit 1"
	scriptTruncated = `printf 'RIFF' > "$7"`
)

type recordingFilter struct {
	calls []string
}

func (f *recordingFilter) Apply(_ context.Context, src, dst, expression string) error {
	f.calls = append(f.calls, expression)
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

type failingEditor struct{ err error }

func (e failingEditor) Load(context.Context, string) (*audio.Segment, error) {
	return nil, e.err
}

type panickingEditor struct{}

func (panickingEditor) Load(context.Context, string) (*audio.Segment, error) {
	panic("decoder exploded")
}

// copyFailStore fails every verbatim copy.
type copyFailStore struct {
	storage.Storage
}

func (copyFailStore) CopyTemp(context.Context, string, string, string) (string, error) {
	return "", errors.New("disk full")
}

// allocFailStore cannot allocate new files.
type allocFailStore struct {
	storage.Storage
}

func (allocFailStore) CreateTemp(context.Context, string, string) (string, error) {
	return "", errors.New("no space left on device")
}

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []State
	fallbacks []string
}

func (r *fakeRecorder) ObserveRun(outcome State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, outcome)
}

func (r *fakeRecorder) IncFallback(stage Stage, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, fmt.Sprintf("%s/%s", stage, event))
}

type harness struct {
	t       *testing.T
	workDir string
	tempDir string
	logs    *bytes.Buffer

	filter media.Filter
	editor audio.Editor
	store  storage.Storage
	caps   Capabilities
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "store"))
	require.NoError(t, err)

	h := &harness{
		t:       t,
		workDir: filepath.Join(root, "work"),
		tempDir: filepath.Join(root, "tmp"),
		logs:    &bytes.Buffer{},
		filter:  &recordingFilter{},
		editor:  audio.NewWAVEditor(),
		store:   store,
		caps:    Capabilities{Editing: true, FilterTool: true},
	}
	require.NoError(t, os.MkdirAll(h.workDir, 0o750))
	require.NoError(t, os.MkdirAll(h.tempDir, 0o750))
	return h
}

func (h *harness) pipeline() *Pipeline {
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewPipeline(audio.WAVProber{}, h.filter, h.editor, h.store, h.caps, logger)
}

// useScript swaps the filter for a real FFmpegFilter running a fake ffmpeg script.
func (h *harness) useScript(body string) {
	path := filepath.Join(h.workDir, "ffmpeg")
	require.NoError(h.t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)) // #nosec G306 - test script must be executable
	h.filter = media.NewFFmpegFilter(path)
}

// writeInput writes a mono tone to the work directory.
func (h *harness) writeInput(sampleRate int, d time.Duration) string {
	path := filepath.Join(h.workDir, "input.wav")
	require.NoError(h.t, audio.NewToneSegment(sampleRate, 440, 0.25, d).Export(path))
	return path
}

func (h *harness) run(cfg Config, input string) (*Result, error) {
	return h.pipeline().Enhance(context.Background(), Input{Path: input, Config: cfg, TempDir: h.tempDir})
}

// tempFiles lists the file names left in the run's temp directory.
func (h *harness) tempFiles() []string {
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(h.t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (h *harness) load(path string) *audio.Segment {
	seg, err := audio.NewWAVEditor().Load(context.Background(), path)
	require.NoError(h.t, err)
	return seg
}

func filterOff() Config {
	cfg := DefaultConfig()
	cfg.ApplyFilterStage = false
	return cfg
}

func assertSameBytes(t *testing.T, want, got string) {
	t.Helper()
	a, err := os.ReadFile(want)
	require.NoError(t, err)
	b, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "%s and %s differ", want, got)
}

func TestEnhance_FilterStageOff_NeverInvokesFilter(t *testing.T) {
	h := newHarness(t)
	rec := &recordingFilter{}
	h.filter = rec
	input := h.writeInput(22050, time.Second)

	res, err := h.run(filterOff(), input)
	require.NoError(t, err)

	assert.Empty(t, rec.calls)
	assert.Equal(t, []State{StateValidated, StateAdjusted}, res.Trace)
	assert.Equal(t, 22050, res.SampleRate)
	assert.NotEqual(t, input, res.Path)
	assert.Equal(t, h.tempDir, filepath.Dir(res.Path))
	assertSameBytes(t, input, res.Path)
}

func TestEnhance_FilterSucceeds(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptCopy)
	input := h.writeInput(16000, time.Second)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFiltered, StateAdjusted}, res.Trace)
	assert.Equal(t, 16000, res.SampleRate)
	assert.True(t, strings.HasSuffix(res.Path, "_adjusted.wav"))
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles(), "filtered intermediate must be removed")

	_, err = os.Stat(input)
	assert.NoError(t, err, "input must never be deleted")
}

func TestEnhance_FilterReceivesCompositeExpression(t *testing.T) {
	h := newHarness(t)
	rec := &recordingFilter{}
	h.filter = rec
	input := h.writeInput(16000, 200*time.Millisecond)

	cfg := DefaultConfig()
	cfg.NoiseReductionLevel = 20
	cfg.NormalizationSmoothingWindow = 10
	_, err := h.run(cfg, input)
	require.NoError(t, err)

	require.Len(t, rec.calls, 1)
	assert.Equal(t,
		"firequalizer=gain='if(gte(f,3000),-5,0)',afftdn=nr=20,"+
			"acompressor=threshold=1.000:ratio=1:attack=10:release=100,dynaudnorm=f=10:g=9",
		rec.calls[0])
}

func TestEnhance_FilterNonZeroExit_FallsBackToInput(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptFail)
	h.caps.Editing = false
	input := h.writeInput(16000, time.Second)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFilterFallback, StateAdjustFallback}, res.Trace)
	assertSameBytes(t, input, res.Path)
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles())
	assert.Contains(t, h.logs.String(), `"event":"filter_tool_failed"`)
	assert.Contains(t, h.logs.String(), "Error initializing filter")
}

func TestEnhance_FilterNonZeroExit_EditedFromInput(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptFail)
	input := h.writeInput(16000, time.Second)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFilterFallback, StateAdjusted}, res.Trace)
	assertSameBytes(t, input, res.Path)
}

func TestEnhance_FilterOutputTruncated(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptTruncated)
	h.caps.Editing = false
	input := h.writeInput(16000, 500*time.Millisecond)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFilterFallback, StateAdjustFallback}, res.Trace)
	assertSameBytes(t, input, res.Path)
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles(), "undersized output must be discarded")
	assert.Contains(t, h.logs.String(), `"event":"filter_output_invalid"`)
}

func TestEnhance_FilterToolNotInstalled(t *testing.T) {
	h := newHarness(t)
	h.filter = media.NewFFmpegFilter(filepath.Join(h.workDir, "not-installed", "ffmpeg"))
	h.caps = Capabilities{Editing: false, FilterTool: false}
	input := h.writeInput(24000, time.Second)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)
	require.NotNil(t, res)

	assertSameBytes(t, input, res.Path)
	assert.Equal(t, 24000, res.SampleRate)
	assert.True(t, strings.HasSuffix(res.Path, "_final_noedit.wav"))
	assert.Contains(t, h.logs.String(), `"event":"filter_tool_unavailable"`)
	assert.Contains(t, h.logs.String(), `"event":"editing_unavailable"`)
}

func TestEnhance_FilterAllocationFails(t *testing.T) {
	h := newHarness(t)
	h.store = allocFailStore{Storage: h.store}
	h.caps.Editing = false
	rec := &recordingFilter{}
	h.filter = rec
	input := h.writeInput(16000, 200*time.Millisecond)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Empty(t, rec.calls)
	assert.Equal(t, []State{StateValidated, StateFilterFallback, StateAdjustFallback}, res.Trace)
}

func TestEnhance_CancelledContextOnlyAffectsFilter(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptCopy)
	input := h.writeInput(16000, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.pipeline().Enhance(ctx, Input{Path: input, Config: DefaultConfig(), TempDir: h.tempDir})
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFilterFallback, StateAdjusted}, res.Trace)
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles())
}

func TestEnhance_Gain(t *testing.T) {
	h := newHarness(t)
	input := h.writeInput(16000, time.Second)

	cfg := filterOff()
	cfg.GainFactor = 2.0
	res, err := h.run(cfg, input)
	require.NoError(t, err)

	before := h.load(input).LevelDBFS()
	after := h.load(res.Path).LevelDBFS()
	assert.InDelta(t, 20*math.Log10(2), after-before, 0.01)
}

func TestEnhance_GainIgnoredWhenNotUsable(t *testing.T) {
	for _, g := range []float64{0, -1, 1.0, math.Inf(1), math.NaN()} {
		h := newHarness(t)
		input := h.writeInput(16000, 200*time.Millisecond)

		cfg := filterOff()
		cfg.GainFactor = g
		res, err := h.run(cfg, input)
		require.NoError(t, err)
		assertSameBytes(t, input, res.Path)
	}
}

func TestEnhance_Trim(t *testing.T) {
	t.Run("removes exact tail", func(t *testing.T) {
		h := newHarness(t)
		input := h.writeInput(16000, 2*time.Second)

		cfg := filterOff()
		cfg.TrimEndMs = 120
		res, err := h.run(cfg, input)
		require.NoError(t, err)
		assert.Equal(t, 1880, h.load(res.Path).LengthMs())
	})

	t.Run("longer than segment is skipped", func(t *testing.T) {
		h := newHarness(t)
		input := h.writeInput(16000, 100*time.Millisecond)

		cfg := filterOff()
		cfg.TrimEndMs = 500
		res, err := h.run(cfg, input)
		require.NoError(t, err)

		assert.Equal(t, []State{StateValidated, StateAdjusted}, res.Trace)
		assert.Equal(t, 100, h.load(res.Path).LengthMs())
		assert.Equal(t, 1, strings.Count(h.logs.String(), "segment too short to trim"))
		assert.Contains(t, h.logs.String(), `"length_ms":100`)
		assert.Contains(t, h.logs.String(), `"trim_end_ms":500`)
	})

	t.Run("equal to segment is skipped", func(t *testing.T) {
		h := newHarness(t)
		input := h.writeInput(16000, 100*time.Millisecond)

		cfg := filterOff()
		cfg.TrimEndMs = 100
		res, err := h.run(cfg, input)
		require.NoError(t, err)
		assert.Equal(t, 100, h.load(res.Path).LengthMs())
		assert.Equal(t, 1, strings.Count(h.logs.String(), "segment too short to trim"))
	})
}

func TestEnhance_OrderGainTrimPad(t *testing.T) {
	h := newHarness(t)
	input := h.writeInput(8000, time.Second)

	cfg := filterOff()
	cfg.GainFactor = 0.5
	cfg.TrimEndMs = 250
	cfg.PadEndMs = 250
	res, err := h.run(cfg, input)
	require.NoError(t, err)

	seg := h.load(res.Path)
	assert.Equal(t, 1000, seg.LengthMs())
	// The padded tail is silence, so the level drops by more than the gain alone.
	assert.Less(t, seg.LevelDBFS()-h.load(input).LevelDBFS(), 20*math.Log10(0.5))
}

// Scenario A: 2000 ms input padded by 500 ms.
func TestEnhance_ScenarioPad(t *testing.T) {
	h := newHarness(t)
	input := h.writeInput(16000, 2*time.Second)

	cfg := filterOff()
	cfg.GainFactor = 1.0
	cfg.TrimEndMs = 0
	cfg.PadEndMs = 500
	res, err := h.run(cfg, input)
	require.NoError(t, err)

	seg := h.load(res.Path)
	assert.Equal(t, 2500, seg.LengthMs())
	assert.Equal(t, 16000, seg.SampleRate())
	assert.Equal(t, 16000, res.SampleRate)
}

// Scenario B: missing input.
func TestEnhance_InputMissing(t *testing.T) {
	h := newHarness(t)
	rec := &recordingFilter{}
	h.filter = rec

	res, err := h.run(DefaultConfig(), filepath.Join(h.workDir, "missing.wav"))

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrInputMissing)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageValidate, se.Stage)
	assert.Empty(t, rec.calls)
	assert.Empty(t, h.tempFiles(), "no temporary files may be created")
	assert.Contains(t, h.logs.String(), `"event":"input_missing"`)
}

func TestEnhance_InputIsDirectory(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(DefaultConfig(), h.workDir)
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestEnhance_MetadataUnreadable(t *testing.T) {
	h := newHarness(t)
	input := filepath.Join(h.workDir, "notes.wav")
	require.NoError(t, os.WriteFile(input, []byte("plain text, not audio"), 0o600))

	res, err := h.run(DefaultConfig(), input)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrMetadataUnreadable)
	assert.ErrorIs(t, err, audio.ErrInvalidWAV)
	assert.Empty(t, h.tempFiles())
}

func TestEnhance_EditingUnavailable(t *testing.T) {
	h := newHarness(t)
	h.caps.Editing = false
	h.editor = failingEditor{err: errors.New("must not be called")}
	input := h.writeInput(16000, time.Second)

	cfg := filterOff()
	cfg.PadEndMs = 500
	res, err := h.run(cfg, input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateAdjustFallback}, res.Trace)
	assertSameBytes(t, input, res.Path)
	assert.Equal(t, 16000, res.SampleRate)
}

func TestEnhance_EditingFails(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptCopy)
	h.editor = failingEditor{err: audio.ErrUnsupportedFormat}
	input := h.writeInput(16000, time.Second)

	res, err := h.run(DefaultConfig(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateFiltered, StateAdjustFallback}, res.Trace)
	assert.True(t, strings.HasSuffix(res.Path, "_final_fallback.wav"))
	// The fake filter copies its input, so the pre-adjustment artifact matches the input.
	assertSameBytes(t, input, res.Path)
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles(), "adjusted and filtered files must be removed")
	assert.Contains(t, h.logs.String(), `"event":"editing_failed"`)
}

func TestEnhance_EditorPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.editor = panickingEditor{}
	input := h.writeInput(16000, 200*time.Millisecond)

	res, err := h.run(filterOff(), input)
	require.NoError(t, err)

	assert.Equal(t, []State{StateValidated, StateAdjustFallback}, res.Trace)
	assert.Contains(t, h.logs.String(), "decoder exploded")
	assert.Equal(t, []string{filepath.Base(res.Path)}, h.tempFiles())
}

func TestEnhance_FinalCopyFails(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptCopy)
	h.store = copyFailStore{Storage: h.store}
	h.caps.Editing = false
	input := h.writeInput(16000, time.Second)

	res, err := h.run(DefaultConfig(), input)

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrFinalCopyFailed)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageAdjust, se.Stage)
	assert.Empty(t, h.tempFiles(), "filtered intermediate must be removed on failure")
	assert.Contains(t, h.logs.String(), `"event":"final_copy_failed"`)
}

func TestEnhance_LogsCarryRunID(t *testing.T) {
	h := newHarness(t)
	input := h.writeInput(16000, 200*time.Millisecond)

	_, err := h.run(filterOff(), input)
	require.NoError(t, err)

	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		assert.Contains(t, line, `"run_id":"run-`)
	}
}

func TestEnhance_Metrics(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptFail)
	input := h.writeInput(16000, 200*time.Millisecond)

	rec := &fakeRecorder{}
	p := h.pipeline()
	p.SetMetrics(rec)

	_, err := p.Enhance(context.Background(), Input{Path: input, Config: DefaultConfig(), TempDir: h.tempDir})
	require.NoError(t, err)
	_, err = p.Enhance(context.Background(), Input{Path: filepath.Join(h.workDir, "nope.wav"), Config: DefaultConfig(), TempDir: h.tempDir})
	require.Error(t, err)

	assert.Equal(t, []State{StateAdjusted, StateFailed}, rec.runs)
	assert.Equal(t, []string{"filter/filter_tool_failed"}, rec.fallbacks)
}

func TestEnhance_ConcurrentRunsShareTempDir(t *testing.T) {
	h := newHarness(t)
	h.useScript(scriptCopy)
	input := h.writeInput(16000, 300*time.Millisecond)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(audio.WAVProber{}, h.filter, h.editor, h.store, h.caps, logger)

	const n = 6
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := DefaultConfig()
			cfg.PadEndMs = 100 * (i + 1)
			results[i], errs[i] = p.Enhance(context.Background(), Input{Path: input, Config: cfg, TempDir: h.tempDir})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i].Path], "duplicate output path")
		seen[results[i].Path] = true
		assert.Equal(t, 300+100*(i+1), h.load(results[i].Path).LengthMs())
	}
	assert.Len(t, h.tempFiles(), n)
}

func TestPipeline_Capabilities(t *testing.T) {
	caps := Capabilities{Editing: true}
	p := NewPipeline(audio.WAVProber{}, &recordingFilter{}, audio.NewWAVEditor(), nil, caps, nil)
	assert.Equal(t, caps, p.Capabilities())
}
