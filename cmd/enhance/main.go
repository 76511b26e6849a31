// Package main provides a command-line front end that enhances one audio segment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/maauso/segment-enhancer/internal/bootstrap"
	"github.com/maauso/segment-enhancer/internal/config"
	"github.com/maauso/segment-enhancer/internal/enhance"
	"github.com/maauso/segment-enhancer/internal/storage"
)

// CLI defines the command-line interface. Each parameter falls back to its
// ENHANCE_* environment variable, then to the built-in default.
type CLI struct {
	Input  string `arg:"" name:"input" help:"Source audio file. It is never modified."`
	Output string `arg:"" name:"output" help:"Where to write the enhanced segment."`

	// Stage toggles
	Filter  bool `name:"filter" negatable:"" default:"${apply_filter_stage}" env:"ENHANCE_APPLY_FILTER_STAGE" help:"Run the ffmpeg filter stage."`
	Deesser bool `name:"deesser" negatable:"" default:"${apply_deesser}" env:"ENHANCE_APPLY_DEESSER" help:"Attenuate sibilance above --deesser-freq."`

	// Filter parameters
	DeesserFreq    float64 `name:"deesser-freq" default:"${deesser_freq_hz}" env:"ENHANCE_DEESSER_FREQ_HZ" help:"De-esser corner frequency in Hz."`
	NoiseReduction float64 `name:"noise-reduction" default:"${noise_reduction_level}" env:"ENHANCE_NOISE_REDUCTION_LEVEL" help:"FFT denoise strength, 0 disables."`
	CompThreshold  float64 `name:"comp-threshold" default:"${compressor_threshold}" env:"ENHANCE_COMPRESSOR_THRESHOLD" help:"Compressor threshold, linear (0,1]."`
	CompRatio      float64 `name:"comp-ratio" default:"${compressor_ratio}" env:"ENHANCE_COMPRESSOR_RATIO" help:"Compressor ratio [1,20]."`
	NormFrame      int     `name:"norm-frame" default:"${normalization_frame_len}" env:"ENHANCE_NORMALIZATION_FRAME_LEN" help:"Normalizer frame length in ms."`
	NormWindow     int     `name:"norm-window" default:"${normalization_smoothing_window}" env:"ENHANCE_NORMALIZATION_SMOOTHING_WINDOW" help:"Normalizer smoothing window in frames."`

	// Post-filter adjustments
	Gain    float64 `name:"gain" default:"${gain_factor}" env:"ENHANCE_GAIN_FACTOR" help:"Linear gain factor, 1 leaves the level unchanged."`
	TrimEnd int     `name:"trim-end" default:"${trim_end_ms}" env:"ENHANCE_TRIM_END_MS" help:"Milliseconds to trim from the end."`
	PadEnd  int     `name:"pad-end" default:"${pad_end_ms}" env:"ENHANCE_PAD_END_MS" help:"Milliseconds of silence to append."`

	JSON bool `name:"json" help:"Print the result as JSON."`
}

// Config returns the enhancement parameters selected on the command line.
func (c *CLI) Config() enhance.Config {
	return enhance.Config{
		ApplyFilterStage:             c.Filter,
		ApplyDeesser:                 c.Deesser,
		DeesserFreqHz:                c.DeesserFreq,
		NoiseReductionLevel:          c.NoiseReduction,
		CompressorThreshold:          c.CompThreshold,
		CompressorRatio:              c.CompRatio,
		NormalizationFrameLen:        c.NormFrame,
		NormalizationSmoothingWindow: c.NormWindow,
		GainFactor:                   c.Gain,
		TrimEndMs:                    c.TrimEnd,
		PadEndMs:                     c.PadEnd,
	}
}

// defaultVars exposes enhance.DefaultConfig to the CLI's default tags.
func defaultVars() kong.Vars {
	d := enhance.DefaultConfig()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return kong.Vars{
		"apply_filter_stage":             strconv.FormatBool(d.ApplyFilterStage),
		"apply_deesser":                  strconv.FormatBool(d.ApplyDeesser),
		"deesser_freq_hz":                f(d.DeesserFreqHz),
		"noise_reduction_level":          f(d.NoiseReductionLevel),
		"compressor_threshold":           f(d.CompressorThreshold),
		"compressor_ratio":               f(d.CompressorRatio),
		"normalization_frame_len":        strconv.Itoa(d.NormalizationFrameLen),
		"normalization_smoothing_window": strconv.Itoa(d.NormalizationSmoothingWindow),
		"gain_factor":                    f(d.GainFactor),
		"trim_end_ms":                    strconv.Itoa(d.TrimEndMs),
		"pad_end_ms":                     strconv.Itoa(d.PadEndMs),
	}
}

// output is what --json prints.
type output struct {
	Path       string          `json:"path"`
	SampleRate int             `json:"sample_rate"`
	Trace      []enhance.State `json:"trace"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cliArgs := &CLI{}
	exited := false
	parser, err := kong.New(cliArgs,
		kong.Name("enhance"),
		kong.Description("Enhance one speech segment: de-essing, denoise, compression and normalization through ffmpeg, then gain, trim and pad."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) { exited = true }),
		defaultVars(),
	)
	if err != nil {
		return fmt.Errorf("build cli: %w", err)
	}

	if _, err := parser.Parse(args); err != nil {
		// --help prints usage and asks to exit before positional arguments are checked.
		if exited {
			return nil
		}
		return err
	}
	if exited {
		return nil
	}

	params := cliArgs.Config()
	if err := params.Validate(); err != nil {
		return err
	}

	// Environment supplies the tool paths and storage settings
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.LoggerTo(stderr)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	dir, err := deps.Store.MkdirTemp(ctx, "cli_*")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	var cleanup []string
	defer func() {
		_ = deps.Store.CleanupTemp(context.WithoutCancel(ctx), append(cleanup, dir))
	}()

	res, err := deps.Pipeline.Enhance(ctx, enhance.Input{Path: cliArgs.Input, Config: params, TempDir: dir})
	if err != nil {
		return err
	}
	cleanup = append(cleanup, res.Path)

	if err := export(ctx, deps.Store, res.Path, cliArgs.Output); err != nil {
		return err
	}

	if cliArgs.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output{Path: cliArgs.Output, SampleRate: res.SampleRate, Trace: res.Trace})
	}

	trace := make([]string, len(res.Trace))
	for i, s := range res.Trace {
		trace[i] = string(s)
	}
	_, err = fmt.Fprintf(stdout, "%s\t%d Hz\t%s\n", cliArgs.Output, res.SampleRate, strings.Join(trace, " -> "))
	return err
}

// export copies the finalized segment out of temp storage to dst.
func export(ctx context.Context, store storage.Storage, src, dst string) (err error) {
	in, err := store.LoadTemp(ctx, src)
	if err != nil {
		return fmt.Errorf("open result: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - dst is the operator's own argument
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
