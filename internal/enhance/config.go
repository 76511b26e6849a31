package enhance

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Config holds the enhancement parameters for one segment.
// Decoding partial JSON over DefaultConfig keeps the defaults of absent fields.
type Config struct {
	// ApplyFilterStage is the master switch for the external filter chain.
	ApplyFilterStage bool `json:"apply_filter_stage"`
	// ApplyDeesser enables the high-shelf cut at DeesserFreqHz.
	ApplyDeesser  bool    `json:"apply_deesser"`
	DeesserFreqHz float64 `json:"deesser_freq_hz" validate:"finite,gt=0"`
	// NoiseReductionLevel is the afftdn reduction in dB. Zero disables the stage.
	NoiseReductionLevel float64 `json:"noise_reduction_level" validate:"finite,gte=0"`
	CompressorThreshold float64 `json:"compressor_threshold" validate:"gt=0,lte=1"`
	CompressorRatio     float64 `json:"compressor_ratio" validate:"gte=1,lte=20"`
	// NormalizationFrameLen is the dynaudnorm frame length in milliseconds.
	NormalizationFrameLen int `json:"normalization_frame_len" validate:"gte=10,lte=8000"`
	// NormalizationSmoothingWindow is the dynaudnorm gaussian window. Even values are
	// decremented by one.
	NormalizationSmoothingWindow int `json:"normalization_smoothing_window" validate:"gte=3,lte=301"`
	// GainFactor is a linear amplitude multiplier. 1.0 and 0 are no-ops.
	GainFactor float64 `json:"gain_factor" validate:"finite,gte=0"`
	TrimEndMs  int     `json:"trim_end_ms" validate:"gte=0"`
	PadEndMs   int     `json:"pad_end_ms" validate:"gte=0"`
}

// DefaultConfig returns the documented enhancement defaults.
func DefaultConfig() Config {
	return Config{
		ApplyFilterStage:             true,
		ApplyDeesser:                 true,
		DeesserFreqHz:                3000,
		NoiseReductionLevel:          0,
		CompressorThreshold:          1.0,
		CompressorRatio:              1,
		NormalizationFrameLen:        10,
		NormalizationSmoothingWindow: 3,
		GainFactor:                   1.0,
		TrimEndMs:                    0,
		PadEndMs:                     0,
	}
}

// EffectiveSmoothingWindow returns the smoothing window rounded down to an odd number.
func (c Config) EffectiveSmoothingWindow() int {
	if c.NormalizationSmoothingWindow%2 == 0 {
		return c.NormalizationSmoothingWindow - 1
	}
	return c.NormalizationSmoothingWindow
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Infinity satisfies every gte bound, so floats need an explicit check.
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	})
	return v
}

// Validate reports parameters ffmpeg or the editor would reject.
// The pipeline itself does not require a valid Config: a rejected filter
// expression degrades to the unfiltered input.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid enhancement config: %w", err)
	}
	return nil
}
