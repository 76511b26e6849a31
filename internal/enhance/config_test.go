package enhance

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.ApplyFilterStage)
	assert.True(t, cfg.ApplyDeesser)
	assert.Equal(t, 3000.0, cfg.DeesserFreqHz)
	assert.Zero(t, cfg.NoiseReductionLevel)
	assert.Equal(t, 1.0, cfg.CompressorThreshold)
	assert.Equal(t, 1.0, cfg.CompressorRatio)
	assert.Equal(t, 10, cfg.NormalizationFrameLen)
	assert.Equal(t, 3, cfg.NormalizationSmoothingWindow)
	assert.Equal(t, 1.0, cfg.GainFactor)
	assert.Zero(t, cfg.TrimEndMs)
	assert.Zero(t, cfg.PadEndMs)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_EffectiveSmoothingWindow(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{3, 3},
		{5, 5},
		{31, 31},
		{4, 3},
		{6, 5},
		{32, 31},
	}
	for _, tt := range tests {
		cfg := Config{NormalizationSmoothingWindow: tt.in}
		assert.Equal(t, tt.want, cfg.EffectiveSmoothingWindow(), "window %d", tt.in)
	}
}

func TestConfig_PartialJSONKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(`{"pad_end_ms":500,"apply_filter_stage":false}`), &cfg))

	assert.False(t, cfg.ApplyFilterStage)
	assert.Equal(t, 500, cfg.PadEndMs)
	assert.True(t, cfg.ApplyDeesser)
	assert.Equal(t, 3000.0, cfg.DeesserFreqHz)
	assert.Equal(t, 1.0, cfg.GainFactor)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"even window", func(c *Config) { c.NormalizationSmoothingWindow = 8 }, false},
		{"gain zero is a no-op, not an error", func(c *Config) { c.GainFactor = 0 }, false},
		{"negative trim", func(c *Config) { c.TrimEndMs = -1 }, true},
		{"negative pad", func(c *Config) { c.PadEndMs = -10 }, true},
		{"negative noise reduction", func(c *Config) { c.NoiseReductionLevel = -3 }, true},
		{"threshold above one", func(c *Config) { c.CompressorThreshold = 2 }, true},
		{"ratio below one", func(c *Config) { c.CompressorRatio = 0.5 }, true},
		{"window too small", func(c *Config) { c.NormalizationSmoothingWindow = 1 }, true},
		{"frame too short", func(c *Config) { c.NormalizationFrameLen = 5 }, true},
		{"zero deesser frequency", func(c *Config) { c.DeesserFreqHz = 0 }, true},
		{"infinite deesser frequency", func(c *Config) { c.DeesserFreqHz = math.Inf(1) }, true},
		{"infinite noise reduction", func(c *Config) { c.NoiseReductionLevel = math.Inf(1) }, true},
		{"negative gain", func(c *Config) { c.GainFactor = -1 }, true},
		{"infinite gain", func(c *Config) { c.GainFactor = math.Inf(1) }, true},
		{"NaN gain", func(c *Config) { c.GainFactor = math.NaN() }, true},
		{"large finite gain", func(c *Config) { c.GainFactor = 8 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
