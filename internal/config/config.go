// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/segment-enhancer/internal/enhance"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidLogFormat is returned when LOG_FORMAT is neither text nor json.
	ErrInvalidLogFormat = errors.New("config: LOG_FORMAT must be \"text\" or \"json\"")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/segment-enhancer" json:"temp_dir"`
	// InputRoot confines HTTP input_path requests. Empty disables path input.
	InputRoot string `env:"INPUT_ROOT" json:"input_root,omitempty"`

	// Tool settings
	FFmpegPath     string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath    string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	EditingEnabled bool   `env:"EDITING_ENABLED, default=true" json:"editing_enabled"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"

	// Enhance holds the defaults applied to requests that omit parameters.
	Enhance EnhanceDefaults `env:", prefix=ENHANCE_" json:"enhance"`
}

// EnhanceDefaults mirrors enhance.Config with environment overrides.
type EnhanceDefaults struct {
	ApplyFilterStage             bool    `env:"APPLY_FILTER_STAGE, default=true" json:"apply_filter_stage"`
	ApplyDeesser                 bool    `env:"APPLY_DEESSER, default=true" json:"apply_deesser"`
	DeesserFreqHz                float64 `env:"DEESSER_FREQ_HZ, default=3000" json:"deesser_freq_hz"`
	NoiseReductionLevel          float64 `env:"NOISE_REDUCTION_LEVEL, default=0" json:"noise_reduction_level"`
	CompressorThreshold          float64 `env:"COMPRESSOR_THRESHOLD, default=1.0" json:"compressor_threshold"`
	CompressorRatio              float64 `env:"COMPRESSOR_RATIO, default=1" json:"compressor_ratio"`
	NormalizationFrameLen        int     `env:"NORMALIZATION_FRAME_LEN, default=10" json:"normalization_frame_len"`
	NormalizationSmoothingWindow int     `env:"NORMALIZATION_SMOOTHING_WINDOW, default=3" json:"normalization_smoothing_window"`
	GainFactor                   float64 `env:"GAIN_FACTOR, default=1.0" json:"gain_factor"`
	TrimEndMs                    int     `env:"TRIM_END_MS, default=0" json:"trim_end_ms"`
	PadEndMs                     int     `env:"PAD_END_MS, default=0" json:"pad_end_ms"`
}

// EnhancementDefaults returns the configured defaults as an enhance.Config.
func (c *Config) EnhancementDefaults() enhance.Config {
	e := c.Enhance
	return enhance.Config{
		ApplyFilterStage:             e.ApplyFilterStage,
		ApplyDeesser:                 e.ApplyDeesser,
		DeesserFreqHz:                e.DeesserFreqHz,
		NoiseReductionLevel:          e.NoiseReductionLevel,
		CompressorThreshold:          e.CompressorThreshold,
		CompressorRatio:              e.CompressorRatio,
		NormalizationFrameLen:        e.NormalizationFrameLen,
		NormalizationSmoothingWindow: e.NormalizationSmoothingWindow,
		GainFactor:                   e.GainFactor,
		TrimEndMs:                    e.TrimEndMs,
		PadEndMs:                     e.PadEndMs,
	}
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration from the given lookuper and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	if err := c.EnhancementDefaults().Validate(); err != nil {
		return fmt.Errorf("config: ENHANCE_*: %w", err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.LoggerTo(os.Stdout)
}

// LoggerTo is NewLogger writing to w.
func (c *Config) LoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, InputRoot: %s, FFmpegPath: %s, FFprobePath: %s, EditingEnabled: %t, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.InputRoot,
		c.FFmpegPath,
		c.FFprobePath,
		c.EditingEnabled,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
