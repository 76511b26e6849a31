// Package bootstrap provides dependency initialization for the segment enhancer.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/segment-enhancer/internal/audio"
	"github.com/maauso/segment-enhancer/internal/config"
	"github.com/maauso/segment-enhancer/internal/enhance"
	"github.com/maauso/segment-enhancer/internal/media"
	"github.com/maauso/segment-enhancer/internal/metrics"
	"github.com/maauso/segment-enhancer/internal/storage"
)

// Dependencies holds all initialized dependencies for the server and the CLI.
type Dependencies struct {
	Pipeline     *enhance.Pipeline
	Store        storage.Storage
	Metrics      *metrics.Metrics
	Capabilities enhance.Capabilities
	Defaults     enhance.Config
}

// NewDependencies creates and initializes all dependencies for the application.
// Capabilities are detected once here and stay fixed for the process lifetime.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize external tools and the in-process editor
	filter := media.NewFFmpegFilter(cfg.FFmpegPath)
	prober := audio.NewProber(cfg.FFprobePath)
	editor := audio.NewWAVEditor()

	caps := detectCapabilities(ctx, cfg, filter, editor, store, logger)

	m := metrics.New()
	pipeline := enhance.NewPipeline(prober, filter, editor, store, caps, logger)
	pipeline.SetMetrics(m)

	return &Dependencies{
		Pipeline:     pipeline,
		Store:        store,
		Metrics:      m,
		Capabilities: caps,
		Defaults:     cfg.EnhancementDefaults(),
	}, nil
}

// detectCapabilities probes ffmpeg and the editor. A missing tool only
// disables the matching stage; it never fails startup.
func detectCapabilities(
	ctx context.Context,
	cfg *config.Config,
	filter *media.FFmpegFilter,
	editor audio.Editor,
	store storage.Storage,
	logger *slog.Logger,
) enhance.Capabilities {
	var caps enhance.Capabilities

	if err := filter.Check(ctx); err != nil {
		logger.Warn("ffmpeg unavailable, filter stage will fall back",
			slog.String("ffmpeg_path", filter.Path()),
			slog.String("error", err.Error()),
		)
	} else {
		caps.FilterTool = true
	}

	if !cfg.EditingEnabled {
		logger.Info("audio editing disabled by configuration")
		return caps
	}

	dir, err := store.MkdirTemp(ctx, "selftest_*")
	if err != nil {
		logger.Warn("audio editing unavailable",
			slog.String("error", err.Error()),
		)
		return caps
	}
	defer func() { _ = store.CleanupTemp(context.WithoutCancel(ctx), []string{dir}) }()

	if err := audio.DetectEditor(ctx, editor, dir); err != nil {
		logger.Warn("audio editing unavailable",
			slog.String("error", err.Error()),
		)
		return caps
	}
	caps.Editing = true
	return caps
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
