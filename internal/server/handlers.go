package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/segment-enhancer/internal/enhance"
	"github.com/maauso/segment-enhancer/internal/id"
	"github.com/maauso/segment-enhancer/internal/storage"
)

// maxBodyBytes bounds request bodies, base64 audio included.
const maxBodyBytes = 64 << 20

// Static errors for input path resolution.
var (
	// ErrInputPathDisabled is returned for input_path requests when no input root is configured.
	ErrInputPathDisabled = errors.New("input_path is disabled: no input root configured")
	// ErrInputPathOutsideRoot is returned when input_path resolves outside the input root.
	ErrInputPathOutsideRoot = errors.New("input_path is outside the input root")
)

// Enhancer runs the enhancement pipeline.
type Enhancer interface {
	Enhance(ctx context.Context, in enhance.Input) (*enhance.Result, error)
	Capabilities() enhance.Capabilities
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	enhancer  Enhancer
	store     storage.Storage
	defaults  enhance.Config
	inputRoot string
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithDefaults sets the enhancement parameters used for fields a request omits.
func WithDefaults(cfg enhance.Config) HandlerOption {
	return func(h *Handlers) {
		h.defaults = cfg
	}
}

// WithInputRoot allows input_path requests for files below root.
// Without it only audio_base64 input is accepted.
func WithInputRoot(root string) HandlerOption {
	return func(h *Handlers) {
		h.inputRoot = root
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(enhancer Enhancer, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		enhancer:  enhancer,
		store:     store,
		defaults:  enhance.DefaultConfig(),
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Capabilities: h.enhancer.Capabilities(),
	})
}

// Enhance handles POST /v1/segments/enhance requests.
// The pipeline runs synchronously inside a per-request temp directory and the
// result is returned inline or uploaded to S3; nothing is left on disk.
func (h *Handlers) Enhance(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	var req EnhanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		log.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	cfg := h.defaults
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config: "+err.Error(), "INVALID_CONFIG")
			return
		}
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	inputPath := req.InputPath
	if inputPath != "" {
		resolved, err := h.resolveInput(inputPath)
		if err != nil {
			log.Warn("input path rejected",
				slog.String("input_path", inputPath),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusForbidden, err.Error(), "INPUT_PATH_FORBIDDEN")
			return
		}
		inputPath = resolved
	}

	// Everything created for this request lives in one directory that is
	// removed when the handler returns. Cleanup must outlive a cancelled request.
	ctx := r.Context()
	bg := context.WithoutCancel(ctx)
	dir, err := h.store.MkdirTemp(ctx, "req_*")
	if err != nil {
		log.Error("failed to create request directory", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to allocate workspace", "STORAGE_ERROR")
		return
	}
	var cleanup []string
	defer func() {
		if err := h.store.CleanupTemp(bg, append(cleanup, dir)); err != nil {
			log.Warn("failed to clean up request files", slog.String("error", err.Error()))
		}
	}()

	if req.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 audio", "VALIDATION_ERROR")
			return
		}
		inputPath, err = h.store.SaveTemp(ctx, "input", bytes.NewReader(data))
		if err != nil {
			log.Error("failed to store input audio", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to store input audio", "STORAGE_ERROR")
			return
		}
		cleanup = append(cleanup, inputPath)
	}

	res, err := h.enhancer.Enhance(ctx, enhance.Input{Path: inputPath, Config: cfg, TempDir: dir})
	if err != nil {
		status, code := enhanceErrorStatus(err)
		writeError(w, status, err.Error(), code)
		return
	}
	cleanup = append(cleanup, res.Path)

	resp := EnhanceResponse{
		SampleRate: res.SampleRate,
		Trace:      res.Trace,
	}

	if req.PushToS3 {
		url, err := h.upload(bg, res.Path)
		if err != nil {
			if errors.Is(err, storage.ErrS3NotConfigured) {
				writeError(w, http.StatusBadRequest, err.Error(), "S3_NOT_CONFIGURED")
				return
			}
			log.Error("failed to upload result", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "failed to upload result", "UPLOAD_FAILED")
			return
		}
		resp.URL = url
	} else {
		data, err := h.readFile(bg, res.Path)
		if err != nil {
			log.Error("failed to read result", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to read result", "STORAGE_ERROR")
			return
		}
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(data)
	}

	log.Info("segment enhanced",
		slog.String("input", inputPath),
		slog.Int("sample_rate", res.SampleRate),
		slog.Any("trace", res.Trace),
		slog.Bool("pushed_to_s3", req.PushToS3),
	)
	writeJSON(w, http.StatusOK, resp)
}

// requestLogger scopes the handler logger to the request ID, when there is one.
func (h *Handlers) requestLogger(r *http.Request) *slog.Logger {
	if rid := RequestID(r.Context()); rid != "" {
		return h.logger.With(slog.String("request_id", rid))
	}
	return h.logger
}

// resolveInput maps input_path onto the input root. Relative paths are taken
// from the root; symlinks are followed before the containment check.
func (h *Handlers) resolveInput(p string) (string, error) {
	if h.inputRoot == "" {
		return "", ErrInputPathDisabled
	}
	root, err := filepath.EvalSymlinks(h.inputRoot)
	if err != nil {
		return "", fmt.Errorf("resolve input root: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve input root: %w", err)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	// A missing file keeps its lexical path; the pipeline reports it as missing.
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInputPathOutsideRoot
	}
	return target, nil
}

// enhanceErrorStatus maps pipeline errors to HTTP status and error code.
func enhanceErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, enhance.ErrInputMissing):
		return http.StatusNotFound, "INPUT_MISSING"
	case errors.Is(err, enhance.ErrMetadataUnreadable):
		return http.StatusUnprocessableEntity, "METADATA_UNREADABLE"
	case errors.Is(err, enhance.ErrFinalCopyFailed):
		return http.StatusInternalServerError, "FINAL_COPY_FAILED"
	default:
		return http.StatusInternalServerError, "ENHANCE_FAILED"
	}
}

func (h *Handlers) upload(ctx context.Context, path string) (string, error) {
	f, err := h.store.LoadTemp(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return h.store.UploadToS3(ctx, "segments/"+id.Generate("seg")+".wav", f)
}

func (h *Handlers) readFile(ctx context.Context, path string) ([]byte, error) {
	f, err := h.store.LoadTemp(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
