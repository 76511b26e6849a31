// Package server provides the HTTP server for the segment enhancer.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/json"

	"github.com/maauso/segment-enhancer/internal/enhance"
)

// EnhanceRequest is the HTTP request body for enhancing one segment.
// Exactly one of InputPath and AudioBase64 must be set.
// The result is returned inline unless PushToS3 is set.
type EnhanceRequest struct {
	// InputPath is a file below the server's input root, absolute or relative
	// to it. It is never modified.
	InputPath string `json:"input_path" validate:"required_without=AudioBase64,excluded_with=AudioBase64"`
	// AudioBase64 is the base64-encoded source audio.
	AudioBase64 string `json:"audio_base64" validate:"required_without=InputPath,omitempty,base64"`
	// Config overrides the server's enhancement defaults field by field.
	Config json.RawMessage `json:"config,omitempty"`
	// PushToS3 uploads the result and returns its URL instead of the audio.
	PushToS3 bool `json:"push_to_s3"`
}

// EnhanceResponse is the HTTP response for a finished enhancement.
// Exactly one of AudioBase64 and URL is set.
type EnhanceResponse struct {
	// AudioBase64 is the base64-encoded result.
	AudioBase64 string `json:"audio_base64,omitempty"`
	// URL is the S3 URL of the result.
	URL string `json:"url,omitempty"`
	// SampleRate is the sample rate of the result in Hz.
	SampleRate int `json:"sample_rate"`
	// Trace lists the pipeline states the run passed through.
	Trace []enhance.State `json:"trace"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Capabilities reports which optional tools were detected at startup.
	Capabilities enhance.Capabilities `json:"capabilities"`
}
