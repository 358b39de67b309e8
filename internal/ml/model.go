// Package ml is the boundary to the trained severity model.
//
// The model is opaque: it takes one encoded feature vector and returns a single
// severity fraction. Three backends are available and one is chosen at startup:
// a long-lived Python worker that loads the exported training artifact, an
// in-process ONNX Runtime session, and a remote inference server over HTTP.
// Whatever the backend, the model is loaded once and reused for the life of the
// process.
package ml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"rasp/internal/features"

	"github.com/rs/zerolog/log"
)

// Backend names accepted by Load.
const (
	BackendScript = "script"
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// ErrModelUnavailable is returned when a backend cannot serve predictions.
var ErrModelUnavailable = errors.New("model unavailable")

// Model is a trained regressor over the 19-feature schema.
type Model interface {
	// Predict returns the raw model output for one feature vector.
	Predict(ctx context.Context, v features.Vector) (float64, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases the backend's resources.
	Close() error
}

// MetricsInterface defines metrics methods needed by the model backends
type MetricsInterface interface {
	MLInferenceInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLTimeoutsInc()
	MLModelAgeSet(float64)
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend     string
	ModelPath   string
	ModelURL    string
	PythonPath  string
	ONNXLibPath string
	Timeout     time.Duration
}

// Load builds the configured backend.
func Load(cfg Config, metrics MetricsInterface) (Model, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	var (
		m   Model
		err error
	)
	switch cfg.Backend {
	case BackendScript, "":
		m, err = NewScriptModel(cfg.ModelPath, cfg.PythonPath, cfg.Timeout, metrics)
	case BackendONNX:
		m, err = NewONNXModel(cfg.ModelPath, cfg.ONNXLibPath, metrics)
	case BackendRemote:
		m, err = NewRemoteModel(cfg.ModelURL, cfg.Timeout, metrics)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("backend", m.Name()).
		Str("model_path", cfg.ModelPath).
		Str("model_url", cfg.ModelURL).
		Msg("Model loaded")
	return m, nil
}

// reportModelAge sets the model age gauge from the artifact's modification time.
func reportModelAge(path string, metrics MetricsInterface) {
	if metrics == nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Warn().Err(err).Str("model_path", path).Msg("Failed to get model file info")
		return
	}
	metrics.MLModelAgeSet(time.Since(info.ModTime()).Seconds())
}

// observe records latency and outcome for one inference call.
func observe(metrics MetricsInterface, start time.Time, err error) {
	if metrics == nil {
		return
	}
	metrics.MLLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		metrics.MLFailuresInc()
		return
	}
	metrics.MLInferenceInc()
}
