package ml

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"rasp/internal/features"

	"github.com/go-resty/resty/v2"
)

// RemoteModel calls an HTTP inference server. The server receives
// {"features": [...], "columns": [...]} with null for absent values and answers
// {"prediction": number} or {"error": message}.
type RemoteModel struct {
	url     string
	rest    *resty.Client
	metrics MetricsInterface
}

type remoteRequest struct {
	Features []*float64 `json:"features"`
	Columns  []string   `json:"columns"`
}

type remoteResponse struct {
	Prediction *float64 `json:"prediction,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewRemoteModel creates a client for the inference endpoint at url.
func NewRemoteModel(url string, timeout time.Duration, metrics MetricsInterface) (*RemoteModel, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: remote model URL is empty", ErrModelUnavailable)
	}

	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")

	return &RemoteModel{url: url, rest: r, metrics: metrics}, nil
}

// Name implements Model.
func (m *RemoteModel) Name() string { return BackendRemote }

// Predict implements Model.
func (m *RemoteModel) Predict(ctx context.Context, v features.Vector) (float64, error) {
	start := time.Now()
	pred, err := m.call(ctx, v)
	observe(m.metrics, start, err)
	return pred, err
}

func (m *RemoteModel) call(ctx context.Context, v features.Vector) (float64, error) {
	result := &remoteResponse{}
	resp, err := m.rest.R().
		SetContext(ctx).
		SetBody(remoteRequest{Features: v.Nullable(), Columns: features.Names()}).
		SetResult(result).
		SetError(result).
		Post(m.url)
	if err != nil {
		if ctx.Err() == nil && m.metrics != nil && isTimeout(err) {
			m.metrics.MLTimeoutsInc()
		}
		return 0, fmt.Errorf("remote model: %w", err)
	}
	if resp.IsError() {
		if result.Error != "" {
			return 0, fmt.Errorf("remote model: %d %s", resp.StatusCode(), result.Error)
		}
		return 0, fmt.Errorf("remote model: %s", resp.Status())
	}
	if result.Error != "" {
		return 0, fmt.Errorf("remote model: %s", result.Error)
	}
	if result.Prediction == nil {
		return 0, fmt.Errorf("remote model: response has no prediction")
	}
	return *result.Prediction, nil
}

// Close implements Model.
func (m *RemoteModel) Close() error { return nil }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
