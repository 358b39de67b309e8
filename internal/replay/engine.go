// Package replay re-scores stored history entries with the current encoder and
// model and reports where the result no longer matches what was served.
package replay

import (
	"context"
	"fmt"
	"math"
	"time"

	"rasp/internal/features"
	"rasp/internal/ml"
	"rasp/internal/predict"

	"github.com/rs/zerolog/log"
)

// Result is the replay outcome for one history entry.
type Result struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Stored          float64   `json:"stored"`
	Replayed        float64   `json:"replayed"`
	Delta           float64   `json:"delta"`
	Drifted         bool      `json:"drifted"`
	ChangedFeatures []string  `json:"changed_features,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Results summarizes a replay run.
type Results struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Tolerance       float64   `json:"tolerance"`
	Total           int       `json:"total"`
	Replayed        int       `json:"replayed"`
	Failed          int       `json:"failed"`
	Drifted         int       `json:"drifted"`
	EncodingChanged int       `json:"encoding_changed"`
	MaxAbsDelta     float64   `json:"max_abs_delta"`
	MeanAbsDelta    float64   `json:"mean_abs_delta"`
	Entries         []Result  `json:"entries"`
}

// Engine replays a DataLoader through a model.
type Engine struct {
	model     ml.Model
	data      *DataLoader
	tolerance float64
	results   *Results
}

// NewEngine creates an engine. Entries whose replayed severity differs from the
// stored one by more than tolerance points are reported as drifted.
func NewEngine(model ml.Model, data *DataLoader, tolerance float64) *Engine {
	return &Engine{
		model:     model,
		data:      data,
		tolerance: tolerance,
	}
}

// Run executes the replay. It stops early only if ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Time("start", e.data.StartTime).
		Time("end", e.data.EndTime).
		Int("entries", e.data.Count()).
		Float64("tolerance", e.tolerance).
		Msg("Starting replay")

	res := &Results{
		StartTime: e.data.StartTime,
		EndTime:   e.data.EndTime,
		Tolerance: e.tolerance,
		Entries:   make([]Result, 0, e.data.Count()),
	}

	var sumAbs float64
	e.data.Reset()
	for e.data.HasNext() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replay canceled: %w", err)
		}

		entry := e.data.Next()
		vec := features.Encode(entry.Input)

		r := Result{
			ID:              entry.ID,
			Timestamp:       entry.Timestamp,
			Stored:          entry.Prediction,
			ChangedFeatures: changedFeatures(vec, entry.Processed.Vector()),
		}
		res.Total++
		if len(r.ChangedFeatures) > 0 {
			res.EncodingChanged++
		}

		out, err := e.model.Predict(ctx, vec)
		if err == nil && (math.IsNaN(out) || math.IsInf(out, 0)) {
			err = fmt.Errorf("non-finite model output %v", out)
		}
		if err != nil {
			r.Error = err.Error()
			res.Failed++
			res.Entries = append(res.Entries, r)
			log.Warn().Err(err).Str("id", entry.ID).Msg("Replay failed for entry")
			continue
		}

		r.Replayed = predict.Scale(out)
		r.Delta = r.Replayed - r.Stored
		abs := math.Abs(r.Delta)
		r.Drifted = abs > e.tolerance
		if r.Drifted {
			res.Drifted++
		}
		if abs > res.MaxAbsDelta {
			res.MaxAbsDelta = abs
		}
		sumAbs += abs
		res.Replayed++
		res.Entries = append(res.Entries, r)
	}

	if res.Replayed > 0 {
		res.MeanAbsDelta = sumAbs / float64(res.Replayed)
	}
	e.results = res

	log.Info().
		Int("replayed", res.Replayed).
		Int("failed", res.Failed).
		Int("drifted", res.Drifted).
		Int("encoding_changed", res.EncodingChanged).
		Msg("Replay finished")
	return nil
}

// GetResults returns the results of the last Run.
func (e *Engine) GetResults() *Results {
	return e.results
}

// changedFeatures lists the features whose current encoding differs from the
// stored one. Two absent values are equal.
func changedFeatures(now, stored features.Vector) []string {
	names := features.Names()
	var out []string
	for i := range now {
		a, b := now[i], stored[i]
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if a != b {
			out = append(out, names[i])
		}
	}
	return out
}
