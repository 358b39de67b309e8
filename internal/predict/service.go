// Package predict implements the severity prediction service: encode the raw
// record, score it with the model, scale the result and log it to history.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"rasp/internal/features"
	"rasp/internal/ml"
	"rasp/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrMissingFeatures is returned in strict mode when the encoded vector has
// absent values.
var ErrMissingFeatures = errors.New("missing or unparseable features")

// Failure stages reported in Error.
const (
	StageValidation = "validation"
	StageModel      = "model"
	StageHistory    = "history"
)

// Error is a failed prediction. Nothing is written to history when one is returned.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageValidation:
		return fmt.Sprintf("invalid input: %v", e.Err)
	case StageModel:
		return fmt.Sprintf("model invocation failed: %v", e.Err)
	case StageHistory:
		return fmt.Sprintf("failed to record prediction: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// HistorySink is the append-only prediction log.
type HistorySink interface {
	AppendHistory(entry storage.HistoryEntry) error
	HistoryCount() (int, error)
}

// Notifier is told about every entry after it has been stored.
type Notifier interface {
	Publish(entry storage.HistoryEntry)
}

// Metrics defines the metrics methods the service reports to.
type Metrics interface {
	PredictionInc()
	PredictionFailureInc()
	PredictionLatencyObserve(float64)
	SeverityObserve(float64)
	MissingFeaturesAdd(int)
	HistorySizeSet(int)
}

// Result is a successful prediction.
type Result struct {
	Severity float64
	Entry    storage.HistoryEntry
}

// Service scores raw records. It is safe for concurrent use as long as the model
// and sink are.
type Service struct {
	model    ml.Model
	sink     HistorySink
	strict   bool
	metrics  Metrics
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithStrictValidation rejects records whose vector has absent values instead of
// passing NaN to the model.
func WithStrictValidation(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the model and history sink. Both are loaded once by the caller
// and reused for every request.
func NewService(model ml.Model, sink HistorySink, opts ...Option) *Service {
	s := &Service{
		model: model,
		sink:  sink,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scale turns a raw model output (a 0-1 severity fraction) into the 0-100 score
// clients see: round to 4 decimal places, then multiply by 100. Rounding works
// on the exact decimal value of raw with ties to even, so near-halves such as
// 0.00035 (stored just below the half) round down.
func Scale(raw float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(raw, 'f', 4, 64), 64)
	if err != nil {
		return math.NaN()
	}
	return rounded * 100
}

// Predict scores one raw record and appends exactly one history entry on success.
func (s *Service) Predict(ctx context.Context, raw features.RawRecord) (Result, error) {
	start := time.Now()

	res, err := s.predict(ctx, raw)

	if s.metrics != nil {
		s.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
		if err != nil {
			s.metrics.PredictionFailureInc()
		} else {
			s.metrics.PredictionInc()
			s.metrics.SeverityObserve(res.Severity)
		}
	}

	if err != nil {
		log.Error().Err(err).Interface("input", raw).Msg("Prediction failed")
		return Result{}, err
	}

	log.Info().
		Str("id", res.Entry.ID).
		Float64("severity", res.Severity).
		Dur("latency", time.Since(start)).
		Msg("Prediction served")
	return res, nil
}

func (s *Service) predict(ctx context.Context, raw features.RawRecord) (Result, error) {
	log.Debug().Interface("input", raw).Msg("Incoming raw input")

	vec := features.Encode(raw)

	if missing := vec.Missing(); len(missing) > 0 {
		if s.metrics != nil {
			s.metrics.MissingFeaturesAdd(len(missing))
		}
		if s.strict {
			return Result{}, &Error{
				Stage: StageValidation,
				Err:   fmt.Errorf("%w: %s", ErrMissingFeatures, strings.Join(missing, ", ")),
			}
		}
		log.Warn().Strs("missing", missing).Msg("Scoring record with absent features")
	}

	out, err := s.model.Predict(ctx, vec)
	if err != nil {
		return Result{}, &Error{Stage: StageModel, Err: err}
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return Result{}, &Error{Stage: StageModel, Err: fmt.Errorf("non-finite model output %v", out)}
	}

	severity := Scale(out)

	entry := storage.HistoryEntry{
		ID:         s.newID(),
		Input:      raw,
		Processed:  vec.Snapshot(),
		Prediction: severity,
		Timestamp:  s.now(),
	}
	if err := s.sink.AppendHistory(entry); err != nil {
		return Result{}, &Error{Stage: StageHistory, Err: err}
	}

	if s.metrics != nil {
		if n, err := s.sink.HistoryCount(); err == nil {
			s.metrics.HistorySizeSet(n)
		}
	}
	if s.notifier != nil {
		s.notifier.Publish(entry)
	}

	return Result{Severity: severity, Entry: entry}, nil
}
