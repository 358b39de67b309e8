package metrics

// MetricsWrapper adapts Metrics to the narrow interfaces the ml, predict, auth
// and feed packages declare, so those packages do not import Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Model boundary

func (w *MetricsWrapper) MLInferenceInc()            { w.m.MLInferences.Inc() }
func (w *MetricsWrapper) MLFailuresInc()             { w.m.MLFailures.Inc() }
func (w *MetricsWrapper) MLLatencyObserve(v float64) { w.m.MLLatency.Observe(v) }
func (w *MetricsWrapper) MLTimeoutsInc()             { w.m.MLTimeouts.Inc() }
func (w *MetricsWrapper) MLModelAgeSet(v float64)    { w.m.MLModelAge.Set(v) }

// Prediction service

func (w *MetricsWrapper) PredictionInc()                     { w.m.PredictionsTotal.Inc() }
func (w *MetricsWrapper) PredictionFailureInc()              { w.m.PredictionFailures.Inc() }
func (w *MetricsWrapper) PredictionLatencyObserve(v float64) { w.m.PredictionLatency.Observe(v) }
func (w *MetricsWrapper) SeverityObserve(v float64)          { w.m.SeverityScores.Observe(v) }
func (w *MetricsWrapper) MissingFeaturesAdd(n int)           { w.m.MissingFeatures.Add(float64(n)) }
func (w *MetricsWrapper) HistorySizeSet(n int)               { w.m.HistoryEntries.Set(float64(n)) }

// Accounts

func (w *MetricsWrapper) RegistrationInc() { w.m.Registrations.Inc() }

func (w *MetricsWrapper) LoginObserve(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	w.m.Logins.WithLabelValues(result).Inc()
}

// Live feed

func (w *MetricsWrapper) FeedClientsSet(n int) { w.m.FeedClients.Set(float64(n)) }
