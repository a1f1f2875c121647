package metrics

import "github.com/prometheus/client_golang/prometheus"

// ScreeningMetrics exposes counters/histograms for screening turns.
type ScreeningMetrics struct {
	turnsTotal         *prometheus.CounterVec
	modelLatency       *prometheus.HistogramVec
	scoringPassTotal   *prometheus.CounterVec
	turnMismatchTotal  prometheus.Counter
	replyAnomalies     *prometheus.CounterVec
	sessionsTerminated prometheus.Counter
}

func NewScreeningMetrics(reg prometheus.Registerer) *ScreeningMetrics {
	m := &ScreeningMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "turns_total",
			Help:      "Total screening turns by modality and outcome",
		}, []string{"modality", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "model_latency_seconds",
			Help:      "Latency of model calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"pass"}),
		scoringPassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "scoring_pass_total",
			Help:      "Secondary scoring passes by status",
		}, []string{"status"}),
		turnMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "turn_count_mismatch_total",
			Help:      "Turns whose declared message number disagreed with the session",
		}),
		replyAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "reply_anomalies_total",
			Help:      "Model reply values outside the known catalog",
		}, []string{"field"}),
		sessionsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psychiatrai",
			Subsystem: "screening",
			Name:      "sessions_terminated_total",
			Help:      "Sessions closed by the model",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.modelLatency,
		m.scoringPassTotal,
		m.turnMismatchTotal,
		m.replyAnomalies,
		m.sessionsTerminated,
	)
	return m
}

func (m *ScreeningMetrics) ObserveTurn(modality, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(modality, outcome).Inc()
}

func (m *ScreeningMetrics) ObserveModelLatency(pass string, seconds float64) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(pass).Observe(seconds)
}

func (m *ScreeningMetrics) ObserveScoringPass(status string) {
	if m == nil {
		return
	}
	m.scoringPassTotal.WithLabelValues(status).Inc()
}

func (m *ScreeningMetrics) ObserveTurnMismatch() {
	if m == nil {
		return
	}
	m.turnMismatchTotal.Inc()
}

func (m *ScreeningMetrics) ObserveReplyAnomaly(field string) {
	if m == nil {
		return
	}
	m.replyAnomalies.WithLabelValues(field).Inc()
}

func (m *ScreeningMetrics) ObserveTermination() {
	if m == nil {
		return
	}
	m.sessionsTerminated.Inc()
}
