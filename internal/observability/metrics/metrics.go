package metrics

import "github.com/prometheus/client_golang/prometheus"

// CrisisMetrics exposes counters/histograms for the assessment and
// intervention flows.
type CrisisMetrics struct {
	assessmentsTotal *prometheus.CounterVec
	assessLatency    *prometheus.HistogramVec
	escalationsTotal *prometheus.CounterVec
	protocolSteps    *prometheus.CounterVec
	adjustmentsTotal prometheus.Counter
}

func NewCrisisMetrics(reg prometheus.Registerer) *CrisisMetrics {
	m := &CrisisMetrics{
		assessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Total risk assessments by resulting severity",
		}, []string{"severity", "degraded"}),
		assessLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crisis",
			Subsystem: "risk",
			Name:      "assess_latency_seconds",
			Help:      "Latency of classifier assessment calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cached"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "escalation",
			Name:      "dispatches_total",
			Help:      "Total escalation target dispatches",
		}, []string{"level", "channel", "status"}),
		protocolSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "protocol",
			Name:      "steps_total",
			Help:      "Total protocol steps executed",
		}, []string{"protocol", "status"}),
		adjustmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "thresholds",
			Name:      "adjustments_total",
			Help:      "Total adaptive threshold adjustments created",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.assessmentsTotal, m.assessLatency, m.escalationsTotal, m.protocolSteps, m.adjustmentsTotal)
	return m
}

func (m *CrisisMetrics) ObserveAssessment(severity string, degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.assessmentsTotal.WithLabelValues(severity, label).Inc()
}

func (m *CrisisMetrics) ObserveAssessLatency(cached bool, seconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if cached {
		label = "true"
	}
	m.assessLatency.WithLabelValues(label).Observe(seconds)
}

func (m *CrisisMetrics) ObserveEscalation(level, channel, status string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(level, channel, status).Inc()
}

func (m *CrisisMetrics) ObserveProtocolStep(protocol, status string) {
	if m == nil {
		return
	}
	m.protocolSteps.WithLabelValues(protocol, status).Inc()
}

func (m *CrisisMetrics) ObserveAdjustment() {
	if m == nil {
		return
	}
	m.adjustmentsTotal.Inc()
}
