package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewCrisisMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCrisisMetrics(reg)

	m.ObserveAssessment("high", false)
	m.ObserveAssessLatency(true, 0.01)
	m.ObserveEscalation("critical", "email", "ok")
	m.ObserveProtocolStep("suicide.high", "completed")
	m.ObserveAdjustment()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 5 {
		t.Fatalf("expected 5 metric families, got %d", len(families))
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *CrisisMetrics
	m.ObserveAssessment("low", true)
	m.ObserveAssessLatency(false, 1)
	m.ObserveEscalation("info", "sms", "failed")
	m.ObserveProtocolStep("p", "failed")
	m.ObserveAdjustment()
}
