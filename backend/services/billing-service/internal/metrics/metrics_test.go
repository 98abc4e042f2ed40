package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSettlement(ResultSuccess, time.Now())
	m.Posting("PAYMENT", ResultDenied)
	m.Anomaly("NEGATIVE_METER_DELTA")
	m.StateConflict()
	m.Estimate(ResultSuccess)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"billing_settlements_total",
		"billing_settlement_duration_seconds",
		"billing_ledger_postings_total",
		"billing_session_data_anomalies_total",
		"billing_ledger_state_conflicts_total",
		"billing_estimates_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSettlement(ResultError, time.Now())
	m.Posting("TOPUP", ResultSuccess)
	m.Anomaly("x")
	m.StateConflict()
	m.Estimate(ResultError)
}
