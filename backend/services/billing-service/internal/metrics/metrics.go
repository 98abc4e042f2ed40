package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultReplay  = "replay"
	ResultDenied  = "insufficient_balance"
)

// Metrics bundles billing metrics. A nil *Metrics records nothing.
type Metrics struct {
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	PostingsTotal      *prometheus.CounterVec
	AnomaliesTotal     *prometheus.CounterVec
	StateConflicts     prometheus.Counter
	EstimatesTotal     *prometheus.CounterVec
}

// New constructs metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_settlements_total",
				Help: "Total session settlements by result",
			},
			[]string{"result"},
		),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_settlement_duration_seconds",
			Help:    "Settlement latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		PostingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_ledger_postings_total",
				Help: "Total ledger postings by type and result",
			},
			[]string{"type", "result"},
		),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_session_data_anomalies_total",
				Help: "Recovered session data anomalies by kind",
			},
			[]string{"kind"},
		),
		StateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_ledger_state_conflicts_total",
			Help: "Conflicting terminal transitions on ledger transactions",
		}),
		EstimatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_estimates_total",
				Help: "Advisory session estimates by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.SettlementsTotal,
		m.SettlementDuration,
		m.PostingsTotal,
		m.AnomaliesTotal,
		m.StateConflicts,
		m.EstimatesTotal,
	)
	return m
}

func (m *Metrics) ObserveSettlement(result string, started time.Time) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(result).Inc()
	m.SettlementDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) Posting(txType, result string) {
	if m == nil {
		return
	}
	m.PostingsTotal.WithLabelValues(txType, result).Inc()
}

func (m *Metrics) Anomaly(kind string) {
	if m == nil {
		return
	}
	m.AnomaliesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) StateConflict() {
	if m == nil {
		return
	}
	m.StateConflicts.Inc()
}

func (m *Metrics) Estimate(result string) {
	if m == nil {
		return
	}
	m.EstimatesTotal.WithLabelValues(result).Inc()
}
