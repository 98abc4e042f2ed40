package session

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var start = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func finished(meterStart, meterStop int64, d time.Duration) ChargingSession {
	end := start.Add(d)
	return ChargingSession{
		TransactionID: "tx-1",
		StartTime:     start,
		EndTime:       &end,
		MeterStartWh:  meterStart,
		MeterStopWh:   &meterStop,
	}
}

func TestExtractDerivesEnergyAndDuration(t *testing.T) {
	facts, err := Extract(finished(1000, 5567, 90*time.Minute))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if facts.EnergyWh != 4567 {
		t.Fatalf("expected 4567 Wh, got %d", facts.EnergyWh)
	}
	if !facts.DurationSeconds.Equal(decimal.NewFromInt(5400)) {
		t.Fatalf("expected 5400 s, got %s", facts.DurationSeconds)
	}
	if !facts.OverstaySeconds.IsZero() {
		t.Fatalf("expected no overstay, got %s", facts.OverstaySeconds)
	}
	if !facts.IsFinal {
		t.Fatal("expected final facts")
	}
}

func TestExtractClampsNegativeMeterDelta(t *testing.T) {
	facts, err := Extract(finished(5000, 4990, time.Hour))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if facts.EnergyWh != 0 {
		t.Fatalf("expected clamped energy, got %d", facts.EnergyWh)
	}
	if len(facts.Anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(facts.Anomalies))
	}
	a := facts.Anomalies[0]
	if a.Kind != AnomalyNegativeMeterDelta || a.MeterStartWh != 5000 || a.MeterStopWh != 4990 {
		t.Fatalf("unexpected anomaly %+v", a)
	}
	if !errors.Is(&a, ErrDataAnomaly) {
		t.Fatal("expected anomaly to match ErrDataAnomaly")
	}
}

func TestExtractRejectsInvertedWindow(t *testing.T) {
	_, err := Extract(finished(0, 10, -time.Minute))
	if !errors.Is(err, ErrInvalidSessionWindow) {
		t.Fatalf("expected ErrInvalidSessionWindow, got %v", err)
	}
}

func TestExtractRequiresTerminatedSession(t *testing.T) {
	s := ChargingSession{TransactionID: "tx-2", StartTime: start, MeterStartWh: 100}
	if _, err := Extract(s); !errors.Is(err, ErrIncompleteSessionFacts) {
		t.Fatalf("expected ErrIncompleteSessionFacts, got %v", err)
	}
}

func TestExtractOverstay(t *testing.T) {
	s := finished(0, 20000, 2*time.Hour)
	completed := start.Add(90 * time.Minute)
	s.ChargingCompletedAt = &completed

	facts, err := Extract(s)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !facts.OverstaySeconds.Equal(decimal.NewFromInt(1800)) {
		t.Fatalf("expected 1800 s overstay, got %s", facts.OverstaySeconds)
	}
	if len(facts.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %v", facts.Anomalies)
	}
}

func TestExtractClampsOverstayOutsideWindow(t *testing.T) {
	s := finished(0, 20000, time.Hour)
	completed := start.Add(-time.Minute)
	s.ChargingCompletedAt = &completed

	facts, err := Extract(s)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !facts.OverstaySeconds.Equal(decimal.NewFromInt(3600)) {
		t.Fatalf("expected full-session overstay, got %s", facts.OverstaySeconds)
	}
	if len(facts.Anomalies) != 1 || facts.Anomalies[0].Kind != AnomalyCompletedOutside {
		t.Fatalf("expected out-of-window anomaly, got %v", facts.Anomalies)
	}
}

func TestEstimateUsesNowAndLastMeter(t *testing.T) {
	last := int64(2500)
	s := ChargingSession{TransactionID: "tx-3", StartTime: start, MeterStartWh: 1000, LastMeterWh: &last}

	facts, err := Estimate(s, start.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if facts.IsFinal {
		t.Fatal("estimate must not be final")
	}
	if facts.EnergyWh != 1500 {
		t.Fatalf("expected 1500 Wh, got %d", facts.EnergyWh)
	}
	if !facts.DurationSeconds.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected 600 s, got %s", facts.DurationSeconds)
	}

	if _, err := Estimate(s, start.Add(-time.Second)); !errors.Is(err, ErrInvalidSessionWindow) {
		t.Fatalf("expected ErrInvalidSessionWindow, got %v", err)
	}
}

func TestEstimateOfFinishedSessionIsFinal(t *testing.T) {
	facts, err := Estimate(finished(0, 1000, time.Minute), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !facts.IsFinal || !facts.DurationSeconds.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected final facts for finished session, got %+v", facts)
	}
}
