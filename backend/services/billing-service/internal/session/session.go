package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/billing-service/internal/tariff"
)

var (
	// ErrInvalidSessionWindow means the session ends before it starts.
	ErrInvalidSessionWindow = errors.New("session: end time before start time")
	// ErrIncompleteSessionFacts means energy or duration cannot be derived yet.
	ErrIncompleteSessionFacts = errors.New("session: incomplete session facts")
	ErrNotFound               = errors.New("session: not found")
	// ErrDataAnomaly matches every *DataAnomaly.
	ErrDataAnomaly = errors.New("session: data anomaly")
)

// LimitType selects the unit of a session cap.
type LimitType string

const (
	LimitKWh    LimitType = "KWH"
	LimitAmount LimitType = "AMOUNT"
)

// ChargingSession is the raw record produced by the OCPP layer.
type ChargingSession struct {
	ConnectorID   int    `json:"connector_id"`
	TransactionID string `json:"transaction_id"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// ChargingCompletedAt marks when energy transfer stopped, if the charger reports it.
	ChargingCompletedAt *time.Time `json:"charging_completed_at,omitempty"`

	MeterStartWh int64  `json:"meter_start"`
	MeterStopWh  *int64 `json:"meter_stop,omitempty"`
	// LastMeterWh is the latest sampled reading of an active session.
	LastMeterWh *int64 `json:"last_meter,omitempty"`

	IDTag      string `json:"id_tag,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`

	Limit     *decimal.Decimal `json:"limit,omitempty"`
	LimitType LimitType        `json:"limit_type,omitempty"`

	TariffRef  tariff.Ref `json:"tariff_ref"`
	RoamingRef string     `json:"roaming_ref,omitempty"`
}

// Active reports whether the session is still running.
func (s ChargingSession) Active() bool {
	return s.EndTime == nil || s.MeterStopWh == nil
}

// AnomalyKind classifies recovered data problems.
type AnomalyKind string

const (
	AnomalyNegativeMeterDelta AnomalyKind = "NEGATIVE_METER_DELTA"
	AnomalyCompletedOutside   AnomalyKind = "CHARGING_COMPLETED_OUTSIDE_WINDOW"
)

// DataAnomaly is a recovered defect in the raw session data. It never blocks
// billing but must be surfaced to the caller.
type DataAnomaly struct {
	Kind          AnomalyKind `json:"kind"`
	TransactionID string      `json:"transaction_id"`
	MeterStartWh  int64       `json:"meter_start,omitempty"`
	MeterStopWh   int64       `json:"meter_stop,omitempty"`
	Detail        string      `json:"detail"`
}

func (a *DataAnomaly) Error() string {
	return fmt.Sprintf("session %s: %s: %s", a.TransactionID, a.Kind, a.Detail)
}

func (a *DataAnomaly) Is(target error) bool {
	return target == ErrDataAnomaly
}

// Facts are the billable quantities derived from a session.
type Facts struct {
	TransactionID   string          `json:"transaction_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	EnergyWh        int64           `json:"energy_wh"`
	DurationSeconds decimal.Decimal `json:"duration_seconds"`
	OverstaySeconds decimal.Decimal `json:"overstay_seconds"`
	// IsFinal is false for live estimates, which must never be settled.
	IsFinal   bool             `json:"is_final"`
	Limit     *decimal.Decimal `json:"limit,omitempty"`
	LimitType LimitType        `json:"limit_type,omitempty"`
	Anomalies []DataAnomaly    `json:"anomalies,omitempty"`
}

// Usage projects the facts onto the billing dimensions.
func (f Facts) Usage() tariff.Usage {
	return tariff.Usage{
		EnergyWh:        f.EnergyWh,
		DurationSeconds: f.DurationSeconds,
		OverstaySeconds: f.OverstaySeconds,
	}
}

// Extract derives final facts from a terminated session.
func Extract(s ChargingSession) (Facts, error) {
	if s.StartTime.IsZero() || s.EndTime == nil || s.MeterStopWh == nil {
		return Facts{}, fmt.Errorf("%w: transaction %s", ErrIncompleteSessionFacts, s.TransactionID)
	}
	f, err := derive(s, *s.EndTime, *s.MeterStopWh)
	if err != nil {
		return Facts{}, err
	}
	f.IsFinal = true
	return f, nil
}

// Estimate derives advisory facts, using now as the end of an active session
// and the latest sampled meter reading as its stop value.
func Estimate(s ChargingSession, now time.Time) (Facts, error) {
	if !s.Active() {
		return Extract(s)
	}
	if s.StartTime.IsZero() {
		return Facts{}, fmt.Errorf("%w: transaction %s has no start time", ErrIncompleteSessionFacts, s.TransactionID)
	}
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	meter := s.MeterStartWh
	switch {
	case s.MeterStopWh != nil:
		meter = *s.MeterStopWh
	case s.LastMeterWh != nil:
		meter = *s.LastMeterWh
	}
	return derive(s, end, meter)
}

func derive(s ChargingSession, end time.Time, meterStop int64) (Facts, error) {
	if end.Before(s.StartTime) {
		return Facts{}, fmt.Errorf("%w: transaction %s", ErrInvalidSessionWindow, s.TransactionID)
	}

	f := Facts{
		TransactionID:   s.TransactionID,
		StartTime:       s.StartTime,
		EndTime:         end,
		DurationSeconds: seconds(end.Sub(s.StartTime)),
		OverstaySeconds: decimal.Zero,
		LimitType:       s.LimitType,
	}
	if s.Limit != nil {
		limit := *s.Limit
		f.Limit = &limit
	}

	delta := meterStop - s.MeterStartWh
	if delta < 0 {
		f.Anomalies = append(f.Anomalies, DataAnomaly{
			Kind:          AnomalyNegativeMeterDelta,
			TransactionID: s.TransactionID,
			MeterStartWh:  s.MeterStartWh,
			MeterStopWh:   meterStop,
			Detail:        fmt.Sprintf("meter delta %d Wh clamped to 0", delta),
		})
		delta = 0
	}
	f.EnergyWh = delta

	if s.ChargingCompletedAt != nil {
		completed := *s.ChargingCompletedAt
		if completed.Before(s.StartTime) || completed.After(end) {
			f.Anomalies = append(f.Anomalies, DataAnomaly{
				Kind:          AnomalyCompletedOutside,
				TransactionID: s.TransactionID,
				Detail:        fmt.Sprintf("charging completed at %s outside [%s, %s]", completed.Format(time.RFC3339), s.StartTime.Format(time.RFC3339), end.Format(time.RFC3339)),
			})
			if completed.Before(s.StartTime) {
				completed = s.StartTime
			} else {
				completed = end
			}
		}
		f.OverstaySeconds = seconds(end.Sub(completed))
	}
	return f, nil
}

func seconds(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Nanoseconds()).Shift(-9)
}
