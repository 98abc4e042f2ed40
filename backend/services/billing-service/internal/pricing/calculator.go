package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/billing-service/internal/session"
	"chargepay/backend/services/billing-service/internal/tariff"
)

var (
	// ErrTariffExpired means the pricing instant is outside the tariff validity window.
	ErrTariffExpired = errors.New("pricing: tariff not valid at pricing instant")
	// ErrNoTariff means no tariff snapshot was supplied.
	ErrNoTariff = errors.New("pricing: tariff is required")
)

// ComponentCharge is the priced contribution of one billing dimension.
type ComponentCharge struct {
	Kind        tariff.Kind      `json:"kind"`
	RawUsage    decimal.Decimal  `json:"raw_usage"`
	BilledUnits decimal.Decimal  `json:"billed_units"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	VATPercent  *decimal.Decimal `json:"vat_percent,omitempty"`
	VATAmount   decimal.Decimal  `json:"vat_amount"`
	Restricted  bool             `json:"restricted"`
}

// Amount is the subtotal plus VAT.
func (c ComponentCharge) Amount() decimal.Decimal {
	return c.Subtotal.Add(c.VATAmount)
}

// ChargeBreakdown is the full, reproducible pricing of one session.
type ChargeBreakdown struct {
	TariffRef     tariff.Ref            `json:"tariff_ref"`
	Currency      string                `json:"currency"`
	PricedAt      time.Time             `json:"priced_at"`
	TransactionID string                `json:"transaction_id"`
	RoamingRef    string                `json:"roaming_ref,omitempty"`
	Facts         session.Facts         `json:"facts"`
	Components    []ComponentCharge     `json:"components"`
	// RawTotal is the unrounded sum; Total is rounded to the currency minor unit.
	RawTotal      decimal.Decimal       `json:"raw_total"`
	Total         decimal.Decimal       `json:"total"`
	IsFinal       bool                  `json:"is_final"`
	LimitExceeded bool                  `json:"limit_exceeded"`
	Anomalies     []session.DataAnomaly `json:"anomalies,omitempty"`
}

// Compute prices final session facts against a tariff snapshot at pricedAt.
func Compute(facts session.Facts, t *tariff.Tariff, pricedAt time.Time) (ChargeBreakdown, error) {
	if !facts.IsFinal {
		return ChargeBreakdown{}, fmt.Errorf("%w: transaction %s is still active", session.ErrIncompleteSessionFacts, facts.TransactionID)
	}
	return price(facts, t, pricedAt)
}

// Estimate prices facts that may belong to an active session. The result is
// advisory and carries IsFinal=false unless the facts were final.
func Estimate(facts session.Facts, t *tariff.Tariff, pricedAt time.Time) (ChargeBreakdown, error) {
	return price(facts, t, pricedAt)
}

func price(facts session.Facts, t *tariff.Tariff, pricedAt time.Time) (ChargeBreakdown, error) {
	if t == nil {
		return ChargeBreakdown{}, ErrNoTariff
	}
	if !t.ValidAt(pricedAt) {
		return ChargeBreakdown{}, fmt.Errorf("%w: %s at %s", ErrTariffExpired, t.Ref(), pricedAt.UTC().Format(time.RFC3339))
	}

	usage := facts.Usage()
	b := ChargeBreakdown{
		TariffRef:     t.Ref(),
		Currency:      t.Currency(),
		PricedAt:      pricedAt,
		TransactionID: facts.TransactionID,
		Facts:         facts,
		RawTotal:      decimal.Zero,
		IsFinal:       facts.IsFinal,
		Anomalies:     facts.Anomalies,
	}
	for _, kind := range tariff.Kinds() {
		c, ok := t.Resolve(kind, pricedAt)
		if !ok {
			continue
		}
		raw := kind.Quantity(usage)
		units := kind.BilledUnits(raw, c.StepSize)
		subtotal := units.Mul(c.UnitPrice)
		charge := ComponentCharge{
			Kind:        kind,
			RawUsage:    raw,
			BilledUnits: units,
			UnitPrice:   c.UnitPrice,
			Subtotal:    subtotal,
			VATPercent:  c.VATPercent,
			VATAmount:   c.VAT(subtotal),
			Restricted:  c.Restriction != nil,
		}
		b.Components = append(b.Components, charge)
		b.RawTotal = b.RawTotal.Add(charge.Amount())
	}
	b.Total = Round(b.RawTotal, b.Currency)
	b.LimitExceeded = limitExceeded(facts, b.Total)
	return b, nil
}

// limitExceeded is informational only; the total is never capped.
func limitExceeded(facts session.Facts, total decimal.Decimal) bool {
	if facts.Limit == nil {
		return false
	}
	switch facts.LimitType {
	case session.LimitKWh:
		return decimal.NewFromInt(facts.EnergyWh).Shift(-3).GreaterThan(*facts.Limit)
	case session.LimitAmount:
		return total.GreaterThan(*facts.Limit)
	default:
		return false
	}
}
