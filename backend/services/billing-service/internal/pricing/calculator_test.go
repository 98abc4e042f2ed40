package pricing

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/billing-service/internal/session"
	"chargepay/backend/services/billing-service/internal/tariff"
)

var pricedAt = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return v
}

func mustTariff(t *testing.T, def tariff.Definition) *tariff.Tariff {
	t.Helper()
	if def.ID == "" {
		def.ID = "test"
	}
	if def.Currency == "" {
		def.Currency = "EUR"
	}
	tf, err := tariff.New(def)
	if err != nil {
		t.Fatalf("build tariff: %v", err)
	}
	return tf
}

func energyComponent(t *testing.T) tariff.ComponentDefinition {
	return tariff.ComponentDefinition{Type: tariff.Energy, Price: d(t, "0.35"), StepSize: d(t, "0.1")}
}

func flatComponent(t *testing.T) tariff.ComponentDefinition {
	return tariff.ComponentDefinition{Type: tariff.Flat, Price: d(t, "0.50")}
}

func finalFacts(energyWh int64) session.Facts {
	return session.Facts{
		TransactionID:   "tx-1",
		StartTime:       pricedAt,
		EndTime:         pricedAt.Add(time.Hour),
		EnergyWh:        energyWh,
		DurationSeconds: decimal.NewFromInt(3600),
		OverstaySeconds: decimal.Zero,
		IsFinal:         true,
	}
}

func TestComputeEnergyStepRounding(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{energyComponent(t)}})

	b, err := Compute(finalFacts(4567), tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(b.Components) != 1 {
		t.Fatalf("expected one component, got %d", len(b.Components))
	}
	c := b.Components[0]
	if !c.BilledUnits.Equal(d(t, "4.6")) {
		t.Fatalf("expected 4.6 kWh billed, got %s", c.BilledUnits)
	}
	if !c.Subtotal.Equal(d(t, "1.61")) {
		t.Fatalf("expected subtotal 1.61, got %s", c.Subtotal)
	}
	if !b.Total.Equal(d(t, "1.61")) {
		t.Fatalf("expected total 1.61, got %s", b.Total)
	}
}

func TestComputeAddsFlatFee(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{energyComponent(t), flatComponent(t)}})

	b, err := Compute(finalFacts(4567), tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !b.Total.Equal(d(t, "2.11")) {
		t.Fatalf("expected total 2.11, got %s", b.Total)
	}
}

func TestComputeVATRoundsAtTotalOnly(t *testing.T) {
	energy := energyComponent(t)
	vat := d(t, "20")
	energy.VATPercent = &vat
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{energy, flatComponent(t)}})

	b, err := Compute(finalFacts(4567), tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	var energyCharge, flatCharge ComponentCharge
	for _, c := range b.Components {
		switch c.Kind {
		case tariff.Energy:
			energyCharge = c
		case tariff.Flat:
			flatCharge = c
		}
	}
	if !energyCharge.Amount().Equal(d(t, "1.932")) {
		t.Fatalf("expected energy amount 1.932, got %s", energyCharge.Amount())
	}
	if !flatCharge.VATAmount.IsZero() || !flatCharge.Amount().Equal(d(t, "0.50")) {
		t.Fatalf("expected untaxed flat fee 0.50, got %s", flatCharge.Amount())
	}
	if !b.RawTotal.Equal(d(t, "2.432")) {
		t.Fatalf("expected raw total 2.432, got %s", b.RawTotal)
	}
	if !b.Total.Equal(d(t, "2.43")) {
		t.Fatalf("expected total 2.43, got %s", b.Total)
	}
}

func TestComputeClampedEnergyStillBillsFlat(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{energyComponent(t), flatComponent(t)}})

	end := pricedAt.Add(time.Hour)
	stop := int64(4990)
	facts, err := session.Extract(session.ChargingSession{
		TransactionID: "tx-rollover",
		StartTime:     pricedAt,
		EndTime:       &end,
		MeterStartWh:  5000,
		MeterStopWh:   &stop,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	b, err := Compute(facts, tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !b.Total.Equal(d(t, "0.50")) {
		t.Fatalf("expected flat-only total 0.50, got %s", b.Total)
	}
	if len(b.Anomalies) != 1 {
		t.Fatalf("expected anomaly on breakdown, got %v", b.Anomalies)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	vat := d(t, "19")
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{
		energyComponent(t),
		{Type: tariff.Time, Price: d(t, "0.0005"), StepSize: d(t, "60"), VATPercent: &vat},
		flatComponent(t),
	}})
	facts := finalFacts(12345)

	first, err := Compute(facts, tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Compute(facts, tf, pricedAt)
		if err != nil {
			t.Fatalf("compute #%d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("compute #%d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestComputeRejectsExpiredTariff(t *testing.T) {
	until := pricedAt.Add(-time.Hour)
	tf := mustTariff(t, tariff.Definition{ValidUntil: &until, Components: []tariff.ComponentDefinition{flatComponent(t)}})

	if _, err := Compute(finalFacts(1000), tf, pricedAt); !errors.Is(err, ErrTariffExpired) {
		t.Fatalf("expected ErrTariffExpired, got %v", err)
	}
}

func TestComputeRejectsActiveSession(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{flatComponent(t)}})
	facts := finalFacts(1000)
	facts.IsFinal = false

	if _, err := Compute(facts, tf, pricedAt); !errors.Is(err, session.ErrIncompleteSessionFacts) {
		t.Fatalf("expected ErrIncompleteSessionFacts, got %v", err)
	}

	b, err := Estimate(facts, tf, pricedAt)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if b.IsFinal {
		t.Fatal("estimate must not be final")
	}
}

func TestComputeUsesRestrictedPriceAtPricingInstant(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{
		{Type: tariff.Time, Price: d(t, "0.001"), StepSize: d(t, "1")},
		{Type: tariff.Time, Price: d(t, "0.002"), StepSize: d(t, "1"), Restriction: &tariff.RestrictionDefinition{StartTime: "11:00", EndTime: "13:00"}},
	}})

	b, err := Compute(finalFacts(0), tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !b.Total.Equal(d(t, "7.20")) {
		t.Fatalf("expected peak TIME total 7.20, got %s", b.Total)
	}
	if !b.Components[0].Restricted {
		t.Fatal("expected restricted component to be reported")
	}
}

func TestComputeFlagsButNeverCapsLimit(t *testing.T) {
	tf := mustTariff(t, tariff.Definition{Components: []tariff.ComponentDefinition{energyComponent(t)}})
	facts := finalFacts(10000)
	limit := d(t, "1.00")
	facts.Limit = &limit
	facts.LimitType = session.LimitAmount

	b, err := Compute(facts, tf, pricedAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !b.LimitExceeded {
		t.Fatal("expected limit to be flagged")
	}
	if !b.Total.Equal(d(t, "3.50")) {
		t.Fatalf("expected uncapped total 3.50, got %s", b.Total)
	}
}

func TestRoundUsesCurrencyMinorUnits(t *testing.T) {
	cases := []struct {
		amount, currency, want string
	}{
		{"2.435", "EUR", "2.44"},
		{"2.434", "EUR", "2.43"},
		{"150.5", "JPY", "151"},
		{"1.2345", "KWD", "1.235"},
	}
	for _, tc := range cases {
		if got := Round(d(t, tc.amount), tc.currency); !got.Equal(d(t, tc.want)) {
			t.Errorf("round %s %s: got %s, want %s", tc.amount, tc.currency, got, tc.want)
		}
	}
}

func TestComputeParkingTimeBillsOverstay(t *testing.T) {
	end := pricedAt.Add(time.Hour)
	completed := end.Add(-1795 * time.Second)
	stop := int64(4567)
	facts, err := session.Extract(session.ChargingSession{
		TransactionID:       "tx-park",
		StartTime:           pricedAt,
		EndTime:             &end,
		ChargingCompletedAt: &completed,
		MeterStopWh:         &stop,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	parking := tariff.ComponentDefinition{Type: tariff.ParkingTime, Price: d(t, "0.01"), StepSize: d(t, "60")}
	tests := []struct {
		name       string
		components []tariff.ComponentDefinition
		parking    bool
		units      string
		subtotal   string
		total      string
	}{
		{
			name:       "overstay rounds up to the step",
			components: []tariff.ComponentDefinition{energyComponent(t), parking},
			parking:    true,
			units:      "1800",
			subtotal:   "18",
			total:      "19.61",
		},
		{
			name:       "no parking component never charges overstay",
			components: []tariff.ComponentDefinition{energyComponent(t)},
			total:      "1.61",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Compute(facts, mustTariff(t, tariff.Definition{Components: tt.components}), pricedAt)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			var line *ComponentCharge
			for i := range b.Components {
				if b.Components[i].Kind == tariff.ParkingTime {
					line = &b.Components[i]
				}
			}
			if !tt.parking {
				if line != nil {
					t.Fatalf("unexpected parking line %+v", *line)
				}
			} else {
				if line == nil {
					t.Fatal("expected a parking line")
				}
				if !line.RawUsage.Equal(d(t, "1795")) || !line.BilledUnits.Equal(d(t, tt.units)) {
					t.Fatalf("expected 1795s billed as %s, got %s billed as %s", tt.units, line.RawUsage, line.BilledUnits)
				}
				if !line.Subtotal.Equal(d(t, tt.subtotal)) {
					t.Fatalf("expected subtotal %s, got %s", tt.subtotal, line.Subtotal)
				}
			}
			if !b.Total.Equal(d(t, tt.total)) {
				t.Fatalf("expected total %s, got %s", tt.total, b.Total)
			}
		})
	}
}
