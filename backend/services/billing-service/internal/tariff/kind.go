package tariff

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the billable dimension a price component charges for.
type Kind uint8

const (
	Energy Kind = iota + 1
	Time
	Flat
	ParkingTime
)

// Usage is what a session presents to the billing dimensions.
type Usage struct {
	EnergyWh        int64
	DurationSeconds decimal.Decimal
	OverstaySeconds decimal.Decimal
}

type dimension struct {
	name     string
	stepped  bool
	quantity func(Usage) decimal.Decimal
}

var one = decimal.NewFromInt(1)

// dimensions is indexed by Kind; every declared kind must have an entry.
var dimensions = [...]dimension{
	Energy: {
		name:     "ENERGY",
		stepped:  true,
		quantity: func(u Usage) decimal.Decimal { return decimal.NewFromInt(u.EnergyWh).Shift(-3) },
	},
	Time: {
		name:     "TIME",
		stepped:  true,
		quantity: func(u Usage) decimal.Decimal { return u.DurationSeconds },
	},
	Flat: {
		name:     "FLAT",
		stepped:  false,
		quantity: func(Usage) decimal.Decimal { return one },
	},
	ParkingTime: {
		name:     "PARKING_TIME",
		stepped:  true,
		quantity: func(u Usage) decimal.Decimal { return u.OverstaySeconds },
	},
}

// Kinds lists every kind in billing order.
func Kinds() []Kind {
	return []Kind{Energy, Time, Flat, ParkingTime}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= Energy && int(k) < len(dimensions)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return dimensions[k].name
}

// Stepped reports whether usage of this kind is billed in whole steps.
func (k Kind) Stepped() bool {
	return k.Valid() && dimensions[k].stepped
}

// Quantity is the raw usage of this kind: kWh for ENERGY, seconds for TIME and
// PARKING_TIME, exactly one for FLAT.
func (k Kind) Quantity(u Usage) decimal.Decimal {
	if !k.Valid() {
		return decimal.Zero
	}
	q := dimensions[k].quantity(u)
	if q.IsNegative() {
		return decimal.Zero
	}
	return q
}

// BilledUnits rounds raw usage up to the next whole multiple of step. FLAT
// always bills a single unit.
func (k Kind) BilledUnits(raw, step decimal.Decimal) decimal.Decimal {
	if !k.Stepped() {
		return one
	}
	if !raw.IsPositive() || !step.IsPositive() {
		return decimal.Zero
	}
	q, r := raw.QuoRem(step, 0)
	if !r.IsZero() {
		q = q.Add(one)
	}
	return q.Mul(step)
}

// ParseKind accepts the OCPI dimension names.
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if dimensions[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown component type %q", ErrInvalidTariff, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("tariff: cannot marshal %s", k)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
