package tariff

import (
	"fmt"
	"strings"
	"time"
	// Tariff time zones must resolve in minimal containers too.
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// Ref identifies one immutable tariff snapshot.
type Ref struct {
	ID      string `json:"id" yaml:"id"`
	Version int    `json:"version" yaml:"version"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.ID == "" && r.Version == 0
}

// PriceComponent is a validated billing rule for one dimension.
type PriceComponent struct {
	Kind       Kind
	UnitPrice  decimal.Decimal
	StepSize   decimal.Decimal
	VATPercent *decimal.Decimal
	// Restriction is nil for the default component of a kind.
	Restriction *TimeRestriction
}

// VAT returns the VAT on subtotal, zero when the component carries none.
func (c PriceComponent) VAT(subtotal decimal.Decimal) decimal.Decimal {
	if c.VATPercent == nil {
		return decimal.Zero
	}
	return subtotal.Mul(*c.VATPercent).Div(decimal.NewFromInt(100))
}

// Tariff is an immutable, validated set of price components. Build it with New.
type Tariff struct {
	ref        Ref
	currency   string
	location   *time.Location
	validFrom  *time.Time
	validUntil *time.Time
	components []PriceComponent
	def        Definition
}

// New validates the definition and freezes it into a Tariff.
func New(def Definition) (*Tariff, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidTariff)
	}
	version := def.Version
	if version == 0 {
		version = 1
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidTariff)
	}
	currency := strings.ToUpper(strings.TrimSpace(def.Currency))
	if !validCurrency(currency) {
		return nil, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidTariff, def.Currency)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(def.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTariff, tz, err)
		}
		loc = l
	}

	if def.ValidFrom != nil && def.ValidUntil != nil && !def.ValidFrom.Before(*def.ValidUntil) {
		return nil, fmt.Errorf("%w: valid_from must be before valid_until", ErrInvalidTariff)
	}

	components := make([]PriceComponent, 0, len(def.Components))
	for i, cd := range def.Components {
		c, err := cd.build()
		if err != nil {
			return nil, fmt.Errorf("component #%d: %w", i, err)
		}
		components = append(components, c)
	}
	if err := checkConflicts(components); err != nil {
		return nil, err
	}

	t := &Tariff{
		ref:        Ref{ID: id, Version: version},
		currency:   currency,
		location:   loc,
		components: components,
	}
	if def.ValidFrom != nil {
		from := def.ValidFrom.UTC()
		t.validFrom = &from
	}
	if def.ValidUntil != nil {
		until := def.ValidUntil.UTC()
		t.validUntil = &until
	}
	t.def = def.normalized(t)
	return t, nil
}

// checkConflicts enforces at most one default per kind and no overlapping
// restricted windows within a kind.
func checkConflicts(components []PriceComponent) error {
	for i := range components {
		for j := i + 1; j < len(components); j++ {
			a, b := components[i], components[j]
			if a.Kind != b.Kind {
				continue
			}
			switch {
			case a.Restriction == nil && b.Restriction == nil:
				return &ConflictError{Kind: a.Kind, First: i, Second: j, Reason: "two unrestricted components"}
			case a.Restriction != nil && b.Restriction != nil && a.Restriction.Overlaps(*b.Restriction):
				return &ConflictError{Kind: a.Kind, First: i, Second: j, Reason: "overlapping time restrictions"}
			}
		}
	}
	return nil
}

func (t *Tariff) Ref() Ref                { return t.ref }
func (t *Tariff) ID() string              { return t.ref.ID }
func (t *Tariff) Version() int            { return t.ref.Version }
func (t *Tariff) Currency() string        { return t.currency }
func (t *Tariff) Location() *time.Location { return t.location }

// Components returns a copy of the components in definition order.
func (t *Tariff) Components() []PriceComponent {
	out := make([]PriceComponent, len(t.components))
	copy(out, t.components)
	return out
}

// Definition returns the normalized definition the tariff was built from.
func (t *Tariff) Definition() Definition {
	return t.def.clone()
}

// ValidAt reports whether instant falls inside [valid_from, valid_until].
func (t *Tariff) ValidAt(instant time.Time) bool {
	if t.validFrom != nil && instant.Before(*t.validFrom) {
		return false
	}
	if t.validUntil != nil && instant.After(*t.validUntil) {
		return false
	}
	return true
}

// Resolve picks the component of kind that applies at instant. A restricted
// component whose window contains the instant wins over the default.
func (t *Tariff) Resolve(kind Kind, instant time.Time) (PriceComponent, bool) {
	local := instant.In(t.location)
	var (
		fallback    PriceComponent
		hasFallback bool
	)
	for _, c := range t.components {
		if c.Kind != kind {
			continue
		}
		if c.Restriction == nil {
			fallback, hasFallback = c, true
			continue
		}
		if c.Restriction.Contains(local) {
			return c, true
		}
	}
	return fallback, hasFallback
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
