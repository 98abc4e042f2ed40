package tariff

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Definition is the wire and storage shape of a tariff as the pricing authority
// supplies it. It is validated by New.
type Definition struct {
	ID         string                `json:"id" yaml:"id"`
	Version    int                   `json:"version" yaml:"version"`
	Currency   string                `json:"currency" yaml:"currency"`
	Timezone   string                `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	ValidFrom  *time.Time            `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil *time.Time            `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	Components []ComponentDefinition `json:"components" yaml:"components"`
}

// ComponentDefinition describes one price component.
type ComponentDefinition struct {
	Type        Kind                   `json:"type" yaml:"type"`
	Price       decimal.Decimal        `json:"price" yaml:"price"`
	StepSize    decimal.Decimal        `json:"step_size" yaml:"step_size"`
	VATPercent  *decimal.Decimal       `json:"vat,omitempty" yaml:"vat,omitempty"`
	Restriction *RestrictionDefinition `json:"restriction,omitempty" yaml:"restriction,omitempty"`
}

// RestrictionDefinition is a time-of-day window on selected weekdays.
type RestrictionDefinition struct {
	StartTime  string   `json:"start_time" yaml:"start_time"`
	EndTime    string   `json:"end_time" yaml:"end_time"`
	DaysOfWeek []string `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
}

func (cd ComponentDefinition) build() (PriceComponent, error) {
	if !cd.Type.Valid() {
		return PriceComponent{}, fmt.Errorf("%w: component type is required", ErrInvalidTariff)
	}
	if cd.Price.IsNegative() {
		return PriceComponent{}, fmt.Errorf("%w: %s price must not be negative", ErrInvalidTariff, cd.Type)
	}
	c := PriceComponent{Kind: cd.Type, UnitPrice: cd.Price}
	if cd.Type.Stepped() {
		if !cd.StepSize.IsPositive() {
			return PriceComponent{}, fmt.Errorf("%w: %s step_size must be positive", ErrInvalidTariff, cd.Type)
		}
		c.StepSize = cd.StepSize
	}
	if cd.VATPercent != nil {
		if cd.VATPercent.IsNegative() {
			return PriceComponent{}, fmt.Errorf("%w: %s vat must not be negative", ErrInvalidTariff, cd.Type)
		}
		vat := *cd.VATPercent
		c.VATPercent = &vat
	}
	if cd.Restriction != nil {
		r, err := cd.Restriction.build()
		if err != nil {
			return PriceComponent{}, err
		}
		c.Restriction = &r
	}
	return c, nil
}

func (rd RestrictionDefinition) build() (TimeRestriction, error) {
	start, err := ParseTimeOfDay(rd.StartTime)
	if err != nil {
		return TimeRestriction{}, err
	}
	end, err := ParseTimeOfDay(rd.EndTime)
	if err != nil {
		return TimeRestriction{}, err
	}
	days := make([]time.Weekday, 0, len(rd.DaysOfWeek))
	for _, name := range rd.DaysOfWeek {
		d, err := parseWeekday(name)
		if err != nil {
			return TimeRestriction{}, err
		}
		days = append(days, d)
	}
	return NewTimeRestriction(start, end, days...), nil
}

// normalized fills the defaults New applied so stored snapshots compare equal.
func (d Definition) normalized(t *Tariff) Definition {
	out := d.clone()
	out.ID = t.ref.ID
	out.Version = t.ref.Version
	out.Currency = t.currency
	out.Timezone = t.location.String()
	if t.validFrom != nil {
		from := *t.validFrom
		out.ValidFrom = &from
	}
	if t.validUntil != nil {
		until := *t.validUntil
		out.ValidUntil = &until
	}
	for i, c := range t.components {
		if !c.Kind.Stepped() {
			out.Components[i].StepSize = decimal.Zero
		}
		if c.Restriction == nil {
			continue
		}
		r := RestrictionDefinition{
			StartTime: c.Restriction.Start.String(),
			EndTime:   c.Restriction.End.String(),
		}
		if days := c.Restriction.Days(); len(days) < 7 {
			for _, day := range days {
				r.DaysOfWeek = append(r.DaysOfWeek, strings.ToUpper(day.String()))
			}
		}
		out.Components[i].Restriction = &r
	}
	return out
}

func (d Definition) clone() Definition {
	out := d
	out.Components = make([]ComponentDefinition, len(d.Components))
	for i, c := range d.Components {
		if c.VATPercent != nil {
			vat := *c.VATPercent
			c.VATPercent = &vat
		}
		if c.Restriction != nil {
			r := *c.Restriction
			r.DaysOfWeek = append([]string(nil), c.Restriction.DaysOfWeek...)
			c.Restriction = &r
		}
		out.Components[i] = c
	}
	if d.ValidFrom != nil {
		from := *d.ValidFrom
		out.ValidFrom = &from
	}
	if d.ValidUntil != nil {
		until := *d.ValidUntil
		out.ValidUntil = &until
	}
	return out
}
