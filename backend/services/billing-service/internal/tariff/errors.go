package tariff

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTariff is returned when a definition fails validation.
	ErrInvalidTariff = errors.New("tariff: invalid definition")
	// ErrTariffConflict is returned when two components of one kind would both apply.
	ErrTariffConflict = errors.New("tariff: conflicting price components")
)

// ConflictError names the two components that compete for the same instant.
type ConflictError struct {
	Kind   Kind
	First  int
	Second int
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tariff: conflicting %s components #%d and #%d: %s", e.Kind, e.First, e.Second, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrTariffConflict
}
