package service

import (
	"errors"
	"fmt"
)

var (
	// ErrCurrencyMismatch means the tariff and wallet currencies differ.
	ErrCurrencyMismatch = errors.New("settlement: tariff currency does not match wallet")
	// ErrRefundExceedsPayment means the refund is larger than what remains refundable.
	ErrRefundExceedsPayment = errors.New("settlement: refund exceeds refundable amount")
	// ErrNotRefundable means the original transaction is not a completed payment.
	ErrNotRefundable = errors.New("settlement: transaction is not a completed payment")
	// ErrInvalidAmount means an amount is non-positive or finer than the currency minor unit.
	ErrInvalidAmount = errors.New("billing: invalid amount")
)

// Settlement stages.
const (
	StageFacts   = "facts"
	StageTariff  = "tariff"
	StagePricing = "pricing"
	StageLedger  = "ledger"
	StageRefund  = "refund"
)

// SettlementError wraps any failure met while settling a session.
type SettlementError struct {
	Stage         string
	TransactionID string
	Err           error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s failed at %s: %v", e.TransactionID, e.Stage, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
