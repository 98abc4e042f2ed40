package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = errors.New("ledger: wallet not found")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrInvalidPosting      = errors.New("ledger: invalid posting")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrLedgerStateConflict signals a second, different terminal transition.
	// It indicates a double-completion bug and is never retried.
	ErrLedgerStateConflict = errors.New("ledger: transaction state conflict")
)

// Type classifies a wallet transaction.
type Type string

const (
	TypeTopUp      Type = "TOPUP"
	TypePayment    Type = "PAYMENT"
	TypeRefund     Type = "REFUND"
	TypeAdjustment Type = "ADJUSTMENT"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Wallet is created once per owner and never deleted.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is one immutable ledger entry. Only Status and UpdatedAt change,
// and only once.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	WalletID  uuid.UUID       `json:"wallet_id"`
	Seq       int64           `json:"seq"`
	Type      Type            `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Reference string          `json:"reference,omitempty"`
	// RelatedID links a refund to the payment it reverses.
	RelatedID *uuid.UUID `json:"related_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Summary is derived from the log and never stored authoritatively.
type Summary struct {
	Balance   decimal.Decimal `json:"balance"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
}

// Fold replays the log. Pending debits reduce availability, pending credits do not raise it.
func Fold(txs []Transaction) Summary {
	s := Summary{Balance: decimal.Zero, Pending: decimal.Zero, Available: decimal.Zero}
	holds := decimal.Zero
	for _, tx := range txs {
		switch tx.Status {
		case StatusCompleted:
			s.Balance = s.Balance.Add(tx.Amount)
		case StatusPending:
			s.Pending = s.Pending.Add(tx.Amount)
			if tx.Amount.IsNegative() {
				holds = holds.Add(tx.Amount)
			}
		}
	}
	s.Available = s.Balance.Add(holds)
	return s
}

// Posting describes a transaction to append.
type Posting struct {
	Type      Type
	Amount    decimal.Decimal
	Reference string
	RelatedID *uuid.UUID
	Reason    string
	// Guard runs inside the wallet critical section with the current log. It may
	// reject the posting, or return an existing transaction to make the call idempotent.
	Guard func(history []Transaction) (*Transaction, error)
}

func (p Posting) validate() error {
	if p.Amount.IsZero() {
		return fmt.Errorf("%w: amount must not be zero", ErrInvalidPosting)
	}
	switch p.Type {
	case TypeTopUp, TypeRefund:
		if p.Amount.IsNegative() {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidPosting, p.Type)
		}
	case TypePayment:
		if p.Amount.IsPositive() {
			return fmt.Errorf("%w: PAYMENT amount must be negative", ErrInvalidPosting)
		}
	case TypeAdjustment:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPosting, p.Type)
	}
	return nil
}

// Receipt is the result of a ledger mutation.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Summary     Summary     `json:"summary"`
	// Replayed is true when the call matched an existing transaction and changed nothing.
	Replayed bool `json:"replayed"`
}

// InsufficientBalanceError reports a rejected debit. No transaction was recorded.
type InsufficientBalanceError struct {
	WalletID  uuid.UUID
	Available decimal.Decimal
	Amount    decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance on wallet %s: available %s, requested %s", e.WalletID, e.Available, e.Amount.Neg())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// StateConflictError reports an attempt to move a terminal transaction to another terminal state.
type StateConflictError struct {
	TransactionID uuid.UUID
	Current       Status
	Requested     Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("ledger: transaction %s is %s, cannot mark %s", e.TransactionID, e.Current, e.Requested)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrLedgerStateConflict
}
