package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists wallets and their append-only logs.
type Store interface {
	// CreateWallet stores w unless the owner already has a wallet, in which case
	// the existing wallet is returned.
	CreateWallet(ctx context.Context, w Wallet) (Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error)
	WalletByOwner(ctx context.Context, owner string) (Wallet, error)
	// Within runs fn with exclusive access to the wallet's log. Writes made
	// through the Log are kept only if fn returns nil.
	Within(ctx context.Context, walletID uuid.UUID, fn func(Log) error) error
}

// Log is a wallet's transaction log inside a Store critical section.
type Log interface {
	// List returns transactions in replay order.
	List(ctx context.Context) ([]Transaction, error)
	// Append stores tx and assigns its sequence number.
	Append(ctx context.Context, tx *Transaction) error
	// SetStatus moves a PENDING transaction to a terminal status.
	SetStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
}

// Ledger applies posting rules on top of a Store.
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() uuid.UUID
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenWallet returns the owner's wallet, creating it on first use.
func (l *Ledger) OpenWallet(ctx context.Context, owner, currency string) (Wallet, error) {
	owner = strings.TrimSpace(owner)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if owner == "" {
		return Wallet{}, fmt.Errorf("%w: owner is required", ErrInvalidPosting)
	}
	if len(currency) != 3 {
		return Wallet{}, fmt.Errorf("%w: currency %q", ErrInvalidPosting, currency)
	}
	w, err := l.store.CreateWallet(ctx, Wallet{
		ID:        l.newID(),
		Owner:     owner,
		Currency:  currency,
		CreatedAt: l.now().UTC(),
	})
	if err != nil {
		return Wallet{}, err
	}
	if w.Currency != currency {
		return w, fmt.Errorf("%w: owner %s already holds a %s wallet", ErrInvalidPosting, owner, w.Currency)
	}
	return w, nil
}

func (l *Ledger) Wallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return l.store.GetWallet(ctx, id)
}

func (l *Ledger) WalletByOwner(ctx context.Context, owner string) (Wallet, error) {
	return l.store.WalletByOwner(ctx, owner)
}

// Post appends a PENDING transaction. A PAYMENT that would drive availability
// below zero fails with ErrInsufficientBalance and records nothing.
func (l *Ledger) Post(ctx context.Context, walletID uuid.UUID, p Posting) (Receipt, error) {
	if err := p.validate(); err != nil {
		return Receipt{}, err
	}
	var receipt Receipt
	err := l.store.Within(ctx, walletID, func(log Log) error {
		history, err := log.List(ctx)
		if err != nil {
			return err
		}
		if p.Guard != nil {
			existing, err := p.Guard(history)
			if err != nil {
				return err
			}
			if existing != nil {
				receipt = Receipt{Transaction: *existing, Summary: Fold(history), Replayed: true}
				return nil
			}
		}

		if p.Type == TypePayment {
			available := Fold(history).Available
			if available.Add(p.Amount).IsNegative() {
				return &InsufficientBalanceError{WalletID: walletID, Available: available, Amount: p.Amount}
			}
		}

		now := l.now().UTC()
		tx := Transaction{
			ID:        l.newID(),
			WalletID:  walletID,
			Type:      p.Type,
			Amount:    p.Amount,
			Status:    StatusPending,
			Reference: p.Reference,
			RelatedID: p.RelatedID,
			Reason:    p.Reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := log.Append(ctx, &tx); err != nil {
			return err
		}
		history = append(history, tx)
		receipt = Receipt{Transaction: tx, Summary: Fold(history)}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Complete marks a PENDING transaction COMPLETED.
func (l *Ledger) Complete(ctx context.Context, walletID, txID uuid.UUID) (Receipt, error) {
	return l.transition(ctx, walletID, txID, StatusCompleted)
}

// Fail marks a PENDING transaction FAILED.
func (l *Ledger) Fail(ctx context.Context, walletID, txID uuid.UUID) (Receipt, error) {
	return l.transition(ctx, walletID, txID, StatusFailed)
}

func (l *Ledger) transition(ctx context.Context, walletID, txID uuid.UUID, target Status) (Receipt, error) {
	var receipt Receipt
	err := l.store.Within(ctx, walletID, func(log Log) error {
		history, err := log.List(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(history, txID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}
		tx := history[idx]
		switch {
		case tx.Status == target:
			receipt = Receipt{Transaction: tx, Summary: Fold(history), Replayed: true}
			return nil
		case tx.Status.Terminal():
			return &StateConflictError{TransactionID: txID, Current: tx.Status, Requested: target}
		}

		now := l.now().UTC()
		if err := log.SetStatus(ctx, txID, target, now); err != nil {
			return err
		}
		tx.Status = target
		tx.UpdatedAt = now
		history[idx] = tx
		receipt = Receipt{Transaction: tx, Summary: Fold(history)}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Summary folds the wallet log.
func (l *Ledger) Summary(ctx context.Context, walletID uuid.UUID) (Summary, error) {
	txs, err := l.Transactions(ctx, walletID)
	if err != nil {
		return Summary{}, err
	}
	return Fold(txs), nil
}

// Transactions returns the wallet log in replay order.
func (l *Ledger) Transactions(ctx context.Context, walletID uuid.UUID) ([]Transaction, error) {
	var txs []Transaction
	err := l.store.Within(ctx, walletID, func(log Log) error {
		var err error
		txs, err = log.List(ctx)
		return err
	})
	return txs, err
}

// Transaction looks up one transaction of the wallet.
func (l *Ledger) Transaction(ctx context.Context, walletID, txID uuid.UUID) (Transaction, error) {
	txs, err := l.Transactions(ctx, walletID)
	if err != nil {
		return Transaction{}, err
	}
	if idx := indexOf(txs, txID); idx >= 0 {
		return txs[idx], nil
	}
	return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
}

func indexOf(txs []Transaction, id uuid.UUID) int {
	for i := range txs {
		if txs[i].ID == id {
			return i
		}
	}
	return -1
}

// IsNotFound reports whether err means a missing wallet or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound) || errors.Is(err, ErrTransactionNotFound)
}
