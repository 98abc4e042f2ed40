package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps wallets in process memory with one mutex per wallet.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]Wallet
	owners  map[string]uuid.UUID
	logs    map[uuid.UUID][]Transaction
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[uuid.UUID]Wallet),
		owners:  make(map[string]uuid.UUID),
		logs:    make(map[uuid.UUID][]Transaction),
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, w Wallet) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.owners[w.Owner]; ok {
		return s.wallets[id], nil
	}
	s.wallets[w.ID] = w
	s.owners[w.Owner] = w.ID
	s.locks[w.ID] = &sync.Mutex{}
	return w, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id uuid.UUID) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	return w, nil
}

func (s *MemoryStore) WalletByOwner(_ context.Context, owner string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[owner]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: owner %s", ErrWalletNotFound, owner)
	}
	return s.wallets[id], nil
}

func (s *MemoryStore) Within(ctx context.Context, walletID uuid.UUID, fn func(Log) error) error {
	s.mu.RLock()
	lock, ok := s.locks[walletID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}

	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := &memoryLog{txs: append([]Transaction(nil), s.logs[walletID]...)}
	s.mu.RUnlock()

	if err := fn(staged); err != nil {
		return err
	}

	s.mu.Lock()
	s.logs[walletID] = staged.txs
	s.mu.Unlock()
	return nil
}

type memoryLog struct {
	txs []Transaction
}

func (l *memoryLog) List(context.Context) ([]Transaction, error) {
	return append([]Transaction(nil), l.txs...), nil
}

func (l *memoryLog) Append(_ context.Context, tx *Transaction) error {
	tx.Seq = int64(len(l.txs)) + 1
	l.txs = append(l.txs, *tx)
	return nil
}

func (l *memoryLog) SetStatus(_ context.Context, id uuid.UUID, status Status, at time.Time) error {
	idx := indexOf(l.txs, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if l.txs[idx].Status != StatusPending {
		return &StateConflictError{TransactionID: id, Current: l.txs[idx].Status, Requested: status}
	}
	l.txs[idx].Status = status
	l.txs[idx].UpdatedAt = at
	return nil
}
