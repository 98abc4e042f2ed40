package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	libdb "chargepay/backend/libs/db"
	"chargepay/backend/services/billing-service/internal/ledger"
)

// LedgerRepository persists wallets and their transaction logs in Postgres.
// Writers to one wallet are serialized with a transaction-scoped advisory lock.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository returns repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ ledger.Store = (*LedgerRepository)(nil)

// CreateWallet inserts the wallet or returns the owner's existing one.
func (r *LedgerRepository) CreateWallet(ctx context.Context, w ledger.Wallet) (ledger.Wallet, error) {
	const query = `
		INSERT INTO wallets (id, owner, currency, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, w.ID, w.Owner, w.Currency, w.CreatedAt); err != nil {
		return ledger.Wallet{}, err
	}
	return r.WalletByOwner(ctx, w.Owner)
}

// GetWallet loads wallet by id.
func (r *LedgerRepository) GetWallet(ctx context.Context, id uuid.UUID) (ledger.Wallet, error) {
	const query = `SELECT id, owner, currency, created_at FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRowContext(ctx, query, id), id.String())
}

// WalletByOwner loads wallet by owner.
func (r *LedgerRepository) WalletByOwner(ctx context.Context, owner string) (ledger.Wallet, error) {
	const query = `SELECT id, owner, currency, created_at FROM wallets WHERE owner = $1`
	return scanWallet(r.db.QueryRowContext(ctx, query, owner), "owner "+owner)
}

func scanWallet(row *sql.Row, key string) (ledger.Wallet, error) {
	var w ledger.Wallet
	if err := row.Scan(&w.ID, &w.Owner, &w.Currency, &w.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Wallet{}, fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, key)
		}
		return ledger.Wallet{}, err
	}
	return w, nil
}

// Within locks the wallet for the duration of a database transaction.
func (r *LedgerRepository) Within(ctx context.Context, walletID uuid.UUID, fn func(ledger.Log) error) error {
	return libdb.InTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, walletID.String()); err != nil {
			return fmt.Errorf("lock wallet %s: %w", walletID, err)
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, walletID)
		}
		return fn(&txLog{tx: tx, walletID: walletID})
	})
}

type txLog struct {
	tx       *sql.Tx
	walletID uuid.UUID
}

func (l *txLog) List(ctx context.Context) ([]ledger.Transaction, error) {
	const query = `
		SELECT id, wallet_id, seq, type, amount, status, reference, related_id, reason, created_at, updated_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY seq ASC
	`
	rows, err := l.tx.QueryContext(ctx, query, l.walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			t       ledger.Transaction
			related uuid.NullUUID
		)
		if err := rows.Scan(
			&t.ID,
			&t.WalletID,
			&t.Seq,
			&t.Type,
			&t.Amount,
			&t.Status,
			&t.Reference,
			&related,
			&t.Reason,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if related.Valid {
			id := related.UUID
			t.RelatedID = &id
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (l *txLog) Append(ctx context.Context, t *ledger.Transaction) error {
	const query = `
		INSERT INTO wallet_transactions (id, wallet_id, seq, type, amount, status, reference, related_id, reason, created_at, updated_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM wallet_transactions WHERE wallet_id = $2), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`
	var related uuid.NullUUID
	if t.RelatedID != nil {
		related = uuid.NullUUID{UUID: *t.RelatedID, Valid: true}
	}
	return l.tx.QueryRowContext(ctx, query,
		t.ID,
		l.walletID,
		string(t.Type),
		t.Amount,
		string(t.Status),
		t.Reference,
		related,
		t.Reason,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.Seq)
}

func (l *txLog) SetStatus(ctx context.Context, id uuid.UUID, status ledger.Status, at time.Time) error {
	const query = `
		UPDATE wallet_transactions
		SET status = $3,
		    updated_at = $4
		WHERE id = $1 AND wallet_id = $2 AND status = 'PENDING'
	`
	result, err := l.tx.ExecContext(ctx, query, id, l.walletID, string(status), at)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %s is no longer pending", ledger.ErrLedgerStateConflict, id)
	}
	return nil
}
