package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/export"
	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/metrics"
	"chargepay/backend/services/billing-service/internal/pricing"
	redisstore "chargepay/backend/services/billing-service/internal/redis"
)

// SummaryCache holds display projections of wallet summaries.
type SummaryCache interface {
	Get(ctx context.Context, walletID uuid.UUID) (*redisstore.CachedSummary, error)
	Generation(ctx context.Context, walletID uuid.UUID) (int64, error)
	Save(ctx context.Context, walletID uuid.UUID, generation int64, summary redisstore.CachedSummary) error
	Invalidate(ctx context.Context, walletID uuid.UUID) error
}

// WalletService exposes the ledger to handlers and gateway callbacks.
type WalletService struct {
	ledger  *ledger.Ledger
	cache   SummaryCache
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewWalletService builds service. cache and m may be nil.
func NewWalletService(l *ledger.Ledger, cache SummaryCache, m *metrics.Metrics, logger *zap.Logger) *WalletService {
	return &WalletService{
		ledger:  l,
		cache:   cache,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// OpenWallet returns the owner's wallet, creating it on first use.
func (s *WalletService) OpenWallet(ctx context.Context, owner, currency string) (ledger.Wallet, error) {
	w, err := s.ledger.OpenWallet(ctx, owner, currency)
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet opened", zap.String("wallet_id", w.ID.String()), zap.String("owner", w.Owner))
	return w, nil
}

func (s *WalletService) Wallet(ctx context.Context, walletID uuid.UUID) (ledger.Wallet, error) {
	return s.ledger.Wallet(ctx, walletID)
}

func (s *WalletService) WalletForOwner(ctx context.Context, owner string) (ledger.Wallet, error) {
	return s.ledger.WalletByOwner(ctx, owner)
}

// TopUp records a PENDING credit awaiting gateway confirmation.
func (s *WalletService) TopUp(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, reference string) (ledger.Receipt, error) {
	w, err := s.ledger.Wallet(ctx, walletID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := checkAmount(amount, w.Currency); err != nil {
		return ledger.Receipt{}, err
	}
	return s.post(ctx, walletID, ledger.Posting{
		Type:      ledger.TypeTopUp,
		Amount:    amount,
		Reference: reference,
	})
}

// Complete confirms a PENDING transaction.
func (s *WalletService) Complete(ctx context.Context, walletID, txID uuid.UUID) (ledger.Receipt, error) {
	return s.finish(ctx, walletID, txID, ledger.StatusCompleted)
}

// Fail rejects a PENDING transaction.
func (s *WalletService) Fail(ctx context.Context, walletID, txID uuid.UUID) (ledger.Receipt, error) {
	return s.finish(ctx, walletID, txID, ledger.StatusFailed)
}

func (s *WalletService) finish(ctx context.Context, walletID, txID uuid.UUID, status ledger.Status) (ledger.Receipt, error) {
	var (
		r   ledger.Receipt
		err error
	)
	if status == ledger.StatusCompleted {
		r, err = s.ledger.Complete(ctx, walletID, txID)
	} else {
		r, err = s.ledger.Fail(ctx, walletID, txID)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerStateConflict) {
			s.metrics.StateConflict()
			s.logger.Error("ledger state conflict",
				zap.String("wallet_id", walletID.String()),
				zap.String("transaction_id", txID.String()),
				zap.String("requested", string(status)),
				zap.Error(err),
			)
		}
		return ledger.Receipt{}, err
	}
	if !r.Replayed {
		s.invalidate(ctx, walletID)
		s.logger.Info("ledger transaction finished",
			zap.String("wallet_id", walletID.String()),
			zap.String("transaction_id", txID.String()),
			zap.String("status", string(r.Transaction.Status)),
		)
	}
	return r, nil
}

// post appends a transaction and keeps metrics and the display cache in step.
func (s *WalletService) post(ctx context.Context, walletID uuid.UUID, p ledger.Posting) (ledger.Receipt, error) {
	r, err := s.ledger.Post(ctx, walletID, p)
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		s.metrics.Posting(string(p.Type), metrics.ResultDenied)
		s.logger.Info("posting rejected: insufficient balance",
			zap.String("wallet_id", walletID.String()),
			zap.String("type", string(p.Type)),
			zap.String("amount", p.Amount.String()),
		)
		return ledger.Receipt{}, err
	case err != nil:
		s.metrics.Posting(string(p.Type), metrics.ResultError)
		return ledger.Receipt{}, err
	case r.Replayed:
		s.metrics.Posting(string(p.Type), metrics.ResultReplay)
		return r, nil
	}
	s.metrics.Posting(string(p.Type), metrics.ResultSuccess)
	s.invalidate(ctx, walletID)
	return r, nil
}

func (s *WalletService) invalidate(ctx context.Context, walletID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, walletID); err != nil {
		s.logger.Warn("failed to invalidate wallet summary", zap.String("wallet_id", walletID.String()), zap.Error(err))
	}
}

// WalletView is what owners see for their wallet.
type WalletView struct {
	Wallet  ledger.Wallet  `json:"wallet"`
	Summary ledger.Summary `json:"summary"`
	LastSeq int64          `json:"last_seq"`
	Cached  bool           `json:"cached"`
}

// View returns the wallet with its summary, served from the display cache when possible.
func (s *WalletService) View(ctx context.Context, walletID uuid.UUID) (WalletView, error) {
	w, err := s.ledger.Wallet(ctx, walletID)
	if err != nil {
		return WalletView{}, err
	}
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, walletID); err == nil {
			return WalletView{Wallet: w, Summary: cached.Summary, LastSeq: cached.LastSeq, Cached: true}, nil
		} else if !errors.Is(err, redisstore.ErrMiss) {
			s.logger.Warn("wallet summary cache read failed", zap.String("wallet_id", walletID.String()), zap.Error(err))
		}
	}

	// The generation is read before the log so a mutation racing this fold
	// makes the Save below fail instead of caching an old summary.
	generation, cacheable := int64(0), s.cache != nil
	if cacheable {
		if generation, err = s.cache.Generation(ctx, walletID); err != nil {
			s.logger.Warn("wallet summary generation read failed", zap.String("wallet_id", walletID.String()), zap.Error(err))
			cacheable = false
		}
	}

	txs, err := s.ledger.Transactions(ctx, walletID)
	if err != nil {
		return WalletView{}, err
	}
	view := WalletView{Wallet: w, Summary: ledger.Fold(txs)}
	if n := len(txs); n > 0 {
		view.LastSeq = txs[n-1].Seq
	}
	if cacheable {
		projection := redisstore.CachedSummary{
			Summary:     view.Summary,
			Currency:    w.Currency,
			LastSeq:     view.LastSeq,
			ProjectedAt: s.now().UTC(),
		}
		err := s.cache.Save(ctx, walletID, generation, projection)
		if errors.Is(err, redisstore.ErrStale) {
			s.logger.Debug("wallet changed during fold, projection not cached", zap.String("wallet_id", walletID.String()))
		} else if err != nil {
			s.logger.Warn("wallet summary cache write failed", zap.String("wallet_id", walletID.String()), zap.Error(err))
		}
	}
	return view, nil
}

// Summary folds the log; it never reads the display cache.
func (s *WalletService) Summary(ctx context.Context, walletID uuid.UUID) (ledger.Summary, error) {
	return s.ledger.Summary(ctx, walletID)
}

// Transactions returns the wallet log, newest first, at most limit entries (0 means all).
func (s *WalletService) Transactions(ctx context.Context, walletID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	txs, err := s.ledger.Transactions(ctx, walletID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		out = append(out, txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Statement renders the full wallet log.
func (s *WalletService) Statement(ctx context.Context, walletID uuid.UUID, format export.Format) ([]byte, error) {
	w, err := s.ledger.Wallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.Transactions(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return export.Render(format, export.Statement{
		Wallet:       w,
		Summary:      ledger.Fold(txs),
		Transactions: txs,
		GeneratedAt:  s.now().UTC(),
	})
}

func checkAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if !pricing.Round(amount, currency).Equal(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, amount, pricing.MinorUnits(currency), currency)
	}
	return nil
}
