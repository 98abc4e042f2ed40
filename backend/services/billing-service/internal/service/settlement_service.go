package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/metrics"
	"chargepay/backend/services/billing-service/internal/pricing"
	"chargepay/backend/services/billing-service/internal/session"
)

// SessionSource reads session facts recorded by the sessions service.
type SessionSource interface {
	GetByTransactionID(ctx context.Context, transactionID string) (session.ChargingSession, error)
	GetForOwner(ctx context.Context, transactionID, owner string) (session.ChargingSession, error)
}

// SettlementOptions tunes settlement behaviour.
type SettlementOptions struct {
	// AutoComplete confirms internal wallet payments immediately instead of
	// waiting for a gateway callback.
	AutoComplete bool
	Now          func() time.Time
}

// SettlementService turns priced sessions into wallet postings.
type SettlementService struct {
	tariffs  *TariffService
	wallets  *WalletService
	sessions SessionSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     SettlementOptions
}

// NewSettlementService builds service. sessions and m may be nil.
func NewSettlementService(tariffs *TariffService, wallets *WalletService, sessions SessionSource, m *metrics.Metrics, logger *zap.Logger, opts SettlementOptions) *SettlementService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SettlementService{
		tariffs:  tariffs,
		wallets:  wallets,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Settlement is the outcome of settling one session.
type Settlement struct {
	Breakdown pricing.ChargeBreakdown `json:"breakdown"`
	// Receipt is nil when the session priced to zero and nothing was posted.
	Receipt *ledger.Receipt `json:"receipt,omitempty"`
}

// Settle prices a terminated session and posts the PAYMENT. Settling the same
// transaction twice returns the existing payment.
func (s *SettlementService) Settle(ctx context.Context, walletID uuid.UUID, cs session.ChargingSession) (Settlement, error) {
	started := time.Now()
	result, err := s.settle(ctx, walletID, cs)
	switch {
	case err != nil:
		s.metrics.ObserveSettlement(metrics.ResultError, started)
	case result.Receipt != nil && result.Receipt.Replayed:
		s.metrics.ObserveSettlement(metrics.ResultReplay, started)
	default:
		s.metrics.ObserveSettlement(metrics.ResultSuccess, started)
	}
	return result, err
}

// SettleTransaction loads the session by transaction id and settles it.
func (s *SettlementService) SettleTransaction(ctx context.Context, walletID uuid.UUID, transactionID string) (Settlement, error) {
	if s.sessions == nil {
		return Settlement{}, &SettlementError{Stage: StageFacts, TransactionID: transactionID, Err: session.ErrNotFound}
	}
	cs, err := s.sessions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return Settlement{}, &SettlementError{Stage: StageFacts, TransactionID: transactionID, Err: err}
	}
	return s.Settle(ctx, walletID, cs)
}

func (s *SettlementService) settle(ctx context.Context, walletID uuid.UUID, cs session.ChargingSession) (Settlement, error) {
	fail := func(stage string, err error) (Settlement, error) {
		return Settlement{}, &SettlementError{Stage: stage, TransactionID: cs.TransactionID, Err: err}
	}
	if cs.TransactionID == "" {
		return fail(StageFacts, fmt.Errorf("%w: transaction id is required", session.ErrIncompleteSessionFacts))
	}

	facts, err := session.Extract(cs)
	if err != nil {
		return fail(StageFacts, err)
	}
	s.reportAnomalies(facts.Anomalies)

	t, err := s.tariffs.Snapshot(ctx, cs.TariffRef)
	if err != nil {
		return fail(StageTariff, err)
	}

	// Sessions are priced at their start instant against the snapshot they carry.
	breakdown, err := pricing.Compute(facts, t, cs.StartTime)
	if err != nil {
		return fail(StagePricing, err)
	}
	breakdown.RoamingRef = cs.RoamingRef

	w, err := s.wallets.Wallet(ctx, walletID)
	if err != nil {
		return fail(StageLedger, err)
	}
	if w.Currency != breakdown.Currency {
		return fail(StageLedger, fmt.Errorf("%w: tariff %s, wallet %s", ErrCurrencyMismatch, breakdown.Currency, w.Currency))
	}

	result := Settlement{Breakdown: breakdown}
	if breakdown.Total.IsZero() {
		s.logger.Info("session priced to zero, nothing posted",
			zap.String("transaction_id", cs.TransactionID),
			zap.String("tariff", breakdown.TariffRef.String()),
		)
		return result, nil
	}

	receipt, err := s.wallets.post(ctx, walletID, ledger.Posting{
		Type:      ledger.TypePayment,
		Amount:    breakdown.Total.Neg(),
		Reference: cs.TransactionID,
		Reason:    "charging session " + cs.TransactionID,
		Guard:     existingPayment(cs.TransactionID),
	})
	if err != nil {
		return fail(StageLedger, err)
	}
	if s.opts.AutoComplete && receipt.Transaction.Status == ledger.StatusPending {
		receipt, err = s.wallets.Complete(ctx, walletID, receipt.Transaction.ID)
		if err != nil {
			return fail(StageLedger, err)
		}
	}
	result.Receipt = &receipt

	s.logger.Info("session settled",
		zap.String("transaction_id", cs.TransactionID),
		zap.String("wallet_id", walletID.String()),
		zap.String("tariff", breakdown.TariffRef.String()),
		zap.String("total", breakdown.Total.String()),
		zap.String("currency", breakdown.Currency),
		zap.String("status", string(receipt.Transaction.Status)),
		zap.Bool("replayed", receipt.Replayed),
		zap.Bool("limit_exceeded", breakdown.LimitExceeded),
	)
	return result, nil
}

// existingPayment makes settlement idempotent per transaction id. A FAILED
// payment does not count, so the session can be settled again.
func existingPayment(transactionID string) func([]ledger.Transaction) (*ledger.Transaction, error) {
	return func(history []ledger.Transaction) (*ledger.Transaction, error) {
		for i := range history {
			tx := history[i]
			if tx.Type == ledger.TypePayment && tx.Reference == transactionID && tx.Status != ledger.StatusFailed {
				return &tx, nil
			}
		}
		return nil, nil
	}
}

func (s *SettlementService) reportAnomalies(anomalies []session.DataAnomaly) {
	for _, a := range anomalies {
		s.metrics.Anomaly(string(a.Kind))
		s.logger.Warn("session data anomaly",
			zap.String("transaction_id", a.TransactionID),
			zap.String("kind", string(a.Kind)),
			zap.Int64("meter_start_wh", a.MeterStartWh),
			zap.Int64("meter_stop_wh", a.MeterStopWh),
			zap.String("detail", a.Detail),
		)
	}
}

// Refund posts a REFUND against a completed payment. A nil amount refunds
// everything not refunded yet. The original payment is never modified.
func (s *SettlementService) Refund(ctx context.Context, walletID, paymentID uuid.UUID, amount *decimal.Decimal, reason string) (ledger.Receipt, error) {
	fail := func(err error) (ledger.Receipt, error) {
		return ledger.Receipt{}, &SettlementError{Stage: StageRefund, TransactionID: paymentID.String(), Err: err}
	}

	w, err := s.wallets.Wallet(ctx, walletID)
	if err != nil {
		return fail(err)
	}
	txs, err := s.wallets.ledger.Transactions(ctx, walletID)
	if err != nil {
		return fail(err)
	}
	remaining, err := refundable(txs, paymentID)
	if err != nil {
		return fail(err)
	}
	value := remaining
	if amount != nil {
		value = *amount
	}
	if err := checkAmount(value, w.Currency); err != nil {
		return fail(err)
	}

	related := paymentID
	receipt, err := s.wallets.post(ctx, walletID, ledger.Posting{
		Type:      ledger.TypeRefund,
		Amount:    value,
		Reference: referenceOf(txs, paymentID),
		RelatedID: &related,
		Reason:    reason,
		Guard: func(history []ledger.Transaction) (*ledger.Transaction, error) {
			left, err := refundable(history, paymentID)
			if err != nil {
				return nil, err
			}
			if value.GreaterThan(left) {
				return nil, fmt.Errorf("%w: requested %s, refundable %s", ErrRefundExceedsPayment, value, left)
			}
			return nil, nil
		},
	})
	if err != nil {
		return fail(err)
	}
	if s.opts.AutoComplete {
		receipt, err = s.wallets.Complete(ctx, walletID, receipt.Transaction.ID)
		if err != nil {
			return fail(err)
		}
	}
	s.logger.Info("payment refunded",
		zap.String("wallet_id", walletID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.String("refund_id", receipt.Transaction.ID.String()),
		zap.String("amount", value.String()),
		zap.String("reason", reason),
	)
	return receipt, nil
}

// refundable returns how much of a completed payment can still be refunded.
func refundable(history []ledger.Transaction, paymentID uuid.UUID) (decimal.Decimal, error) {
	var payment *ledger.Transaction
	refunded := decimal.Zero
	for i := range history {
		tx := history[i]
		if tx.ID == paymentID {
			payment = &history[i]
			continue
		}
		if tx.Type == ledger.TypeRefund && tx.RelatedID != nil && *tx.RelatedID == paymentID && tx.Status != ledger.StatusFailed {
			refunded = refunded.Add(tx.Amount)
		}
	}
	if payment == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, paymentID)
	}
	if payment.Type != ledger.TypePayment || payment.Status != ledger.StatusCompleted {
		return decimal.Zero, fmt.Errorf("%w: %s is %s %s", ErrNotRefundable, paymentID, payment.Status, payment.Type)
	}
	left := payment.Amount.Neg().Sub(refunded)
	if !left.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: payment %s is fully refunded", ErrRefundExceedsPayment, paymentID)
	}
	return left, nil
}

func referenceOf(history []ledger.Transaction, id uuid.UUID) string {
	for _, tx := range history {
		if tx.ID == id {
			return tx.Reference
		}
	}
	return ""
}

// Quote prices a session, active or not, as an advisory estimate. The result
// is never posted.
func (s *SettlementService) Quote(ctx context.Context, cs session.ChargingSession) (pricing.ChargeBreakdown, error) {
	b, err := s.quote(ctx, cs)
	if err != nil {
		s.metrics.Estimate(metrics.ResultError)
		return pricing.ChargeBreakdown{}, err
	}
	s.metrics.Estimate(metrics.ResultSuccess)
	return b, nil
}

// QuoteForOwner loads the owner's session and quotes it.
func (s *SettlementService) QuoteForOwner(ctx context.Context, transactionID, owner string) (pricing.ChargeBreakdown, error) {
	if s.sessions == nil {
		return pricing.ChargeBreakdown{}, session.ErrNotFound
	}
	cs, err := s.sessions.GetForOwner(ctx, transactionID, owner)
	if err != nil {
		return pricing.ChargeBreakdown{}, err
	}
	return s.Quote(ctx, cs)
}

func (s *SettlementService) quote(ctx context.Context, cs session.ChargingSession) (pricing.ChargeBreakdown, error) {
	facts, err := session.Estimate(cs, s.opts.Now())
	if err != nil {
		return pricing.ChargeBreakdown{}, err
	}
	t, err := s.tariffs.Snapshot(ctx, cs.TariffRef)
	if err != nil {
		return pricing.ChargeBreakdown{}, err
	}
	b, err := pricing.Estimate(facts, t, cs.StartTime)
	if err != nil {
		return pricing.ChargeBreakdown{}, err
	}
	b.RoamingRef = cs.RoamingRef
	if len(b.Anomalies) > 0 {
		s.logger.Warn("estimate carries data anomalies",
			zap.String("transaction_id", cs.TransactionID),
			zap.Int("count", len(b.Anomalies)),
		)
	}
	return b, nil
}
