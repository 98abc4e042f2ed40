package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/billing-service/internal/session"
	"chargepay/backend/services/billing-service/internal/tariff"
)

// SessionRepository reads charging session facts owned by the sessions service.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	transaction_id, connector_id, start_time, end_time, charging_completed_at,
	COALESCE(meter_start_wh, 0), meter_stop_wh, last_meter_wh,
	COALESCE(id_tag, ''), COALESCE(auth_method, ''), limit_value, COALESCE(limit_type, ''),
	COALESCE(tariff_id, ''), COALESCE(tariff_version, 0), COALESCE(roaming_ref, '')
`

// GetByTransactionID returns the session for a transaction id.
func (r *SessionRepository) GetByTransactionID(ctx context.Context, transactionID string) (session.ChargingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE transaction_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, transactionID), transactionID)
}

// GetForOwner returns the session only if it belongs to the given user.
func (r *SessionRepository) GetForOwner(ctx context.Context, transactionID, owner string) (session.ChargingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE transaction_id = $1 AND user_id::text = $2`
	return scanSession(r.db.QueryRowContext(ctx, query, transactionID, owner), transactionID)
}

func scanSession(row *sql.Row, transactionID string) (session.ChargingSession, error) {
	var (
		s         session.ChargingSession
		end       sql.NullTime
		completed sql.NullTime
		stop      sql.NullInt64
		last      sql.NullInt64
		limit     decimal.NullDecimal
		limitType string
		ref       tariff.Ref
	)
	err := row.Scan(
		&s.TransactionID,
		&s.ConnectorID,
		&s.StartTime,
		&end,
		&completed,
		&s.MeterStartWh,
		&stop,
		&last,
		&s.IDTag,
		&s.AuthMethod,
		&limit,
		&limitType,
		&ref.ID,
		&ref.Version,
		&s.RoamingRef,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.ChargingSession{}, fmt.Errorf("%w: %s", session.ErrNotFound, transactionID)
		}
		return session.ChargingSession{}, err
	}
	if end.Valid {
		s.EndTime = &end.Time
	}
	if completed.Valid {
		s.ChargingCompletedAt = &completed.Time
	}
	if stop.Valid {
		s.MeterStopWh = &stop.Int64
	}
	if last.Valid {
		s.LastMeterWh = &last.Int64
	}
	if limit.Valid {
		s.Limit = &limit.Decimal
		s.LimitType = session.LimitType(limitType)
	}
	s.TariffRef = ref
	return s, nil
}
