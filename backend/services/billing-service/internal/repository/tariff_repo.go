package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chargepay/backend/services/billing-service/internal/tariff"
)

// TariffRepository stores insert-only tariff snapshots.
type TariffRepository struct {
	db *sql.DB
}

// NewTariffRepository returns repository.
func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// Save inserts the snapshot. Re-saving an identical snapshot is a no-op;
// a different definition under the same ref fails with tariff.ErrImmutable.
func (r *TariffRepository) Save(ctx context.Context, t *tariff.Tariff) error {
	payload, err := json.Marshal(t.Definition())
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO tariff_snapshots (id, version, currency, definition, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id, version) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, t.ID(), t.Version(), t.Currency(), payload)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	existing, err := r.Get(ctx, t.Ref())
	if err != nil {
		return err
	}
	if !existing.Equal(t) {
		return fmt.Errorf("%w: %s", tariff.ErrImmutable, t.Ref())
	}
	return nil
}

// Get loads and revalidates a snapshot.
func (r *TariffRepository) Get(ctx context.Context, ref tariff.Ref) (*tariff.Tariff, error) {
	const query = `
		SELECT definition
		FROM tariff_snapshots
		WHERE id = $1 AND version = $2
	`
	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, ref.ID, ref.Version).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", tariff.ErrNotFound, ref)
		}
		return nil, err
	}
	var def tariff.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return nil, fmt.Errorf("decode tariff %s: %w", ref, err)
	}
	return tariff.New(def)
}

// Versions lists the stored versions of a tariff id in ascending order.
func (r *TariffRepository) Versions(ctx context.Context, id string) ([]int, error) {
	const query = `
		SELECT version
		FROM tariff_snapshots
		WHERE id = $1
		ORDER BY version ASC
	`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return versions, nil
}
