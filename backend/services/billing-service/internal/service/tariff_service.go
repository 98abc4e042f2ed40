package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	libconfig "chargepay/backend/libs/config"
	"chargepay/backend/services/billing-service/internal/tariff"
)

// TariffStore persists tariff snapshots.
type TariffStore interface {
	Save(ctx context.Context, t *tariff.Tariff) error
	Get(ctx context.Context, ref tariff.Ref) (*tariff.Tariff, error)
	Versions(ctx context.Context, id string) ([]int, error)
}

// TariffService registers snapshots and resolves refs. Snapshots never change,
// so every one read is kept in memory.
type TariffService struct {
	store  TariffStore
	cache  *tariff.MemoryCatalog
	logger *zap.Logger
}

// NewTariffService returns service instance.
func NewTariffService(store TariffStore, logger *zap.Logger) *TariffService {
	return &TariffService{
		store:  store,
		cache:  tariff.NewMemoryCatalog(),
		logger: logger,
	}
}

// Register validates the definition and stores it as an immutable snapshot.
func (s *TariffService) Register(ctx context.Context, def tariff.Definition) (*tariff.Tariff, error) {
	t, err := tariff.New(def)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, t); err != nil {
		return nil, err
	}
	if err := s.cache.Save(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("tariff snapshot registered",
		zap.String("tariff", t.Ref().String()),
		zap.String("currency", t.Currency()),
		zap.Int("components", len(t.Components())),
	)
	return t, nil
}

// Snapshot returns the tariff identified by ref.
func (s *TariffService) Snapshot(ctx context.Context, ref tariff.Ref) (*tariff.Tariff, error) {
	if t, err := s.cache.Get(ctx, ref); err == nil {
		return t, nil
	}
	t, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Save(ctx, t); err != nil && !errors.Is(err, tariff.ErrImmutable) {
		return nil, err
	}
	return t, nil
}

// Versions lists the registered versions of a tariff id.
func (s *TariffService) Versions(ctx context.Context, id string) ([]int, error) {
	versions, err := s.store.Versions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", tariff.ErrNotFound, id)
	}
	return versions, nil
}

type seedFile struct {
	Tariffs []tariff.Definition `yaml:"tariffs"`
}

// LoadSeedFile registers every tariff of a YAML seed file.
func (s *TariffService) LoadSeedFile(ctx context.Context, path string) (int, error) {
	var seed seedFile
	if err := libconfig.LoadFile(path, &seed); err != nil {
		return 0, err
	}
	for i, def := range seed.Tariffs {
		if _, err := s.Register(ctx, def); err != nil {
			return i, err
		}
	}
	return len(seed.Tariffs), nil
}
