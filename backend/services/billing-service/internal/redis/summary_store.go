package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chargepay/backend/services/billing-service/internal/ledger"
)

var (
	// ErrMiss is returned when no projection is cached.
	ErrMiss = errors.New("redisstore: cache miss")
	// ErrStale is returned by Save when the wallet was mutated after the
	// generation was read.
	ErrStale = errors.New("redisstore: stale projection")
)

// CachedSummary is a display projection of a wallet log. It is never used for
// balance checks; the ledger always refolds the log.
type CachedSummary struct {
	ledger.Summary
	Currency    string    `json:"currency"`
	LastSeq     int64     `json:"last_seq"`
	ProjectedAt time.Time `json:"projected_at"`
}

// SummaryStore caches wallet summaries.
type SummaryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryStore returns redis-backed store.
func NewSummaryStore(client *redis.Client, ttl time.Duration) *SummaryStore {
	return &SummaryStore{client: client, ttl: ttl}
}

func (s *SummaryStore) key(walletID uuid.UUID) string {
	return fmt.Sprintf("wallets:summary:%s", walletID)
}

// The generation key has no TTL: an expired counter would restart at zero and
// let an old projection through.
func (s *SummaryStore) generationKey(walletID uuid.UUID) string {
	return fmt.Sprintf("wallets:summary:%s:gen", walletID)
}

// Generation returns the wallet's invalidation counter. Read it before folding
// the log and pass it to Save.
func (s *SummaryStore) Generation(ctx context.Context, walletID uuid.UUID) (int64, error) {
	gen, err := s.client.Get(ctx, s.generationKey(walletID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Save caches the projection only if no Invalidate ran since generation was
// read; otherwise it returns ErrStale and leaves the cache empty.
func (s *SummaryStore) Save(ctx context.Context, walletID uuid.UUID, generation int64, summary CachedSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	genKey := s.generationKey(walletID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key(walletID), data, s.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	return err
}

// Get returns the cached projection or ErrMiss.
func (s *SummaryStore) Get(ctx context.Context, walletID uuid.UUID) (*CachedSummary, error) {
	result, err := s.client.Get(ctx, s.key(walletID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var summary CachedSummary
	if err := json.Unmarshal([]byte(result), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Invalidate drops the projection after a ledger mutation and bumps the
// generation so in-flight Saves of older folds are rejected.
func (s *SummaryStore) Invalidate(ctx context.Context, walletID uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.generationKey(walletID))
		pipe.Del(ctx, s.key(walletID))
		return nil
	})
	return err
}
