package cache

import (
	"context"
	"time"

	"dokonpos/internal/domain"
)

// OutcomeCache is a fast-path lookup of already-ingested idempotency keys.
// It only ever short-circuits the happy already_synced path; the store's
// unique offline-id index remains the authority, so a stale or unavailable
// cache can never cause a duplicate receipt.
type OutcomeCache interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.SaleOutcome, bool, error)
	Set(ctx context.Context, idempotencyKey string, outcome *domain.SaleOutcome, ttl time.Duration) error
}

type NoopOutcomeCache struct{}

func (NoopOutcomeCache) Get(_ context.Context, _ string) (*domain.SaleOutcome, bool, error) {
	return nil, false, nil
}

func (NoopOutcomeCache) Set(_ context.Context, _ string, _ *domain.SaleOutcome, _ time.Duration) error {
	return nil
}
