// Package journal persists terminal-local sales until they are acknowledged
// by the server. Records survive process restarts and power loss; a sale is
// removed only after the server has confirmed it.
package journal

import (
	"context"
	"errors"

	"dokonpos/internal/domain"
)

var (
	ErrNotFound = errors.New("journal record not found")
	ErrClosed   = errors.New("journal is closed")
)

// Journal is an append-only durable queue of local sales. Append assigns the
// LocalID; callers never supply one. Pending returns records in creation
// order, oldest first. MarkSynced, MarkFailed and Delete are idempotent:
// repeating them for an already-handled record is a no-op.
type Journal interface {
	Append(ctx context.Context, record domain.SaleRecord) (domain.SaleRecord, error)
	Pending(ctx context.Context) ([]domain.SaleRecord, error)
	Get(ctx context.Context, localID string) (domain.SaleRecord, error)
	MarkSynced(ctx context.Context, localID string) error
	MarkFailed(ctx context.Context, localID string) error
	Delete(ctx context.Context, localID string) error
	Close() error
}
