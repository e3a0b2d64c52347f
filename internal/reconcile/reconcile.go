package reconcile

import (
	"context"
	"log"

	"dokonpos/internal/domain"
)

// ServerAPI is the slice of the shop server the reconciler needs.
type ServerAPI interface {
	StaffReceipts(ctx context.Context, status string) ([]domain.Receipt, error)
	UpdateReceiptItems(ctx context.Context, receiptID string, items []domain.ReceiptItem) (domain.Receipt, error)
}

type Result struct {
	Pushed  int
	Pulled  int
	Updated int
	Failed  int
}

// Reconciler brings the local staff receipt cache back in line with the
// server after a reconnect. Local pending edits are pushed first, then the
// server list is pulled; conflicts resolve last-writer-wins on UpdatedAt,
// overwriting the whole record.
type Reconciler struct {
	cache  *Cache
	server ServerAPI
}

func NewReconciler(cache *Cache, server ServerAPI) *Reconciler {
	return &Reconciler{cache: cache, server: server}
}

func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var result Result

	// Push local edits before pulling, so the server copy we pull back
	// already reflects them. A failed push leaves the edit dirty for the
	// next pass.
	dirty, err := r.cache.dirty()
	if err != nil {
		return result, err
	}
	for _, entry := range dirty {
		updated, err := r.server.UpdateReceiptItems(ctx, entry.Receipt.ID, entry.Receipt.Items)
		if err != nil {
			result.Failed++
			log.Printf("[reconcile] WARN: push edit %s failed: %v", entry.Receipt.ID, err)
			continue
		}
		result.Pushed++
		if err := r.cache.Put(ctx, updated); err != nil {
			log.Printf("[reconcile] WARN: store pushed receipt %s: %v", updated.ID, err)
		}
	}

	remote, err := r.server.StaffReceipts(ctx, "")
	if err != nil {
		return result, err
	}

	for _, receipt := range remote {
		local, err := r.cache.Get(ctx, receipt.ID)
		if err == ErrNotCached {
			if err := r.cache.Put(ctx, receipt); err != nil {
				result.Failed++
				log.Printf("[reconcile] WARN: cache receipt %s: %v", receipt.ID, err)
				continue
			}
			result.Pulled++
			continue
		}
		if err != nil {
			result.Failed++
			log.Printf("[reconcile] WARN: read cached receipt %s: %v", receipt.ID, err)
			continue
		}

		// Whole-record overwrite when the server copy is strictly newer.
		// Equal timestamps keep the local copy; a dirty local edit that lost
		// the timestamp race is discarded with the overwrite.
		if receipt.UpdatedAt.After(local.UpdatedAt) {
			if err := r.cache.Put(ctx, receipt); err != nil {
				result.Failed++
				log.Printf("[reconcile] WARN: update cached receipt %s: %v", receipt.ID, err)
				continue
			}
			result.Updated++
		}
	}

	log.Printf("[reconcile] pass done pushed=%d pulled=%d updated=%d failed=%d", result.Pushed, result.Pulled, result.Updated, result.Failed)
	return result, nil
}
