// Package syncer drains the terminal journal into the shop server whenever
// connectivity allows, and keeps the terminal's view of connectivity current.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dokonpos/internal/domain"
	"dokonpos/internal/journal"
)

// ErrSyncBusy is returned when a sync pass is requested while another is
// still in flight. The caller is expected to drop the request; the running
// pass covers the same records.
var ErrSyncBusy = errors.New("sync already in progress")

// Ingestor is the server-side half of a sync pass.
type Ingestor interface {
	IngestBatch(ctx context.Context, req domain.BulkSaleRequest) (domain.BulkSaleResponse, error)
}

type Result struct {
	Attempted int
	Synced    int
	Failed    int
	Errors    []string
}

// Coordinator drains pending journal records into the server, oldest first.
// At most one pass runs at a time; overlapping requests get ErrSyncBusy
// instead of a second concurrent drain.
type Coordinator struct {
	journal journal.Journal
	ingest  Ingestor
	slot    chan struct{}
}

func NewCoordinator(j journal.Journal, ingest Ingestor) *Coordinator {
	return &Coordinator{
		journal: j,
		ingest:  ingest,
		slot:    make(chan struct{}, 1),
	}
}

// Sync pushes all pending records in one batch. A record is removed from the
// journal only after the server acknowledged it as synced or already_synced;
// anything else stays queued for the next pass.
func (c *Coordinator) Sync(ctx context.Context) (Result, error) {
	select {
	case c.slot <- struct{}{}:
	default:
		return Result{}, ErrSyncBusy
	}
	defer func() { <-c.slot }()

	pending, err := c.journal.Pending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read journal: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	req := domain.BulkSaleRequest{Sales: make([]domain.SaleSubmission, 0, len(pending))}
	for _, record := range pending {
		req.Sales = append(req.Sales, submissionFromRecord(record))
	}

	resp, err := c.ingest.IngestBatch(ctx, req)
	if err != nil {
		// Transport failure: nothing was acknowledged, every record stays
		// pending for the next pass.
		for _, record := range pending {
			if markErr := c.journal.MarkFailed(ctx, record.LocalID); markErr != nil {
				log.Printf("[syncer] WARN: mark failed %s: %v", record.LocalID, markErr)
			}
		}
		return Result{Attempted: len(pending), Failed: len(pending)}, err
	}

	result := Result{Attempted: len(pending)}
	outcomes := make(map[string]domain.SaleOutcome, len(resp.Outcomes))
	for _, outcome := range resp.Outcomes {
		outcomes[outcome.IdempotencyKey] = outcome
	}

	for _, record := range pending {
		outcome, ok := outcomes[record.LocalID]
		if !ok {
			result.Failed++
			if err := c.journal.MarkFailed(ctx, record.LocalID); err != nil {
				log.Printf("[syncer] WARN: mark failed %s: %v", record.LocalID, err)
			}
			continue
		}

		switch outcome.Status {
		case domain.OutcomeSynced, domain.OutcomeAlreadySynced:
			result.Synced++
			if err := c.journal.MarkSynced(ctx, record.LocalID); err != nil {
				log.Printf("[syncer] WARN: mark synced %s: %v", record.LocalID, err)
				continue
			}
			if err := c.journal.Delete(ctx, record.LocalID); err != nil {
				log.Printf("[syncer] WARN: delete synced record %s: %v", record.LocalID, err)
			}
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", record.LocalID, outcome.Reason))
			if err := c.journal.MarkFailed(ctx, record.LocalID); err != nil {
				log.Printf("[syncer] WARN: mark failed %s: %v", record.LocalID, err)
			}
		}
	}

	log.Printf("[syncer] sync pass done attempted=%d synced=%d failed=%d", result.Attempted, result.Synced, result.Failed)
	return result, nil
}

func submissionFromRecord(record domain.SaleRecord) domain.SaleSubmission {
	createdAt := record.CreatedAt
	return domain.SaleSubmission{
		IdempotencyKey: record.LocalID,
		Items:          record.Items,
		Total:          record.Total,
		PaymentMethod:  record.PaymentMethod,
		IsReturn:       record.IsReturn,
		Kind:           record.Kind,
		CustomerID:     record.CustomerID,
		CreatedAt:      &createdAt,
		Offline:        true,
	}
}
