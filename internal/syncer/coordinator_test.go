package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dokonpos/internal/domain"
	"dokonpos/internal/journal"
)

// fakeIngestor scripts server behavior per idempotency key and records the
// order submissions arrive in.
type fakeIngestor struct {
	mu       sync.Mutex
	calls    int
	received [][]string
	fail     map[string]string
	seen     map[string]bool
	err      error
	block    chan struct{}
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{
		fail: make(map[string]string),
		seen: make(map[string]bool),
	}
}

func (f *fakeIngestor) IngestBatch(_ context.Context, req domain.BulkSaleRequest) (domain.BulkSaleResponse, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.err != nil {
		return domain.BulkSaleResponse{}, f.err
	}

	var keys []string
	resp := domain.BulkSaleResponse{}
	for _, sub := range req.Sales {
		keys = append(keys, sub.IdempotencyKey)
		if reason, ok := f.fail[sub.IdempotencyKey]; ok {
			resp.Failed++
			resp.Outcomes = append(resp.Outcomes, domain.SaleOutcome{
				IdempotencyKey: sub.IdempotencyKey,
				Status:         domain.OutcomeError,
				Reason:         reason,
			})
			continue
		}
		status := domain.OutcomeSynced
		if f.seen[sub.IdempotencyKey] {
			status = domain.OutcomeAlreadySynced
		}
		f.seen[sub.IdempotencyKey] = true
		resp.Synced++
		resp.Outcomes = append(resp.Outcomes, domain.SaleOutcome{
			IdempotencyKey: sub.IdempotencyKey,
			Status:         status,
			ReceiptID:      "rcpt-" + sub.IdempotencyKey,
		})
	}
	f.received = append(f.received, keys)
	return resp, nil
}

func appendSale(t *testing.T, j journal.Journal, name string) domain.SaleRecord {
	t.Helper()
	record, err := j.Append(context.Background(), domain.SaleRecord{
		Items: []domain.ReceiptItem{{ProductID: "prod-1", Name: name, Price: 4000, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("append %s: %v", name, err)
	}
	return record
}

func TestSyncDrainsJournalOldestFirst(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	coordinator := NewCoordinator(j, ingest)

	first := appendSale(t, j, "first")
	second := appendSale(t, j, "second")
	third := appendSale(t, j, "third")

	result, err := coordinator.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Attempted != 3 || result.Synced != 3 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	want := []string{first.LocalID, second.LocalID, third.LocalID}
	got := ingest.received[0]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	pending, err := j.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected drained journal, got %d pending", len(pending))
	}
}

func TestSyncKeepsRejectedRecordsQueued(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	coordinator := NewCoordinator(j, ingest)

	good := appendSale(t, j, "good")
	bad := appendSale(t, j, "bad")
	ingest.fail[bad.LocalID] = "invalid receipt: line item bad has quantity 0"

	result, err := coordinator.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 synced / 1 failed, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error detail, got %v", result.Errors)
	}

	pending, err := j.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].LocalID != bad.LocalID {
		t.Fatalf("expected only the rejected record queued, got %+v", pending)
	}
	if pending[0].SyncStatus != domain.SyncStatusFailed {
		t.Fatalf("expected failed status, got %s", pending[0].SyncStatus)
	}

	if _, err := j.Get(context.Background(), good.LocalID); err != journal.ErrNotFound {
		t.Fatalf("expected acknowledged record removed, got %v", err)
	}
}

func TestSyncTransportFailureLeavesEverythingQueued(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	ingest.err = errors.New("connection refused")
	coordinator := NewCoordinator(j, ingest)

	appendSale(t, j, "first")
	appendSale(t, j, "second")

	result, err := coordinator.Sync(context.Background())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if result.Failed != 2 {
		t.Fatalf("expected 2 failed, got %+v", result)
	}

	pending, pendErr := j.Pending(context.Background())
	if pendErr != nil {
		t.Fatalf("pending: %v", pendErr)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both records queued, got %d", len(pending))
	}
}

func TestSyncRetryAfterFailureConverges(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	coordinator := NewCoordinator(j, ingest)

	ingest.err = errors.New("connection refused")
	appendSale(t, j, "sale")

	if _, err := coordinator.Sync(context.Background()); err == nil {
		t.Fatalf("expected first pass to fail")
	}

	ingest.mu.Lock()
	ingest.err = nil
	ingest.mu.Unlock()

	result, err := coordinator.Sync(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected 1 synced on retry, got %+v", result)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	ingest.block = make(chan struct{})
	coordinator := NewCoordinator(j, ingest)

	appendSale(t, j, "sale")

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := coordinator.Sync(context.Background())
		done <- err
	}()
	<-started
	// Give the first pass time to take the slot before contending.
	time.Sleep(20 * time.Millisecond)

	if _, err := coordinator.Sync(context.Background()); !errors.Is(err, ErrSyncBusy) {
		t.Fatalf("expected ErrSyncBusy, got %v", err)
	}

	close(ingest.block)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// Slot released: a fresh pass runs again.
	if _, err := coordinator.Sync(context.Background()); err != nil {
		t.Fatalf("pass after release failed: %v", err)
	}
}

func TestSyncEmptyJournalIsNoop(t *testing.T) {
	j := journal.NewMemory()
	ingest := newFakeIngestor()
	coordinator := NewCoordinator(j, ingest)

	result, err := coordinator.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Attempted != 0 {
		t.Fatalf("expected no attempts, got %+v", result)
	}
	if ingest.calls != 0 {
		t.Fatalf("expected no server call for empty journal, got %d", ingest.calls)
	}
}
