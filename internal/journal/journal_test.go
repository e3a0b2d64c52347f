package journal

import (
	"context"
	"fmt"
	"testing"

	"dokonpos/internal/domain"
)

func openTestJournal(t *testing.T) *BadgerJournal {
	t.Helper()
	j, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func testRecord(name string, qty int) domain.SaleRecord {
	return domain.SaleRecord{
		Items:         []domain.ReceiptItem{{ProductID: "prod-1", Name: name, Price: 4000, Quantity: qty}},
		PaymentMethod: domain.PaymentCash,
	}
}

func TestAppendAssignsLocalIDAndTotal(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	record, err := j.Append(ctx, testRecord("Non", 3))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if record.LocalID == "" {
		t.Fatalf("expected an assigned local id")
	}
	if record.SyncStatus != domain.SyncStatusPending {
		t.Fatalf("expected pending, got %s", record.SyncStatus)
	}
	if record.Total != 12000 {
		t.Fatalf("expected computed total 12000, got %d", record.Total)
	}
	if record.CreatedAt.IsZero() {
		t.Fatalf("expected a creation timestamp")
	}
}

func TestPendingPreservesCreationOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 25; i++ {
		record, err := j.Append(ctx, testRecord(fmt.Sprintf("sale-%d", i), 1))
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		ids = append(ids, record.LocalID)
	}

	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != len(ids) {
		t.Fatalf("expected %d pending records, got %d", len(ids), len(pending))
	}
	for i, record := range pending {
		if record.LocalID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], record.LocalID)
		}
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	first, err := j.Append(ctx, testRecord("Non", 2))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	second, err := j.Append(ctx, testRecord("Sut", 1))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	pending, err := reopened.Pending(ctx)
	if err != nil {
		t.Fatalf("pending after reopen: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(pending))
	}
	if pending[0].LocalID != first.LocalID || pending[1].LocalID != second.LocalID {
		t.Fatalf("order lost across reopen")
	}
}

func TestMarkSyncedRemovesFromPending(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	record, err := j.Append(ctx, testRecord("Non", 1))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := j.MarkSynced(ctx, record.LocalID); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}
	// Idempotent: repeating the ack must not fail.
	if err := j.MarkSynced(ctx, record.LocalID); err != nil {
		t.Fatalf("second mark synced failed: %v", err)
	}

	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending records, got %d", len(pending))
	}
}

func TestFailedRecordsStayPending(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	record, err := j.Append(ctx, testRecord("Non", 1))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := j.MarkFailed(ctx, record.LocalID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected failed record to remain queued, got %d records", len(pending))
	}
	if pending[0].SyncStatus != domain.SyncStatusFailed {
		t.Fatalf("expected failed status, got %s", pending[0].SyncStatus)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	record, err := j.Append(ctx, testRecord("Non", 1))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := j.Delete(ctx, record.LocalID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := j.Delete(ctx, record.LocalID); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if err := j.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete of unknown id failed: %v", err)
	}

	if _, err := j.Get(ctx, record.LocalID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestClosedJournalRefusesWrites(t *testing.T) {
	j, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := j.Append(context.Background(), testRecord("Non", 1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
