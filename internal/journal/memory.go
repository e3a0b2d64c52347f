package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"dokonpos/internal/domain"
)

// MemoryJournal is an in-process journal with no durability. Used in tests
// and on terminals running in ephemeral demo mode.
type MemoryJournal struct {
	mu      sync.Mutex
	order   []string
	records map[string]domain.SaleRecord
}

func NewMemory() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]domain.SaleRecord)}
}

func (j *MemoryJournal) Append(_ context.Context, record domain.SaleRecord) (domain.SaleRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	record.LocalID = uuid.NewString()
	record.SyncStatus = domain.SyncStatusPending
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Total = domain.ItemsTotal(record.Items)

	j.order = append(j.order, record.LocalID)
	j.records[record.LocalID] = record
	return record, nil
}

func (j *MemoryJournal) Pending(_ context.Context) ([]domain.SaleRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var pending []domain.SaleRecord
	for _, id := range j.order {
		record, ok := j.records[id]
		if !ok || record.SyncStatus == domain.SyncStatusSynced {
			continue
		}
		pending = append(pending, record)
	}
	return pending, nil
}

func (j *MemoryJournal) Get(_ context.Context, localID string) (domain.SaleRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	record, ok := j.records[localID]
	if !ok {
		return domain.SaleRecord{}, ErrNotFound
	}
	return record, nil
}

func (j *MemoryJournal) MarkSynced(ctx context.Context, localID string) error {
	return j.setStatus(localID, domain.SyncStatusSynced)
}

func (j *MemoryJournal) MarkFailed(ctx context.Context, localID string) error {
	return j.setStatus(localID, domain.SyncStatusFailed)
}

func (j *MemoryJournal) setStatus(localID string, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record, ok := j.records[localID]
	if !ok {
		return nil
	}
	record.SyncStatus = status
	j.records[localID] = record
	return nil
}

func (j *MemoryJournal) Delete(_ context.Context, localID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.records, localID)
	return nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

var _ Journal = (*MemoryJournal)(nil)
