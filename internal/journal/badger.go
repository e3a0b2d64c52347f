package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"dokonpos/internal/domain"
)

const (
	salePrefix  = "sale/"
	indexPrefix = "id/"
	seqKey      = "seq/sale"
)

// BadgerJournal stores sale records in a badger database with synchronous
// writes, so an acknowledged Append is on disk before the cashier sees the
// receipt. Record keys embed a monotonic sequence number; iterating the sale
// prefix yields creation order.
type BadgerJournal struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	closed bool
}

func OpenBadger(path string) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal sequence: %w", err)
	}

	return &BadgerJournal{db: db, seq: seq}, nil
}

func (j *BadgerJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.seq.Release(); err != nil {
		j.db.Close()
		return err
	}
	return j.db.Close()
}

func (j *BadgerJournal) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

func saleKey(seq uint64, localID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", salePrefix, seq, localID))
}

func indexKey(localID string) []byte {
	return []byte(indexPrefix + localID)
}

// Append assigns a fresh LocalID, stamps the record pending and persists it.
// The returned record carries the assigned LocalID.
func (j *BadgerJournal) Append(_ context.Context, record domain.SaleRecord) (domain.SaleRecord, error) {
	if j.isClosed() {
		return domain.SaleRecord{}, ErrClosed
	}

	seq, err := j.seq.Next()
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("journal sequence: %w", err)
	}

	record.LocalID = uuid.NewString()
	record.SyncStatus = domain.SyncStatusPending
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Total = domain.ItemsTotal(record.Items)

	value, err := msgpack.Marshal(&record)
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("encode sale record: %w", err)
	}

	key := saleKey(seq, record.LocalID)
	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(record.LocalID), key)
	})
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("append sale record: %w", err)
	}
	return record, nil
}

// Pending returns all records still awaiting sync, oldest first. Records in
// the failed state are included: a failure is retried on the next pass.
func (j *BadgerJournal) Pending(_ context.Context) ([]domain.SaleRecord, error) {
	if j.isClosed() {
		return nil, ErrClosed
	}

	var records []domain.SaleRecord
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(salePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record domain.SaleRecord
			err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &record)
			})
			if err != nil {
				return fmt.Errorf("decode sale record %s: %w", it.Item().Key(), err)
			}
			if record.SyncStatus == domain.SyncStatusSynced {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (j *BadgerJournal) Get(_ context.Context, localID string) (domain.SaleRecord, error) {
	if j.isClosed() {
		return domain.SaleRecord{}, ErrClosed
	}

	var record domain.SaleRecord
	err := j.db.View(func(txn *badger.Txn) error {
		key, err := j.resolveKey(txn, localID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return msgpack.Unmarshal(v, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.SaleRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return record, nil
}

func (j *BadgerJournal) MarkSynced(ctx context.Context, localID string) error {
	return j.setStatus(ctx, localID, domain.SyncStatusSynced)
}

func (j *BadgerJournal) MarkFailed(ctx context.Context, localID string) error {
	return j.setStatus(ctx, localID, domain.SyncStatusFailed)
}

func (j *BadgerJournal) setStatus(_ context.Context, localID string, status string) error {
	if j.isClosed() {
		return ErrClosed
	}

	err := j.db.Update(func(txn *badger.Txn) error {
		key, err := j.resolveKey(txn, localID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var record domain.SaleRecord
		if err := item.Value(func(v []byte) error {
			return msgpack.Unmarshal(v, &record)
		}); err != nil {
			return err
		}
		if record.SyncStatus == status {
			return nil
		}
		record.SyncStatus = status

		value, err := msgpack.Marshal(&record)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Already deleted after a successful sync; nothing to update.
		return nil
	}
	return err
}

// Delete removes a record and its index entry. Deleting an unknown id is a
// no-op so retried cleanups stay safe.
func (j *BadgerJournal) Delete(_ context.Context, localID string) error {
	if j.isClosed() {
		return ErrClosed
	}

	err := j.db.Update(func(txn *badger.Txn) error {
		key, err := j.resolveKey(txn, localID)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(localID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (j *BadgerJournal) resolveKey(txn *badger.Txn, localID string) ([]byte, error) {
	item, err := txn.Get(indexKey(localID))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

var _ Journal = (*BadgerJournal)(nil)
