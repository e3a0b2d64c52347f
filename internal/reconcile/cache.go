// Package reconcile keeps a terminal-local mirror of staff receipts and
// reconciles it against the server after reconnects.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"dokonpos/internal/domain"
)

var ErrNotCached = errors.New("receipt not cached")

const receiptPrefix = "receipt/"

// cachedReceipt wraps a receipt with the local edit flag. Dirty receipts
// carry a line-item edit made on this terminal that has not reached the
// server yet.
type cachedReceipt struct {
	Receipt domain.Receipt `msgpack:"receipt"`
	Dirty   bool           `msgpack:"dirty"`
}

// Cache is a badger-backed mirror of the server's staff receipts.
type Cache struct {
	db *badger.DB
}

func OpenCache(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open staff receipt cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func receiptKey(id string) []byte {
	return []byte(receiptPrefix + id)
}

func (c *Cache) put(entry cachedReceipt) error {
	value, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode cached receipt: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(receiptKey(entry.Receipt.ID), value)
	})
}

// Put stores a server copy of a receipt and clears any local edit flag.
func (c *Cache) Put(_ context.Context, receipt domain.Receipt) error {
	return c.put(cachedReceipt{Receipt: receipt})
}

func (c *Cache) Get(_ context.Context, id string) (domain.Receipt, error) {
	entry, err := c.get(id)
	if err != nil {
		return domain.Receipt{}, err
	}
	return entry.Receipt, nil
}

func (c *Cache) get(id string) (cachedReceipt, error) {
	var entry cachedReceipt
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(receiptKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return msgpack.Unmarshal(v, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cachedReceipt{}, ErrNotCached
	}
	if err != nil {
		return cachedReceipt{}, err
	}
	return entry, nil
}

// MarkEdited records a local line-item edit of a pending receipt. The edit is
// held dirty until the reconciler pushes it to the server.
func (c *Cache) MarkEdited(_ context.Context, id string, items []domain.ReceiptItem) error {
	entry, err := c.get(id)
	if err != nil {
		return err
	}
	if entry.Receipt.Status != domain.ReceiptStatusPending {
		return fmt.Errorf("receipt %s is not pending", id)
	}
	entry.Receipt.Items = items
	entry.Receipt.Total = domain.ItemsTotal(items)
	entry.Dirty = true
	return c.put(entry)
}

func (c *Cache) list(filter func(cachedReceipt) bool) ([]cachedReceipt, error) {
	var entries []cachedReceipt
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(receiptPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry cachedReceipt
			err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &entry)
			})
			if err != nil {
				return err
			}
			if filter == nil || filter(entry) {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Receipt.CreatedAt.Before(entries[j].Receipt.CreatedAt)
	})
	return entries, nil
}

// List returns all cached receipts in creation order.
func (c *Cache) List(_ context.Context) ([]domain.Receipt, error) {
	entries, err := c.list(nil)
	if err != nil {
		return nil, err
	}
	receipts := make([]domain.Receipt, 0, len(entries))
	for _, entry := range entries {
		receipts = append(receipts, entry.Receipt)
	}
	return receipts, nil
}

func (c *Cache) dirty() ([]cachedReceipt, error) {
	return c.list(func(entry cachedReceipt) bool { return entry.Dirty })
}
