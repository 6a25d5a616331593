package settings

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var recordPrefix = []byte("app:")

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store in dir. inMemory runs badger without
// disk persistence, useful for tests that want the real engine.
func OpenBadger(dir string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(appKey string) []byte {
	return append(append([]byte{}, recordPrefix...), appKey...)
}

func (s *BadgerStore) Get(_ context.Context, appKey string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(appKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record %q: %w", appKey, err)
	}
	return rec, nil
}

func (s *BadgerStore) Set(_ context.Context, appKey string, rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", appKey, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(appKey), data)
	})
	if err != nil {
		return fmt.Errorf("set record %q: %w", appKey, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, appKey string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(appKey))
	})
	if err != nil {
		return fmt.Errorf("delete record %q: %w", appKey, err)
	}
	return nil
}

func (s *BadgerStore) All(_ context.Context) (map[string]Record, error) {
	out := make(map[string]Record)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(recordPrefix):])
			err := item.Value(func(val []byte) error {
				var rec Record
				if err := msgpack.Unmarshal(val, &rec); err != nil {
					return err
				}
				out[key] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
