package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const defaultValueLogFileSize = 64 << 20

type badgerConfig struct {
	valueLogFileSize int64
	inMemory         bool
}

// BadgerOption customizes how Badger is opened.
type BadgerOption func(*badgerConfig) error

// WithValueLogFileSize sets the max bytes per value log file.
func WithValueLogFileSize(size int64) BadgerOption {
	return func(cfg *badgerConfig) error {
		if size <= 0 {
			return fmt.Errorf("badger value log file size must be > 0, got %d", size)
		}
		cfg.valueLogFileSize = size
		return nil
	}
}

// InMemory keeps everything in memory; path must be empty.
func InMemory() BadgerOption {
	return func(cfg *badgerConfig) error {
		cfg.inMemory = true
		return nil
	}
}

// BadgerStore implements Store on top of Badger.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger store at path.
func OpenBadger(path string, options ...BadgerOption) (*BadgerStore, error) {
	cfg := badgerConfig{valueLogFileSize: defaultValueLogFileSize}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path).
		WithValueLogFileSize(cfg.valueLogFileSize).
		WithInMemory(cfg.inMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) View(fn func(Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerStore) Update(fn func(Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func (tx *badgerTx) Get(key []byte) ([]byte, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (tx *badgerTx) Set(key, value []byte) error {
	return tx.txn.Set(key, value)
}

func (tx *badgerTx) Delete(key []byte) error {
	return tx.txn.Delete(key)
}

func (tx *badgerTx) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}
