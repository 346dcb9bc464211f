package keystore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var keyPrefix = []byte("e2ee:key:")

// BadgerStore is a Store backed by a badger database on disk.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   logrus.FieldLogger
}

// OpenBadger opens (or creates) the key cache database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("keystore: directory is required")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", cfg.Dir, err)
	}

	return &BadgerStore{db: db, log: cfg.Logger}, nil
}

func dbKey(kid string) []byte {
	return append(append([]byte{}, keyPrefix...), kid...)
}

func (s *BadgerStore) Load(kid string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(kid))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: load: %w", err)
	}
	return data, nil
}

func (s *BadgerStore) Save(kid string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(kid), data)
	})
	if err != nil {
		return fmt.Errorf("keystore: save: %w", err)
	}
	s.log.WithField("kid", kid).Debug("cached private key")
	return nil
}

func (s *BadgerStore) Delete(kid string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(kid))
	})
	if err != nil {
		return fmt.Errorf("keystore: delete: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear() error {
	if err := s.db.DropPrefix(keyPrefix); err != nil {
		return fmt.Errorf("keystore: clear: %w", err)
	}
	s.log.Debug("cleared key cache")
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
