// Package cache memoises prepared waveforms in BadgerDB so repeated training
// runs skip decoding and resampling unchanged clips.
package cache

import (
	"errors"
	"fmt"
	"log/slog"

	"speech-commands/utils"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "wave/"

// Options configures the store.
type Options struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory.
	InMemory bool
}

// Store is a waveform cache backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens or creates the cache.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the waveform stored under key.
func (s *Store) Get(key string) ([]float64, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var waveform []float64
	if err := msgpack.Unmarshal(raw, &waveform); err != nil {
		return nil, false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return waveform, true, nil
}

// Put stores waveform under key, replacing any previous value.
func (s *Store) Put(key string, waveform []float64) error {
	raw, err := msgpack.Marshal(waveform)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), raw)
	})
}

// Len counts cached waveforms.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge drops every cached waveform.
func (s *Store) Purge() error {
	return s.db.DropPrefix([]byte(keyPrefix))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger warnings and errors to the service logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	utils.GetLogger().Error(fmt.Sprintf(f, v...), slog.String("component", "badger"))
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	utils.GetLogger().Warn(fmt.Sprintf(f, v...), slog.String("component", "badger"))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
