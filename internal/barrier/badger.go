package barrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures the Badger KV backend.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true, Logger: slog.Default()}
}

// InMemoryBadgerConfig returns an ephemeral configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true, Logger: slog.Default()}
}

// BadgerKV is a KV backend over Badger. TTLs map to native entry TTLs, so
// expired keys vanish without a reaper.
type BadgerKV struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerKV opens a Badger database with the given configuration.
func NewBadgerKV(cfg BadgerConfig) (*BadgerKV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("path is required for on-disk badger store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerSlog{logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerKV{db: db, logger: logger}, nil
}

func (b *BadgerKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("setting key: %w", err)
	}
	return nil
}

func (b *BadgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key: %w", err)
	}
	return value, nil
}

// RunGC runs one value-log garbage collection cycle. Callers schedule it;
// Badger treats "nothing to collect" as an error, which is swallowed here.
func (b *BadgerKV) RunGC() {
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		b.logger.Warn("badger gc failed", "error", err)
	}
}

func (b *BadgerKV) Close() error { return b.db.Close() }

// badgerSlog adapts slog to badger's Logger interface.
type badgerSlog struct {
	l *slog.Logger
}

func (b badgerSlog) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerSlog) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerSlog) Infof(format string, args ...any) {
	b.l.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerSlog) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
