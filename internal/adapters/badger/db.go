// Package badger stores secure links and the document registry in an
// embedded BadgerDB, the default for single-node deployments.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 8

// DB owns the embedded database handle shared by the repositories.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
}

type Options struct {
	Path     string
	InMemory bool
}

func Open(opts Options, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(opts.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Info("badger store opened",
		"module", "badger",
		"layer", "adapter",
		"operation", "open",
		"outcome", "success",
		"in_memory", opts.InMemory,
	)
	return &DB{db: db, logger: logger}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(context.Context) error {
	if d.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// RunGC reclaims value log space on an interval until ctx is done.
func (d *DB) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for d.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (d *DB) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// scan calls fn for every value under prefix.
func (d *DB) scan(prefix []byte, fn func(key, value []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
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
	})
}
