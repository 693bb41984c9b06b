// Package leveldb implements domain.KVStore on an embedded goleveldb
// database.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Options tunes the database. Zero values pick the defaults below.
type Options struct {
	CacheMB      int
	OpenFiles    int
	BloomBits    int
	SyncCommits  bool
	ReadOnlyOpen bool
}

func (o Options) leveldb() *opt.Options {
	cache := o.CacheMB
	if cache <= 0 {
		cache = 64
	}
	handles := o.OpenFiles
	if handles <= 0 {
		handles = 128
	}
	bits := o.BloomBits
	if bits <= 0 {
		bits = 10
	}
	return &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(bits),
		ReadOnly:               o.ReadOnlyOpen,
	}
}

// Store is a KVStore over a single goleveldb database.
type Store struct {
	db   *goleveldb.DB
	sync bool
}

// Open opens (or creates) the database at path, recovering the manifest if
// it is corrupted.
func Open(path string, o Options) (*Store, error) {
	db, err := goleveldb.OpenFile(path, o.leveldb())
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		db, err = goleveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %s: %w", path, err)
	}
	return &Store{db: db, sync: o.SyncCommits}, nil
}

// OpenMemory opens a database held entirely in memory.
func OpenMemory() (*Store, error) {
	db, err := goleveldb.Open(storage.NewMemStorage(), Options{}.leveldb())
	if err != nil {
		return nil, fmt.Errorf("leveldb: open memory: %w", err)
	}
	return &Store{db: db}, nil
}

// View runs fn against a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(domain.KVReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb: snapshot: %w", err)
	}
	defer snap.Release()
	return fn(reader{src: snap})
}

// Update runs fn in a transaction. The transaction is committed only when fn
// returns nil; an error or a panic discards every write.
func (s *Store) Update(ctx context.Context, fn func(domain.KVTxn) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("leveldb: open transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tr.Discard()
		}
	}()

	if err := fn(txn{reader: reader{src: tr}, tr: tr, sync: s.sync}); err != nil {
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("leveldb: commit: %w", err)
	}
	committed = true
	return nil
}

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if _, err := s.db.GetProperty("leveldb.num-files-at-level0"); err != nil {
		return fmt.Errorf("leveldb: ping: %w", err)
	}
	return nil
}

// Stats returns a few goleveldb properties for diagnostics.
func (s *Store) Stats() map[string]string {
	keys := []string{
		"leveldb.stats",
		"leveldb.sstables",
		"leveldb.blockpool",
		"leveldb.alivesnaps",
		"leveldb.aliveiters",
	}
	stats := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, err := s.db.GetProperty(key); err == nil {
			stats[key] = v
		}
	}
	return stats
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("leveldb: close: %w", err)
	}
	return nil
}

// source is what snapshots and transactions have in common.
type source interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type reader struct {
	src source
}

func (r reader) Get(_ context.Context, key []byte) ([]byte, error) {
	v, err := r.src.Get(key, nil)
	if errors.Is(err, lerrors.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb: get %q: %w", key, err)
	}
	return v, nil
}

func (r reader) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	iter := r.src.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The iterator reuses its buffers between steps.
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb: iterate %q: %w", prefix, err)
	}
	return nil
}

type txn struct {
	reader
	tr   *goleveldb.Transaction
	sync bool
}

func (t txn) Set(_ context.Context, key, value []byte) error {
	if err := t.tr.Put(key, value, &opt.WriteOptions{Sync: t.sync}); err != nil {
		return fmt.Errorf("leveldb: put %q: %w", key, err)
	}
	return nil
}

func (t txn) Delete(_ context.Context, key []byte) error {
	if err := t.tr.Delete(key, &opt.WriteOptions{Sync: t.sync}); err != nil {
		return fmt.Errorf("leveldb: delete %q: %w", key, err)
	}
	return nil
}

var _ domain.KVStore = (*Store)(nil)
