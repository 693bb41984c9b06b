package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// kvLockID is the advisory lock serialising writers across processes.
const kvLockID int64 = 0x64726177 // "draw"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// KVStore implements domain.KVStore over the kv_state table. Every Update
// holds a transaction-scoped advisory lock, so concurrent writers from
// several processes are applied one at a time.
type KVStore struct {
	pool *pgxpool.Pool
}

// NewKVStore creates a KVStore backed by the given connection pool.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

// View runs fn in a read-only repeatable-read transaction.
func (s *KVStore) View(ctx context.Context, fn func(domain.KVReader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin view: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	return fn(kvReader{q: tx})
}

// Update runs fn in a transaction under the writer lock.
func (s *KVStore) Update(ctx context.Context, fn func(domain.KVTxn) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, kvLockID); err != nil {
			return fmt.Errorf("postgres: advisory lock: %w", err)
		}
		return fn(kvTxn{kvReader{q: tx}})
	})
}

// Close is a no-op; the pool belongs to the Client.
func (s *KVStore) Close() error { return nil }

type kvReader struct {
	q querier
}

func (r kvReader) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := r.q.QueryRow(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %x: %w", key, err)
	}
	return value, nil
}

// Iterate loads the whole range before calling fn so fn may issue further
// queries on the same transaction.
func (r kvReader) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	if upper := prefixEnd(prefix); upper != nil {
		rows, err = r.q.Query(ctx,
			`SELECT key, value FROM kv_state WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, upper)
	} else {
		rows, err = r.q.Query(ctx,
			`SELECT key, value FROM kv_state WHERE key >= $1 ORDER BY key`, prefix)
	}
	if err != nil {
		return fmt.Errorf("postgres: scan %x: %w", prefix, err)
	}

	type pair struct{ k, v []byte }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.k, &p.v); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan row: %w", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: scan %x rows: %w", prefix, err)
	}

	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

type kvTxn struct {
	kvReader
}

func (t kvTxn) Set(ctx context.Context, key, value []byte) error {
	const query = `
		INSERT INTO kv_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := t.q.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set %x: %w", key, err)
	}
	return nil
}

func (t kvTxn) Delete(ctx context.Context, key []byte) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM kv_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: delete %x: %w", key, err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

var _ domain.KVStore = (*KVStore)(nil)
