package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// TransferStore implements domain.TransferStore on the ledger_transfers
// journal. Amounts travel as decimal text so no precision is lost.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Record appends a transfer to the journal.
func (s *TransferStore) Record(ctx context.Context, e domain.TransferEntry) error {
	if e.Amount.IsZero() {
		return fmt.Errorf("postgres: record transfer to %s: zero amount", e.Recipient)
	}
	const query = `
		INSERT INTO ledger_transfers (recipient, denom, amount, reference)
		VALUES ($1, $2, $3::numeric, $4)`
	_, err := s.pool.Exec(ctx, query, e.Recipient.String(), e.Amount.Denom, e.Amount.Amount.Dec(), e.Reference)
	if err != nil {
		return fmt.Errorf("postgres: record transfer to %s: %w", e.Recipient, err)
	}
	return nil
}

// Balance returns the total received by recipient in denom.
func (s *TransferStore) Balance(ctx context.Context, recipient domain.Identity, denom string) (domain.Coin, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM ledger_transfers
		WHERE recipient = $1 AND denom = $2`
	var total string
	if err := s.pool.QueryRow(ctx, query, recipient.String(), denom).Scan(&total); err != nil {
		return domain.Coin{}, fmt.Errorf("postgres: balance of %s: %w", recipient, err)
	}
	c, err := domain.ParseCoin(total, denom)
	if err != nil {
		return domain.Coin{}, fmt.Errorf("postgres: balance of %s: %w", recipient, err)
	}
	return c, nil
}

// ListByRecipient returns transfers to recipient, newest first.
func (s *TransferStore) ListByRecipient(ctx context.Context, recipient domain.Identity, opts domain.ListOpts) ([]domain.TransferEntry, error) {
	args := []any{recipient.String()}
	query := `
		SELECT id, recipient, denom, amount::text, reference, created_at
		FROM ledger_transfers
		WHERE recipient = $1`
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC" + pageClause(opts, &args)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers to %s: %w", recipient, err)
	}
	defer rows.Close()

	entries, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers to %s: %w", recipient, err)
	}
	return entries, nil
}

func scanTransferRows(rows pgx.Rows) ([]domain.TransferEntry, error) {
	var out []domain.TransferEntry
	for rows.Next() {
		var (
			e         domain.TransferEntry
			recipient string
			denom     string
			amount    string
		)
		if err := rows.Scan(&e.ID, &recipient, &denom, &amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		c, err := domain.ParseCoin(amount, denom)
		if err != nil {
			return nil, err
		}
		e.Recipient = domain.Identity(recipient)
		e.Amount = c
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.TransferStore = (*TransferStore)(nil)
