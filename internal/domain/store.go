package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TransferEntry is one executed ledger transfer.
type TransferEntry struct {
	ID        int64
	Recipient Identity
	Amount    Coin
	Reference string
	CreatedAt time.Time
}

// TransferStore journals ledger transfers and exposes running balances.
type TransferStore interface {
	Record(ctx context.Context, entry TransferEntry) error
	Balance(ctx context.Context, recipient Identity, denom string) (Coin, error)
	ListByRecipient(ctx context.Context, recipient Identity, opts ListOpts) ([]TransferEntry, error)
}

// BuyerTickets is every ticket one buyer holds in a draw.
type BuyerTickets struct {
	Buyer   Identity `json:"buyer"`
	Tickets []string `json:"tickets"`
}
