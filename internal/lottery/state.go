package lottery

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Key layout. Draw ids are encoded big-endian so prefix scans return them in
// numeric order.
var (
	keyConfig      = []byte("config")
	keyDrawIndex   = []byte("draw_index")
	prefixDraws    = []byte("draws/")
	prefixTickets  = []byte("tickets/")
	prefixClaims   = []byte("claims/")
	prefixPending  = []byte("pending/")
	prefixTreasury = []byte("treasury/")
)

func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func drawKey(id uint64) []byte { return join(prefixDraws, idBytes(id)) }

func ticketsPrefix(id uint64) []byte { return join(prefixTickets, idBytes(id)) }

func ticketsKey(id uint64, buyer domain.Identity) []byte {
	return join(ticketsPrefix(id), []byte(buyer))
}

func claimKey(id uint64, buyer domain.Identity) []byte {
	return join(prefixClaims, idBytes(id), []byte(buyer))
}

func pendingKey(id uint64) []byte { return join(prefixPending, idBytes(id)) }

func treasuryKey(id uint64) []byte { return join(prefixTreasury, idBytes(id)) }

// getJSON loads and decodes key. ok is false when the key is absent.
func getJSON[T any](ctx context.Context, r domain.KVReader, key []byte) (v T, ok bool, err error) {
	raw, err := r.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, true, nil
}

func putJSON(ctx context.Context, t domain.KVTxn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return t.Set(ctx, key, raw)
}

func loadConfig(ctx context.Context, r domain.KVReader) (domain.Config, error) {
	cfg, ok, err := getJSON[domain.Config](ctx, r, keyConfig)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, domain.ErrNotInstantiated
	}
	return cfg, nil
}

func loadDrawIndex(ctx context.Context, r domain.KVReader) (uint64, error) {
	idx, _, err := getJSON[uint64](ctx, r, keyDrawIndex)
	return idx, err
}

func loadDraw(ctx context.Context, r domain.KVReader, id uint64) (domain.Draw, error) {
	d, ok, err := getJSON[domain.Draw](ctx, r, drawKey(id))
	if err != nil {
		return d, err
	}
	if !ok {
		return d, fmt.Errorf("draw %d: %w", id, domain.ErrDrawNotFound)
	}
	return d, nil
}

func saveDraw(ctx context.Context, t domain.KVTxn, d domain.Draw) error {
	return putJSON(ctx, t, drawKey(d.ID), d)
}

func loadTickets(ctx context.Context, r domain.KVReader, id uint64, buyer domain.Identity) ([]string, error) {
	tickets, _, err := getJSON[[]string](ctx, r, ticketsKey(id, buyer))
	return tickets, err
}

// scanTickets returns every buyer's tickets for a draw in key order.
func scanTickets(ctx context.Context, r domain.KVReader, id uint64) ([]domain.BuyerTickets, error) {
	prefix := ticketsPrefix(id)
	var out []domain.BuyerTickets
	err := r.Iterate(ctx, prefix, func(key, value []byte) error {
		var tickets []string
		if err := json.Unmarshal(value, &tickets); err != nil {
			return fmt.Errorf("decode tickets %q: %w", key, err)
		}
		out = append(out, domain.BuyerTickets{
			Buyer:   domain.Identity(key[len(prefix):]),
			Tickets: tickets,
		})
		return nil
	})
	return out, err
}

// createNextDraw opens draw index+1 with a fresh expiration and a price
// snapshot taken from cfg.
func createNextDraw(ctx context.Context, t domain.KVTxn, cfg domain.Config, now time.Time) (domain.Draw, error) {
	idx, err := loadDrawIndex(ctx, t)
	if err != nil {
		return domain.Draw{}, err
	}
	id := addUint64(idx, 1)
	if err := putJSON(ctx, t, keyDrawIndex, id); err != nil {
		return domain.Draw{}, err
	}
	d := domain.Draw{
		ID:          id,
		Status:      domain.DrawOpen,
		Expiration:  now.Add(cfg.Interval),
		TicketPrice: domain.Coin{Denom: cfg.TicketPrice.Denom, Amount: orZero(cfg.TicketPrice.Amount).Clone()},
		Pot:         zero(),
		CreatedAt:   now,
	}
	return d, saveDraw(ctx, t, d)
}
