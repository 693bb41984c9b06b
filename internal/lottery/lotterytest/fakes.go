// Package lotterytest provides in-memory collaborators for engine tests.
package lotterytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Addr returns a deterministic checksummed-looking address ending in n.
func Addr(n byte) domain.Identity {
	return domain.Identity(fmt.Sprintf("0x%038x%02x", 0, n))
}

// Transfer is one call recorded by Ledger.
type Transfer struct {
	To     domain.Identity
	Amount domain.Coin
}

// Ledger records transfers. Setting Err makes every transfer fail.
type Ledger struct {
	mu        sync.Mutex
	Err       error
	Transfers []Transfer
}

func (l *Ledger) Transfer(_ context.Context, to domain.Identity, amount domain.Coin) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.Transfers = append(l.Transfers, Transfer{To: to, Amount: amount})
	return nil
}

// SetErr changes the failure mode.
func (l *Ledger) SetErr(err error) {
	l.mu.Lock()
	l.Err = err
	l.mu.Unlock()
}

// Calls returns a copy of the recorded transfers.
func (l *Ledger) Calls() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.Transfers...)
}

// Request is one call recorded by Oracle.
type Request struct {
	JobID string
	Fee   domain.Funds
}

// Oracle records randomness requests. Setting Err makes requests fail.
type Oracle struct {
	mu       sync.Mutex
	Err      error
	Requests []Request
}

func (o *Oracle) RequestRandomness(_ context.Context, jobID string, fee domain.Funds) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Requests = append(o.Requests, Request{JobID: jobID, Fee: fee})
	return nil
}

// SetErr changes the failure mode.
func (o *Oracle) SetErr(err error) {
	o.mu.Lock()
	o.Err = err
	o.mu.Unlock()
}

// Calls returns a copy of the recorded requests.
func (o *Oracle) Calls() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Request(nil), o.Requests...)
}

// Validator accepts any non-empty string as an identity.
type Validator struct{}

func (Validator) Validate(raw string) (domain.Identity, error) {
	if raw == "" {
		return "", fmt.Errorf("empty address: %w", domain.ErrInvalidAddress)
	}
	return domain.Identity(raw), nil
}

// Bus is an in-memory SignalBus. It keeps every published payload and
// forwards it to live subscribers.
type Bus struct {
	mu        sync.Mutex
	Published map[string][][]byte
	Streams   map[string][][]byte
	subs      map[string][]chan []byte
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Published == nil {
		b.Published = make(map[string][][]byte)
	}
	b.Published[channel] = append(b.Published[channel], payload)
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[string][]chan []byte)
	}
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Streams == nil {
		b.Streams = make(map[string][][]byte)
	}
	b.Streams[stream] = append(b.Streams[stream], payload)
	return nil
}

func (b *Bus) StreamRead(_ context.Context, stream string, _ string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for i, p := range b.Streams[stream] {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, domain.StreamMessage{ID: fmt.Sprintf("%d-0", i+1), Payload: p})
	}
	return out, nil
}

// Messages returns a copy of what was published on channel.
func (b *Bus) Messages(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.Published[channel]...)
}
