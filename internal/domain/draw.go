package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// TicketDigits is the fixed width of every ticket and winning number.
const TicketDigits = 6

// MatchTiers is the number of prize buckets, one per non-zero match count.
const MatchTiers = TicketDigits

// DrawStatus is the lifecycle state of a draw.
type DrawStatus string

const (
	DrawOpen      DrawStatus = "open"
	DrawPending   DrawStatus = "pending"
	DrawClaimable DrawStatus = "claimable"
)

// Identity is a validated participant or operator address.
type Identity string

func (i Identity) String() string { return string(i) }

// Config is the process-wide, owner-mutable lottery configuration.
type Config struct {
	Owner              Identity          `json:"owner"`
	Oracle             Identity          `json:"oracle"`
	TicketPrice        Coin              `json:"ticket_price"`
	Interval           time.Duration     `json:"interval"`
	TreasuryFeePercent uint8             `json:"treasury_fee_percent"`
	PercentagePerMatch [MatchTiers]uint8 `json:"percentage_per_match"`
	MaxTicketsPerUser  uint32            `json:"max_tickets_per_user"`
	RequestTimeout     time.Duration     `json:"request_timeout"`
}

// Buckets is the per-match-count prize split of a pot. Index i holds the
// bucket for i+1 matching digits.
type Buckets [MatchTiers]*uint256.Int

// WinnerCounts is the number of winning tickets per match tier.
type WinnerCounts [MatchTiers]uint64

// Draw is one cycle of ticket sales and its single settlement.
type Draw struct {
	ID              uint64        `json:"id"`
	Status          DrawStatus    `json:"status"`
	Expiration      time.Time     `json:"expiration"`
	TicketPrice     Coin          `json:"ticket_price"`
	TotalTickets    uint64        `json:"total_tickets"`
	Pot             *uint256.Int  `json:"pot"`
	WinningNumber   *string       `json:"winning_number,omitempty"`
	PrizePerMatch   *Buckets      `json:"prize_per_match,omitempty"`
	WinnersPerMatch *WinnerCounts `json:"winners_per_match,omitempty"`

	CreatedAt   time.Time    `json:"created_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	SettledAt   *time.Time   `json:"settled_at,omitempty"`
	Rollover    *uint256.Int `json:"rollover,omitempty"`
	TreasuryFee *uint256.Int `json:"treasury_fee,omitempty"`
}

// IsExpired reports whether ticket sales for the draw have ended at now.
func (d Draw) IsExpired(now time.Time) bool {
	return !now.Before(d.Expiration)
}

// IsSettled reports whether the draw outcome has been fixed.
func (d Draw) IsSettled() bool {
	return d.WinningNumber != nil && d.WinnersPerMatch != nil
}

// TicketResult is the per-ticket outcome returned by winner checks.
type TicketResult struct {
	TicketNumber string `json:"ticket_number"`
	Prediction   []bool `json:"prediction"`
	Matches      uint8  `json:"matches"`
}

// ClaimRecord marks a (draw, buyer) pair as claimed. It is written before
// the funds transfer, so Paid=false after a crash means the buyer may have
// been under-paid and needs manual reconciliation.
type ClaimRecord struct {
	DrawID    uint64    `json:"draw_id"`
	Buyer     Identity  `json:"buyer"`
	Amount    Coin      `json:"amount"`
	ClaimedAt time.Time `json:"claimed_at"`
	Paid      bool      `json:"paid"`
}

// PendingRequest tracks an outstanding randomness request for a draw.
type PendingRequest struct {
	DrawID      uint64    `json:"draw_id"`
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
}

// Expired reports whether the request may be superseded at now.
func (p PendingRequest) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// TreasuryPayout is the fee taken from a draw's rollover for the owner.
type TreasuryPayout struct {
	DrawID    uint64    `json:"draw_id"`
	Recipient Identity  `json:"recipient"`
	Amount    Coin      `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	Paid      bool      `json:"paid"`
}

// UnpaidTransfers lists records whose ledger transfer has not been confirmed.
type UnpaidTransfers struct {
	Claims   []ClaimRecord    `json:"claims"`
	Treasury []TreasuryPayout `json:"treasury"`
}

// InstantiateParams seeds the engine configuration. The sender of the
// instantiate call becomes the owner.
type InstantiateParams struct {
	Oracle             string
	TicketPrice        Coin
	Interval           time.Duration
	TreasuryFeePercent uint8
	PercentagePerMatch [MatchTiers]uint8
	MaxTicketsPerUser  uint32
	RequestTimeout     time.Duration
}

// ConfigUpdate carries optional config changes. Nil fields are unchanged.
type ConfigUpdate struct {
	Owner              *string            `json:"owner,omitempty"`
	Oracle             *string            `json:"oracle,omitempty"`
	TicketPrice        *Coin              `json:"ticket_price,omitempty"`
	Interval           *time.Duration     `json:"interval,omitempty"`
	TreasuryFeePercent *uint8             `json:"treasury_fee_percent,omitempty"`
	PercentagePerMatch *[MatchTiers]uint8 `json:"percentage_per_match,omitempty"`
	MaxTicketsPerUser  *uint32            `json:"max_tickets_per_user,omitempty"`
	RequestTimeout     *time.Duration     `json:"request_timeout,omitempty"`
}
