package lottery

import (
	"fmt"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Matching is positional: the match count is the number of positions at
// which ticket and winning number carry the same digit, contiguous or not.
// Settlement, payouts and winner checks all go through Matches.

// Matches returns how many positions of ticket equal the winning number.
func Matches(ticket, winning string) uint8 {
	n := min(len(ticket), len(winning))
	var m uint8
	for i := 0; i < n; i++ {
		if ticket[i] == winning[i] {
			m++
		}
	}
	return m
}

// Predict returns the per-position equality vector of ticket against winning.
func Predict(ticket, winning string) []bool {
	n := min(len(ticket), len(winning))
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = ticket[i] == winning[i]
	}
	return out
}

// CheckTickets classifies each ticket against the winning number.
func CheckTickets(tickets []string, winning string) []domain.TicketResult {
	out := make([]domain.TicketResult, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, domain.TicketResult{
			TicketNumber: t,
			Prediction:   Predict(t, winning),
			Matches:      Matches(t, winning),
		})
	}
	return out
}

// CountWinners tallies winning tickets per match tier across all buyers.
// The result does not depend on the order of purchases.
func CountWinners(purchases []domain.BuyerTickets, winning string) domain.WinnerCounts {
	var counts domain.WinnerCounts
	for _, p := range purchases {
		for _, t := range p.Tickets {
			if m := Matches(t, winning); m > 0 {
				counts[m-1]++
			}
		}
	}
	return counts
}

// ValidateTicket checks that t is exactly TicketDigits decimal digits.
func ValidateTicket(t string) error {
	if len(t) != domain.TicketDigits {
		return fmt.Errorf("ticket %q: want %d digits: %w", t, domain.TicketDigits, domain.ErrInvalidTicket)
	}
	for i := 0; i < len(t); i++ {
		if t[i] < '0' || t[i] > '9' {
			return fmt.Errorf("ticket %q: non-digit at %d: %w", t, i, domain.ErrInvalidTicket)
		}
	}
	return nil
}
