package domain

import "time"

// Bus channel and stream carrying engine events.
const (
	ChannelDraws = "lottery:draws"
	StreamDraws  = "stream:lottery:draws"
)

// EventType names an engine event.
type EventType string

const (
	EventDrawOpened          EventType = "draw.opened"
	EventTicketsPurchased    EventType = "tickets.purchased"
	EventDrawClosed          EventType = "draw.closed"
	EventRandomnessRequested EventType = "randomness.requested"
	EventDrawSettled         EventType = "draw.settled"
	EventPrizeClaimed        EventType = "prize.claimed"
	EventTreasuryPaid        EventType = "treasury.paid"
	EventConfigUpdated       EventType = "config.updated"
)

// Event is published on the bus after a state change commits.
type Event struct {
	Type   EventType      `json:"type"`
	DrawID uint64         `json:"draw_id"`
	Actor  Identity       `json:"actor,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}
