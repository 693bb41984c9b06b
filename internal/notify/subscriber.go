package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Subscriber turns draw events from the bus into notifications.
type Subscriber struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_subscriber")),
	}
}

// Run consumes events until ctx is cancelled or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, domain.ChannelDraws)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	s.logger.Info("notify_subscriber: listening", slog.String("channel", domain.ChannelDraws))
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			s.Handle(ctx, payload)
		}
	}
}

// Handle decodes one bus message and notifies if it is of interest.
func (s *Subscriber) Handle(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.WarnContext(ctx, "notify_subscriber: bad event", slog.String("error", err.Error()))
		return
	}
	if !s.notifier.Enabled(ev.Type) {
		return
	}
	title, msg, ok := Format(ev)
	if !ok {
		return
	}
	// Errors are already logged per sender.
	_ = s.notifier.Notify(ctx, ev.Type, title, msg)
}

// Format renders ev for humans. ok is false for event types that are never
// announced.
func Format(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventDrawSettled:
		var b strings.Builder
		fmt.Fprintf(&b, "Winning number: %v\n", ev.Data["winning_number"])
		if winners, ok := ev.Data["winners_per_match"].([]any); ok {
			b.WriteString("Winners by matches:")
			for i, n := range winners {
				fmt.Fprintf(&b, " %d:%v", i+1, n)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Rollover: %v into draw %v", ev.Data["rollover"], ev.Data["rollover_into"])
		return fmt.Sprintf("Draw #%d settled", ev.DrawID), b.String(), true
	case domain.EventPrizeClaimed:
		return fmt.Sprintf("Prize claimed in draw #%d", ev.DrawID),
			fmt.Sprintf("%s claimed %v%v", ev.Actor, ev.Data["amount"], ev.Data["denom"]), true
	case domain.EventDrawClosed:
		return fmt.Sprintf("Draw #%d closed", ev.DrawID), "Ticket sales ended; waiting for randomness.", true
	case domain.EventDrawOpened:
		return fmt.Sprintf("Draw #%d open", ev.DrawID), "Tickets are on sale.", true
	case domain.EventTreasuryPaid:
		return fmt.Sprintf("Treasury fee for draw #%d", ev.DrawID),
			fmt.Sprintf("%v%v paid to %s", ev.Data["amount"], ev.Data["denom"], ev.Actor), true
	case domain.EventRandomnessRequested:
		if attempt, _ := ev.Data["attempt"].(float64); attempt > 1 {
			return fmt.Sprintf("Randomness re-requested for draw #%d", ev.DrawID),
				fmt.Sprintf("Attempt %v, job %v", attempt, ev.Data["job_id"]), true
		}
	}
	return "", "", false
}
