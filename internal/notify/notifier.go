// Package notify delivers operator alerts for market events to chat
// channels (Telegram, Discord). Alerts are filtered by event kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultKinds are the event kinds alerted on when none are configured.
var DefaultKinds = []domain.EventKind{domain.EventMarketAsserted, domain.EventMarketResolved}

// Notifier fans alerts out to every Sender. One failing sender does not stop
// delivery to the others.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier alerting on the given kinds, or on
// DefaultKinds when kinds is empty.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultKinds {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of kind are alerted on.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	return len(n.senders) > 0 && n.kinds[kind]
}

// NotifyEvent formats e and sends it if its kind is enabled.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.Wants(e.Kind) {
		return nil
	}
	title, message := Format(e)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends an alert regardless of the kind filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Format renders a market event as an alert title and body.
func Format(e domain.Event) (title, message string) {
	switch d := e.Data.(type) {
	case domain.MarketInitializedEvent:
		return "Market created", fmt.Sprintf("%s\n%s vs %s\nreward %s, bond %s\nmarket %s",
			d.Description, d.Outcome1, d.Outcome2, amount(d.Reward), amount(d.RequiredBond), d.MarketID.Hex())
	case domain.MarketAssertedEvent:
		return "Outcome asserted", fmt.Sprintf("market %s\noutcome %q asserted by %s\nbond %s\nassertion %s",
			d.MarketID.Hex(), d.AssertedOutcome, d.Asserter.Hex(), amount(d.Bond), d.AssertionID.Hex())
	case domain.MarketResolvedEvent:
		return "Market resolved", fmt.Sprintf("market %s\nassertion %s", d.MarketID.Hex(), d.AssertionID.Hex())
	default:
		return string(e.Kind), "market " + e.MarketID.Hex()
	}
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
