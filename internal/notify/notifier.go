// Package notify forwards selected marketplace events (sales, auction
// results, pauses) to operator chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DefaultEvents are forwarded when no event filter is configured.
var DefaultEvents = []domain.EventType{
	domain.EventSettled,
	domain.EventAuctionEnded,
	domain.EventPaused,
	domain.EventUnpaused,
}

// Notifier dispatches events to one or more Senders. Only event types in the
// allowed set are forwarded.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. An
// empty events list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of type t are forwarded.
func (n *Notifier) Wants(t domain.EventType) bool {
	return len(n.senders) > 0 && n.events[t]
}

// NotifyEvent formats evt and sends it when its type is selected.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Wants(evt.Type) {
		return nil
	}
	title, message := Format(evt)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// Format renders the title and body of an event notification.
func Format(evt domain.Event) (title, message string) {
	var b strings.Builder
	if evt.Asset != nil {
		fmt.Fprintf(&b, "asset: %s\n", evt.Asset.Key())
	}
	if evt.ListingID != nil {
		fmt.Fprintf(&b, "listing: %d\n", *evt.ListingID)
	}
	if evt.OfferID != nil {
		fmt.Fprintf(&b, "offer: %d\n", *evt.OfferID)
	}
	if evt.Seller != nil {
		fmt.Fprintf(&b, "seller: %s\n", evt.Seller.Hex())
	}
	if evt.Buyer != nil {
		fmt.Fprintf(&b, "buyer: %s\n", evt.Buyer.Hex())
	}
	if evt.Price > 0 {
		fmt.Fprintf(&b, "price: %d %s\n", evt.Price, currencyLabel(evt.Currency))
		fmt.Fprintf(&b, "fee: %d, royalty: %d\n", evt.Fee, evt.Royalty)
	}
	switch evt.Type {
	case domain.EventAuctionEnded:
		if evt.Buyer == nil {
			title = "Auction ended without bids"
		} else {
			title = "Auction won"
		}
	case domain.EventSettled:
		title = "Sale settled"
	default:
		title = "Marketplace " + strings.ReplaceAll(string(evt.Type), "_", " ")
		fmt.Fprintf(&b, "by: %s\n", evt.Actor.Hex())
	}
	return title, strings.TrimRight(b.String(), "\n")
}

func currencyLabel(c domain.Currency) string {
	if c.IsNative() {
		return "native"
	}
	return string(c)
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; the failures are joined into the returned error.
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
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
