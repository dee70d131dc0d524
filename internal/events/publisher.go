// Package events fans committed marketplace events out to the signal bus,
// the audit log and the operator notifier.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const (
	// Channel is the pub/sub channel the WebSocket hub listens on.
	Channel = "market:events"
	// Stream is the durable, replayable event log.
	Stream = "stream:market:events"
)

// Signer attaches the operator signature to an event.
type Signer interface {
	SignEvent(evt domain.Event) (domain.Event, error)
}

// Notifier forwards an event to operator chat channels.
type Notifier interface {
	NotifyEvent(ctx context.Context, evt domain.Event) error
}

// Publisher implements domain.EventPublisher. Bus and audit writes happen
// inline; notifications are sent in the background so a slow webhook never
// holds an engine lock.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	signer   Signer
	notifier Notifier
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSigner signs every event before it is published.
func WithSigner(s Signer) Option { return func(p *Publisher) { p.signer = s } }

// WithNotifier forwards events to n.
func WithNotifier(n Notifier) Option { return func(p *Publisher) { p.notifier = n } }

// NewPublisher creates a Publisher. bus and audit may be nil to skip that
// sink.
func NewPublisher(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "events")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers evt to every sink. A failing sink does not stop the
// others; their errors are joined.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	if p.signer != nil {
		signed, err := p.signer.SignEvent(evt)
		if err != nil {
			p.logger.WarnContext(ctx, "sign event failed",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		} else {
			evt = signed
		}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	var errs []error
	if p.bus != nil {
		if err := p.bus.Publish(ctx, Channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("events: publish: %w", err))
		}
		if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
			errs = append(errs, fmt.Errorf("events: stream append: %w", err))
		}
	}
	if p.audit != nil {
		var detail map[string]any
		if err := json.Unmarshal(payload, &detail); err != nil {
			return fmt.Errorf("events: audit detail %s: %w", evt.Type, err)
		}
		if err := p.audit.Log(ctx, "market."+string(evt.Type), detail); err != nil {
			errs = append(errs, fmt.Errorf("events: audit: %w", err))
		}
	}
	if p.notifier != nil {
		p.notify(context.WithoutCancel(ctx), evt)
	}
	return errors.Join(errs...)
}

func (p *Publisher) notify(ctx context.Context, evt domain.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.notifier.NotifyEvent(ctx, evt); err != nil {
			p.logger.WarnContext(ctx, "notify failed",
				slog.String("event_id", evt.ID),
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Replay reads up to count events from the durable stream after lastID.
func Replay(ctx context.Context, bus domain.SignalBus, lastID string, count int) ([]domain.Event, string, error) {
	msgs, err := bus.StreamRead(ctx, Stream, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("events: replay: %w", err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.Event
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			return out, lastID, fmt.Errorf("events: decode %s: %w", m.ID, err)
		}
		out = append(out, evt)
		lastID = m.ID
	}
	return out, lastID, nil
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Publisher)(nil)
