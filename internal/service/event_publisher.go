package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/notify"
)

// Bus names. Every event is published on its market's channel and appended
// to one shared stream.
const (
	EventsStream     = "events"
	AllEventsPattern = "events:*"
)

// EventsChannel is the Pub/Sub channel of one market.
func EventsChannel(marketID common.Hash) string {
	return "events:" + marketID.Hex()
}

// Broadcaster delivers a payload to locally connected clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// EventPublisher implements domain.EventPublisher. Every step is best effort:
// failures are logged and never reach the operation that committed.
type EventPublisher struct {
	bus      domain.SignalBus
	cache    domain.MarketCache
	notifier *notify.Notifier
	local    Broadcaster
	logger   *slog.Logger

	notifyTimeout time.Duration
}

// NewEventPublisher wires the sinks. Any of bus, cache, notifier and local
// may be nil. With a bus, websocket hubs receive events by subscribing to it,
// so local is only used when there is no bus.
func NewEventPublisher(bus domain.SignalBus, cache domain.MarketCache, notifier *notify.Notifier, local Broadcaster, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:           bus,
		cache:         cache,
		notifier:      notifier,
		local:         local,
		logger:        logger.With(slog.String("component", "event_publisher")),
		notifyTimeout: 15 * time.Second,
	}
}

// Publish fans out events committed by one operation, in order.
func (p *EventPublisher) Publish(ctx context.Context, events []domain.Event) {
	invalidated := make(map[common.Hash]bool)
	for _, e := range events {
		if p.cache != nil && !invalidated[e.MarketID] {
			invalidated[e.MarketID] = true
			if err := p.cache.Invalidate(ctx, e.MarketID); err != nil {
				p.warn(ctx, "cache invalidate failed", e, err)
			}
		}

		payload, err := json.Marshal(e)
		if err != nil {
			p.warn(ctx, "marshal event failed", e, err)
			continue
		}
		p.fanOut(ctx, e, payload)

		if p.notifier != nil && p.notifier.Wants(e.Kind) {
			go p.notify(e)
		}
	}
}

func (p *EventPublisher) fanOut(ctx context.Context, e domain.Event, payload []byte) {
	if p.bus == nil {
		if p.local != nil {
			p.local.Broadcast(payload)
		}
		return
	}
	if err := p.bus.Publish(ctx, EventsChannel(e.MarketID), payload); err != nil {
		p.warn(ctx, "bus publish failed", e, err)
	}
	if err := p.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
		p.warn(ctx, "stream append failed", e, err)
	}
}

// notify runs detached from the request so slow chat APIs never delay it.
func (p *EventPublisher) notify(e domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.notifyTimeout)
	defer cancel()
	if err := p.notifier.NotifyEvent(ctx, e); err != nil {
		p.warn(ctx, "notify failed", e, err)
	}
}

// Replay returns up to count stream entries after lastID ("0" for the
// oldest retained). Without a bus there is nothing to replay.
func (p *EventPublisher) Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if p.bus == nil {
		return nil, nil
	}
	return p.bus.StreamRead(ctx, EventsStream, lastID, count)
}

func (p *EventPublisher) warn(ctx context.Context, msg string, e domain.Event, err error) {
	p.logger.WarnContext(ctx, msg,
		slog.String("event_id", e.ID),
		slog.String("kind", string(e.Kind)),
		slog.String("market_id", e.MarketID.Hex()),
		slog.String("error", err.Error()),
	)
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
