// Package service sits between the HTTP surface and the market engine. It
// adds the read-through market cache and fans committed events out to the
// signal bus, websocket clients and operator alerts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/market"
)

// MarketService serves market reads from the cache when it can.
type MarketService struct {
	engine *market.Engine
	cache  domain.MarketCache
	events domain.EventStore
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(engine *market.Engine, cache domain.MarketCache, events domain.EventStore, logger *slog.Logger) *MarketService {
	return &MarketService{
		engine: engine,
		cache:  cache,
		events: events,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// Engine returns the engine behind the service.
func (s *MarketService) Engine() *market.Engine { return s.engine }

// GetMarket returns the market with id, or a zero Market if there is none.
// Snapshots are cached only for existing markets.
func (s *MarketService) GetMarket(ctx context.Context, id common.Hash) (domain.Market, error) {
	if s.cache != nil {
		m, err := s.cache.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache get failed",
				slog.String("market_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.engine.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: get market %s: %w", id.Hex(), err)
	}
	if s.cache != nil && m.Exists() {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns every market in creation order.
func (s *MarketService) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	_, markets, err := s.engine.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return markets, nil
}

// Events returns committed events newest first, for one market when marketID
// is non-zero.
func (s *MarketService) Events(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Event, error) {
	var (
		events []domain.Event
		err    error
	)
	if marketID == (common.Hash{}) {
		events, err = s.events.List(ctx, opts)
	} else {
		events, err = s.events.ListByMarket(ctx, marketID, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("service: list events: %w", err)
	}
	return events, nil
}
