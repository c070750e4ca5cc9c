package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// EventHistory lists committed events.
type EventHistory interface {
	Events(ctx context.Context, marketID common.Hash, opts domain.ListOpts) ([]domain.Event, error)
}

// EventReplayer reads the durable event stream.
type EventReplayer interface {
	Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves event history and stream replay.
type EventsHandler struct {
	history EventHistory
	replay  EventReplayer
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(history EventHistory, replay EventReplayer, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{history: history, replay: replay, logger: logger}
}

// ListEvents returns events newest first, optionally for one market.
// GET /api/events?market_id=0x...&limit=50&offset=0&since=...&until=...
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var marketID common.Hash
	if v := r.URL.Query().Get("market_id"); v != "" {
		if marketID, err = parseHash(v); err != nil {
			writeError(w, http.StatusBadRequest, "market_id: "+err.Error())
			return
		}
	}
	events, err := h.history.Events(r.Context(), marketID, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Stream replays the shared event stream after a cursor. Clients resume by
// passing the last entry id back as after.
// GET /api/events/stream?after=0&count=100
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.replay.Replay(r.Context(), after, count)
	if err != nil {
		writeDomainError(w, r, h.logger, "replay events", err)
		return
	}
	entries := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Event: m.Payload})
	}
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "next": next})
}
