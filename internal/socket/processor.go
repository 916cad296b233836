package socket

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"clobstream/internal/book"
	"clobstream/internal/metrics"
	"clobstream/internal/model"
)

// spreadThreshold separates midpoint pricing from last-trade pricing: a
// book whose spread is at most $0.10 is priced at its midpoint, a wider
// one at the last executed trade.
var spreadThreshold = decimal.RequireFromString("0.10")

// Sink receives classified event batches. Every field is optional; a nil
// callback is a no-op.
type Sink struct {
	OnBook        func(events []model.BookEvent)
	OnTickSize    func(events []model.TickSizeEvent)
	OnPriceChange func(events []model.PriceChangeEvent)
	OnLastTrade   func(events []model.LastTradeEvent)
	OnPriceUpdate func(updates []model.PriceUpdate)
	OnError       func(err error)
}

func (s Sink) reportError(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// Processor turns raw inbound frames into classified, cache-applied,
// derivation-complete event batches. It is transport-agnostic: the
// multi-group sockets and the single-connection manager both feed it.
type Processor struct {
	cache  *book.Cache
	sink   Sink
	logger *slog.Logger
}

// NewProcessor creates a processor over the shared cache.
func NewProcessor(cache *book.Cache, sink Sink, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cache: cache, sink: sink, logger: logger}
}

// HandleFrame parses one inbound text frame and dispatches its events.
// member filters events to the connection's current subscription set,
// guarding against stale data for now-unsubscribed assets. Parse failures
// are surfaced through the sink's error callback; they never kill the
// connection.
func (p *Processor) HandleFrame(data []byte, member func(assetID string) bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}
	if string(data) == pongSentinel {
		return
	}

	raws, err := normalizeFrame(data)
	if err != nil {
		metrics.ParseErrors.Inc()
		p.sink.reportError(fmt.Errorf("parse frame: %w", err))
		return
	}

	var (
		books   []model.BookEvent
		ticks   []model.TickSizeEvent
		changes []model.PriceChangeEvent
		trades  []model.LastTradeEvent
	)

	for _, raw := range raws {
		env, err := unmarshalEnvelope(raw)
		if err != nil {
			metrics.ParseErrors.Inc()
			p.sink.reportError(fmt.Errorf("parse event: %w", err))
			continue
		}

		switch env.EventType {
		case model.EventTypeBook:
			var ev model.BookEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				metrics.ParseErrors.Inc()
				p.sink.reportError(fmt.Errorf("parse book event: %w", err))
				continue
			}
			if member(ev.AssetID) {
				books = append(books, ev)
			}

		case model.EventTypeTickSizeChange:
			var ev model.TickSizeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				metrics.ParseErrors.Inc()
				p.sink.reportError(fmt.Errorf("parse tick size event: %w", err))
				continue
			}
			if member(ev.AssetID) {
				ticks = append(ticks, ev)
			}

		case model.EventTypePriceChange:
			var ev model.PriceChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				metrics.ParseErrors.Inc()
				p.sink.reportError(fmt.Errorf("parse price change event: %w", err))
				continue
			}
			kept := ev.Changes[:0:0]
			for _, ch := range ev.Changes {
				if member(ch.AssetID) {
					kept = append(kept, ch)
				}
			}
			if len(kept) > 0 {
				ev.Changes = kept
				changes = append(changes, ev)
			}

		case model.EventTypeLastTrade:
			var ev model.LastTradeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				metrics.ParseErrors.Inc()
				p.sink.reportError(fmt.Errorf("parse last trade event: %w", err))
				continue
			}
			if member(ev.AssetID) {
				trades = append(trades, ev)
			}

		default:
			p.sink.reportError(fmt.Errorf("unknown event type %q", env.EventType))
		}
	}

	// Fixed dispatch order. Book snapshots must land in the cache before
	// price-change/last-trade derivation reads it.
	p.handleBooks(books)
	p.handleTickSizes(ticks)
	p.handlePriceChanges(changes)
	p.handleLastTrades(trades)
}

func (p *Processor) handleBooks(events []model.BookEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		p.cache.ReplaceBook(ev.AssetID, ev.Bids, ev.Asks)
		metrics.EventsTotal.WithLabelValues(model.EventTypeBook).Inc()
	}
	if p.sink.OnBook != nil {
		p.sink.OnBook(events)
	}
}

func (p *Processor) handleTickSizes(events []model.TickSizeEvent) {
	if len(events) == 0 {
		return
	}
	metrics.EventsTotal.WithLabelValues(model.EventTypeTickSizeChange).Add(float64(len(events)))
	if p.sink.OnTickSize != nil {
		p.sink.OnTickSize(events)
	}
}

func (p *Processor) handlePriceChanges(events []model.PriceChangeEvent) {
	if len(events) == 0 {
		return
	}

	var updates []model.PriceUpdate
	for _, ev := range events {
		metrics.EventsTotal.WithLabelValues(model.EventTypePriceChange).Inc()
		for _, ch := range ev.Changes {
			level := model.PriceLevel{Price: ch.Price, Size: ch.Size}
			if err := p.cache.UpsertPriceChange(ch.AssetID, level, ch.Side); err != nil {
				if errors.Is(err, book.ErrBookNotFound) {
					// Delta before any snapshot; nothing to derive from.
					p.logger.Debug("price change before book snapshot", "asset_id", ch.AssetID)
					continue
				}
				p.logger.Debug("price change not applied", "asset_id", ch.AssetID, "error", err)
				continue
			}
			if u := p.derive(ch.AssetID, ev.Timestamp, model.EventTypePriceChange, ev, ""); u != nil {
				updates = append(updates, *u)
			}
		}
	}

	if p.sink.OnPriceChange != nil {
		p.sink.OnPriceChange(events)
	}
	p.emitUpdates(updates)
}

func (p *Processor) handleLastTrades(events []model.LastTradeEvent) {
	if len(events) == 0 {
		return
	}

	var updates []model.PriceUpdate
	for _, ev := range events {
		metrics.EventsTotal.WithLabelValues(model.EventTypeLastTrade).Inc()
		if u := p.derive(ev.AssetID, ev.Timestamp, model.EventTypeLastTrade, ev, ev.Price); u != nil {
			updates = append(updates, *u)
		}
	}

	if p.sink.OnLastTrade != nil {
		p.sink.OnLastTrade(events)
	}
	p.emitUpdates(updates)
}

func (p *Processor) emitUpdates(updates []model.PriceUpdate) {
	if len(updates) == 0 {
		return
	}
	metrics.PriceUpdates.Add(float64(len(updates)))
	if p.sink.OnPriceUpdate != nil {
		p.sink.OnPriceUpdate(updates)
	}
}

// derive runs the fair-price rule for one asset and returns a PriceUpdate
// when the derived price differs from the last one, nil otherwise.
//
// Rule: spread <= $0.10 prices at the book midpoint; a wider spread falls
// back to the triggering trade's price (normalized through decimal
// parsing to strip trailing zeros). A price change hitting a wide-spread
// book carries no trade price and derives nothing. Book-state failures
// (missing book, empty side, non-numeric prices) skip derivation for this
// asset only; they are logged, never surfaced.
func (p *Processor) derive(assetID, timestamp, triggeredBy string, event any, tradePrice string) *model.PriceUpdate {
	over, err := p.cache.SpreadOver(assetID, spreadThreshold)
	if err != nil {
		p.logger.Debug("skipping price derivation", "asset_id", assetID, "error", err)
		return nil
	}

	var candidate string
	if !over {
		candidate, err = p.cache.MidpointPrice(assetID)
		if err != nil {
			p.logger.Debug("skipping price derivation", "asset_id", assetID, "error", err)
			return nil
		}
	} else {
		if tradePrice == "" {
			return nil
		}
		d, err := decimal.NewFromString(tradePrice)
		if err != nil {
			p.logger.Debug("skipping price derivation", "asset_id", assetID, "error", err)
			return nil
		}
		candidate = d.String()
	}

	entry, ok := p.cache.GetEntry(assetID)
	if !ok || entry.Price == candidate {
		// Change detection: identical derived prices are suppressed.
		return nil
	}

	p.cache.SetPrice(assetID, candidate)
	entry, _ = p.cache.GetEntry(assetID)

	return &model.PriceUpdate{
		AssetID:     assetID,
		Timestamp:   timestamp,
		Price:       candidate,
		Midpoint:    entry.Midpoint,
		Spread:      entry.Spread,
		Bids:        entry.Bids,
		Asks:        entry.Asks,
		TriggeredBy: triggeredBy,
		Event:       event,
	}
}

// normalizeFrame turns a frame holding either one JSON object or an array
// of objects into a slice of raw events.
func normalizeFrame(data []byte) ([]json.RawMessage, error) {
	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}
