package manager

import (
	"log/slog"

	"clobstream/internal/metrics"
	"clobstream/internal/model"
	"clobstream/internal/socket"
)

// Handlers is the caller's capability record. Every field is optional; a
// nil callback is a no-op. Callbacks run synchronously on the connection
// read loop, so events for one connection arrive in order.
type Handlers struct {
	OnBook           func(events []model.BookEvent)
	OnTickSizeChange func(events []model.TickSizeEvent)
	OnPriceChange    func(events []model.PriceChangeEvent)
	OnLastTrade      func(events []model.LastTradeEvent)
	OnPriceUpdate    func(updates []model.PriceUpdate)

	OnConnectionOpen  func(groupID string, assetIDs []string)
	OnConnectionClose func(groupID string, code int, reason string)
	OnError           func(err error)
}

// invoke runs a caller-supplied callback, containing any panic. A failing
// handler must never propagate into a read loop or timer.
func invoke(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			logger.Error("handler panicked", "handler", name, "panic", r)
		}
	}()
	fn()
}

// buildSink adapts caller handlers to a processor sink. Each batch is
// re-filtered through member at dispatch time: an asset unsubscribed
// between frame arrival and dispatch must not reach the caller.
func buildSink(h Handlers, logger *slog.Logger, member func(assetID string) bool, reportError func(error)) socket.Sink {
	return socket.Sink{
		OnBook: func(events []model.BookEvent) {
			if h.OnBook == nil {
				return
			}
			kept := events[:0:0]
			for _, ev := range events {
				if member(ev.AssetID) {
					kept = append(kept, ev)
				}
			}
			if len(kept) > 0 {
				invoke(logger, "on_book", func() { h.OnBook(kept) })
			}
		},
		OnTickSize: func(events []model.TickSizeEvent) {
			if h.OnTickSizeChange == nil {
				return
			}
			kept := events[:0:0]
			for _, ev := range events {
				if member(ev.AssetID) {
					kept = append(kept, ev)
				}
			}
			if len(kept) > 0 {
				invoke(logger, "on_tick_size_change", func() { h.OnTickSizeChange(kept) })
			}
		},
		OnPriceChange: func(events []model.PriceChangeEvent) {
			if h.OnPriceChange == nil {
				return
			}
			kept := events[:0:0]
			for _, ev := range events {
				changes := ev.Changes[:0:0]
				for _, ch := range ev.Changes {
					if member(ch.AssetID) {
						changes = append(changes, ch)
					}
				}
				if len(changes) > 0 {
					ev.Changes = changes
					kept = append(kept, ev)
				}
			}
			if len(kept) > 0 {
				invoke(logger, "on_price_change", func() { h.OnPriceChange(kept) })
			}
		},
		OnLastTrade: func(events []model.LastTradeEvent) {
			if h.OnLastTrade == nil {
				return
			}
			kept := events[:0:0]
			for _, ev := range events {
				if member(ev.AssetID) {
					kept = append(kept, ev)
				}
			}
			if len(kept) > 0 {
				invoke(logger, "on_last_trade", func() { h.OnLastTrade(kept) })
			}
		},
		OnPriceUpdate: func(updates []model.PriceUpdate) {
			if h.OnPriceUpdate == nil {
				return
			}
			kept := updates[:0:0]
			for _, u := range updates {
				if member(u.AssetID) {
					kept = append(kept, u)
				}
			}
			if len(kept) > 0 {
				invoke(logger, "on_price_update", func() { h.OnPriceUpdate(kept) })
			}
		},
		OnError: reportError,
	}
}
