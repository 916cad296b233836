package model

// Event type discriminants used by the market channel.
const (
	EventTypeBook           = "book"
	EventTypePriceChange    = "price_change"
	EventTypeLastTrade      = "last_trade_price"
	EventTypeTickSizeChange = "tick_size_change"
)

// Order sides as the feed spells them.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookEvent is a full order book snapshot for one asset.
type BookEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash,omitempty"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// PriceChange is one changed price level within a PriceChangeEvent.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	Hash    string `json:"hash,omitempty"`
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}

// PriceChangeEvent is an incremental book update carrying one or more
// level changes, each tagged with its own asset ID.
type PriceChangeEvent struct {
	EventType string        `json:"event_type"`
	Market    string        `json:"market"`
	Timestamp string        `json:"timestamp"`
	Changes   []PriceChange `json:"price_changes"`
}

// LastTradeEvent reports the most recent trade execution for an asset.
type LastTradeEvent struct {
	EventType  string `json:"event_type"`
	AssetID    string `json:"asset_id"`
	Market     string `json:"market"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Side       string `json:"side"`
	FeeRateBPS string `json:"fee_rate_bps,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// TickSizeEvent reports a change of the minimum price increment.
type TickSizeEvent struct {
	EventType   string `json:"event_type"`
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// PriceUpdate is a synthesized event, not an upstream one. It carries the
// system's opinion of fair price for an asset: the book midpoint while the
// spread is at most $0.10, otherwise the last traded price. One is emitted
// only when the derived price actually changes.
type PriceUpdate struct {
	AssetID   string       `json:"asset_id"`
	Timestamp string       `json:"timestamp"`
	Price     string       `json:"price"`
	Midpoint  string       `json:"midpoint"`
	Spread    string       `json:"spread"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`

	// TriggeredBy is the upstream event type that produced this update,
	// Event the event itself (a PriceChangeEvent or LastTradeEvent).
	TriggeredBy string `json:"triggered_by"`
	Event       any    `json:"-"`
}
