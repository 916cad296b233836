package socket

import "github.com/goccy/go-json"

// SubscribeFrame is the market-channel handshake. The feed expects the
// complete member set, not a delta.
type SubscribeFrame struct {
	AssetsIDs   []string `json:"assets_ids"`
	Type        string   `json:"type"`
	InitialDump bool     `json:"initial_dump,omitempty"`
}

// OperationFrame is the incremental subscribe/unsubscribe shape used by
// the single-connection manager variant.
type OperationFrame struct {
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
	AssetsIDs []string `json:"assets_ids"`
}

// ChannelTypeMarket is the subscription channel for market data.
const ChannelTypeMarket = "market"

// Operation values for OperationFrame.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// pongSentinel is the bare liveness reply the feed sends for our PING
// text frames. Not JSON.
const pongSentinel = "PONG"

// envelope probes just the discriminant fields of an inbound event.
type envelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
