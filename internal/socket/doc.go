// Package socket implements the per-group WebSocket connection and the
// inbound event pipeline.
//
// A Socket owns one physical connection bound to one registry group. It
// dials through the shared admission limiter, sends the market subscribe
// frame, and feeds every inbound frame to a Processor, which classifies
// events, updates the order book cache, and runs price derivation.
//
// The Processor is independent of the transport so the single-connection
// manager variant reuses it with its own membership set.
//
// Group lifecycle per connection:
//
//	PENDING --connect ok--> ALIVE --error/close--> DEAD --sweep--> new Socket
//
// CLEANUP is terminal and only ever flagged here, never acted on; the
// registry sweep removes cleanup groups.
package socket
