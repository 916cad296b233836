// Package registry owns the authoritative list of connection groups.
//
// A group is a bounded set of asset IDs multiplexed onto one WebSocket
// connection. The registry is the only component allowed to resize a
// group's member set; sockets update a group's status and transport
// through registry methods, addressed by group ID rather than by holding
// live references, so a reconnected group can never be mutated through a
// stale handle.
//
// Every mutation runs under a single mutex, making concurrent
// AddAssets/RemoveAssets calls from the manager atomic with respect to
// each other. Reads return copies.
package registry
