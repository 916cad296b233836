// Package manager is the public entry point of the feed client.
//
// Two managers implement the same Handlers contract:
//
//   - Manager multiplexes subscriptions over many bounded connection
//     groups, bin-packing new assets into groups of at most
//     MaxAssetsPerConnection and reconciling dead/empty groups with a
//     fixed-interval sweep.
//   - Single serves every subscription over one connection, buffering
//     subscribe/unsubscribe intent in pending sets that a short flush
//     timer batches into incremental frames.
//
// Neither manager lets an error escape a public method: every failure is
// funneled through the OnError handler. Caller-supplied handlers are
// recover()-guarded so a panicking callback cannot take down a read loop
// or timer.
package manager
