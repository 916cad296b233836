// Package book implements the shared in-memory order book cache.
//
// One entry is kept per subscribed asset. Bids are held in ascending price
// order and asks in descending price order, so the best level on either
// side is always the last element. Midpoint and spread are computed with
// decimal arithmetic and cached on the entry alongside the last derived
// display price.
package book
