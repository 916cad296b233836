// Package model defines shared data types for the CLOB market feed.
//
// Conventions:
//   - Prices and sizes: decimal strings exactly as the feed sends them
//     (e.g., "0.52"). They are compared numerically but never converted
//     to floats, to avoid representation drift.
//   - Timestamps: millisecond strings from the feed, passed through.
//   - Asset IDs: opaque string tokens identifying one market instrument.
package model
