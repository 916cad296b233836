package book

import (
	"errors"
	"fmt"
)

// ErrBookNotFound is returned when an incremental update references an
// asset that never received a full snapshot. Deltas cannot create a book.
var ErrBookNotFound = errors.New("no order book for asset")

// EmptyBookSideError indicates a midpoint/spread query against a book with
// zero levels on one side.
type EmptyBookSideError struct {
	AssetID string
	Side    string // "bid" or "ask"
}

func (e *EmptyBookSideError) Error() string {
	return fmt.Sprintf("order book for %s has no %s levels", e.AssetID, e.Side)
}

// NumericError indicates that a best bid or best ask price string did not
// parse as a number. Both raw strings are included for diagnosis.
type NumericError struct {
	AssetID string
	BestBid string
	BestAsk string
	Err     error
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-numeric book prices for %s: best bid %q, best ask %q: %v",
		e.AssetID, e.BestBid, e.BestAsk, e.Err)
}

func (e *NumericError) Unwrap() error { return e.Err }
