package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"clobstream/internal/model"
)

// displayPrecision is the number of decimal places kept for derived
// midpoint/spread values. Trailing zeros are trimmed on formatting.
const displayPrecision = 3

// Entry is the cached order book state for one asset.
type Entry struct {
	Bids []model.PriceLevel // ascending by price; best bid last
	Asks []model.PriceLevel // descending by price; best ask last

	// Last derived display price and last computed midpoint/spread.
	// Empty until first computed; deliberately preserved across
	// snapshot replaces since they describe what was last shown,
	// not current book state.
	Price    string
	Midpoint string
	Spread   string
}

// Cache holds order books for all subscribed assets. Safe for concurrent
// use; it is shared by every connection of a manager.
type Cache struct {
	mu    sync.RWMutex
	books map[string]*Entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{books: make(map[string]*Entry)}
}

// ReplaceBook installs a full snapshot for an asset, creating the entry if
// needed. Both sides are copied and re-sorted. Previously derived
// price/midpoint/spread values survive the replace.
func (c *Cache) ReplaceBook(assetID string, bids, asks []model.PriceLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.books[assetID]
	if !ok {
		e = &Entry{}
		c.books[assetID] = e
	}

	e.Bids = append([]model.PriceLevel(nil), bids...)
	e.Asks = append([]model.PriceLevel(nil), asks...)
	sortAscending(e.Bids)
	sortDescending(e.Asks)
}

// UpsertPriceChange applies an incremental level update to one side.
// A level matching by price has its size replaced in place; an unmatched
// level is inserted and the side re-sorted. A size of "0" is stored
// literally, not treated as a deletion. Returns ErrBookNotFound if no
// snapshot ever established a book for the asset.
func (c *Cache) UpsertPriceChange(assetID string, level model.PriceLevel, side string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.books[assetID]
	if !ok {
		return ErrBookNotFound
	}

	if side == model.SideBuy {
		e.Bids = upsertLevel(e.Bids, level)
		sortAscending(e.Bids)
	} else {
		e.Asks = upsertLevel(e.Asks, level)
		sortDescending(e.Asks)
	}
	return nil
}

// SpreadOver reports whether the current spread (best ask minus best bid)
// strictly exceeds threshold. As a side effect the entry's cached spread
// is refreshed.
func (c *Cache) SpreadOver(assetID string, threshold decimal.Decimal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, bid, ask, err := c.bestLocked(assetID)
	if err != nil {
		return false, err
	}

	spread := ask.Sub(bid)
	e.Spread = spread.Round(displayPrecision).String()
	return spread.GreaterThan(threshold), nil
}

// MidpointPrice returns (best bid + best ask) / 2 rounded to three decimal
// places with trailing zeros trimmed, refreshing the entry's cached
// midpoint.
func (c *Cache) MidpointPrice(assetID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, bid, ask, err := c.bestLocked(assetID)
	if err != nil {
		return "", err
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2)).Round(displayPrecision)
	e.Midpoint = mid.String()
	return e.Midpoint, nil
}

// SetPrice records the last derived display price for an asset. A missing
// entry is a no-op.
func (c *Cache) SetPrice(assetID, price string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.books[assetID]; ok {
		e.Price = price
	}
}

// GetEntry returns a copy of the cached entry for an asset.
func (c *Cache) GetEntry(assetID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.books[assetID]
	if !ok {
		return Entry{}, false
	}

	out := *e
	out.Bids = append([]model.PriceLevel(nil), e.Bids...)
	out.Asks = append([]model.PriceLevel(nil), e.Asks...)
	return out, true
}

// Clear removes the given assets, or every entry when called with no
// arguments. Unknown assets are ignored.
func (c *Cache) Clear(assetIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assetIDs) == 0 {
		c.books = make(map[string]*Entry)
		return
	}
	for _, id := range assetIDs {
		delete(c.books, id)
	}
}

// Len returns the number of tracked assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

// bestLocked resolves the best bid and ask for an asset. Caller holds the
// lock; the returned entry pointer is only valid while it is held.
func (c *Cache) bestLocked(assetID string) (*Entry, decimal.Decimal, decimal.Decimal, error) {
	var zero decimal.Decimal

	e, ok := c.books[assetID]
	if !ok {
		return nil, zero, zero, ErrBookNotFound
	}
	if len(e.Asks) == 0 {
		return nil, zero, zero, &EmptyBookSideError{AssetID: assetID, Side: "ask"}
	}
	if len(e.Bids) == 0 {
		return nil, zero, zero, &EmptyBookSideError{AssetID: assetID, Side: "bid"}
	}

	// Best bid is the last bid (ascending), best ask the last ask
	// (descending). Every mutator maintains this ordering.
	bidRaw := e.Bids[len(e.Bids)-1].Price
	askRaw := e.Asks[len(e.Asks)-1].Price

	bid, err := decimal.NewFromString(bidRaw)
	if err != nil {
		return nil, zero, zero, &NumericError{AssetID: assetID, BestBid: bidRaw, BestAsk: askRaw, Err: err}
	}
	ask, err := decimal.NewFromString(askRaw)
	if err != nil {
		return nil, zero, zero, &NumericError{AssetID: assetID, BestBid: bidRaw, BestAsk: askRaw, Err: err}
	}
	return e, bid, ask, nil
}

// upsertLevel replaces the size of a matching level or appends a new one.
// Prices are matched numerically when both parse, otherwise by raw string.
func upsertLevel(levels []model.PriceLevel, level model.PriceLevel) []model.PriceLevel {
	for i := range levels {
		if samePrice(levels[i].Price, level.Price) {
			levels[i].Size = level.Size
			return levels
		}
	}
	return append(levels, level)
}

func samePrice(a, b string) bool {
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}

func sortAscending(levels []model.PriceLevel) {
	sort.SliceStable(levels, func(i, j int) bool {
		return numericLess(levels[i].Price, levels[j].Price)
	})
}

func sortDescending(levels []model.PriceLevel) {
	sort.SliceStable(levels, func(i, j int) bool {
		return numericLess(levels[j].Price, levels[i].Price)
	})
}

// numericLess compares price strings numerically. Unparseable prices sort
// as zero so a malformed level cannot panic the sort; queries against such
// a book still fail with NumericError.
func numericLess(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	if errA != nil {
		da = decimal.Zero
	}
	db, errB := decimal.NewFromString(b)
	if errB != nil {
		db = decimal.Zero
	}
	return da.LessThan(db)
}
