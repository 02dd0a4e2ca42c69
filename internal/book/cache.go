// Package book maintains local L2 order book replicas, one per subscribed
// asset, reconstructed from websocket snapshots plus deltas.
//
// Each entry is updated from two sources:
//   - full snapshots via ReplaceBook ("book" events or REST bootstrap)
//   - incremental updates via UpsertPriceChange ("price_change" deltas)
//
// Prices and sizes are stored as decimals to preserve the feed's string
// precision; floating point is used only for threshold comparisons at
// >= 0.01 granularity. The map is safe for concurrent use, but each entry
// has a single writer: the socket goroutine that owns the asset's group.
package book

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallnest/safemap"

	"polymarket-feed/pkg/types"
)

var (
	// ErrBookNotFound means the asset has never received a snapshot.
	ErrBookNotFound = errors.New("book not found")
	// ErrIncompleteBook means one side of the book is empty, so midpoint
	// and spread are undefined.
	ErrIncompleteBook = errors.New("incomplete book")
)

// Level is a single bid or ask level with decimal-parsed price and size.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Entry is the cached replica for one asset: the two sorted sides plus the
// derived values last announced for the asset.
type Entry struct {
	AssetID   string
	Market    string  // condition ID, carried through to synthesized events
	Bids      []Level // sorted descending by price (best bid first)
	Asks      []Level // sorted ascending by price (best ask first)
	Hash      string  // server-provided book version hash
	Timestamp string  // feed-supplied timestamp of the snapshot

	// Last computed/announced derived values, empty until first computed.
	Midpoint string
	Spread   string
	Price    string

	UpdatedAt time.Time // local receive time of the last mutation
}

// Levels returns a string-level copy of both sides, suitable for embedding
// in a synthesized price update.
func (e *Entry) Levels() types.BookLevels {
	out := types.BookLevels{
		Bids: make([]types.PriceLevel, len(e.Bids)),
		Asks: make([]types.PriceLevel, len(e.Asks)),
	}
	for i, lv := range e.Bids {
		out.Bids[i] = types.PriceLevel{Price: lv.Price.String(), Size: lv.Size.String()}
	}
	for i, lv := range e.Asks {
		out.Asks[i] = types.PriceLevel{Price: lv.Price.String(), Size: lv.Size.String()}
	}
	return out
}

// bestBidAsk returns the top of book. ok is false when either side is empty.
func (e *Entry) bestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if len(e.Bids) == 0 || len(e.Asks) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return e.Bids[0].Price, e.Asks[0].Price, true
}

// Cache maps asset_id -> Entry.
type Cache struct {
	entries *safemap.SafeMap[string, *Entry]
}

// NewCache creates an empty book cache.
func NewCache() *Cache {
	return &Cache{entries: safemap.New[string, *Entry]()}
}

// ReplaceBook replaces the asset's entry with the event's snapshot and
// recomputes the stored midpoint and spread when both sides exist (they are
// left empty otherwise). The announced price survives the replacement so
// that synthesis can still detect "unchanged".
func (c *Cache) ReplaceBook(ev types.BookEvent) error {
	bids, err := parseLevels(ev.Bids)
	if err != nil {
		return fmt.Errorf("book %s bids: %w", ev.AssetID, err)
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		return fmt.Errorf("book %s asks: %w", ev.AssetID, err)
	}
	sortLevels(bids, true)
	sortLevels(asks, false)

	entry, ok := c.entries.Get(ev.AssetID)
	if !ok {
		entry = &Entry{AssetID: ev.AssetID}
		c.entries.Set(ev.AssetID, entry)
	}
	entry.Market = ev.Market
	entry.Bids = bids
	entry.Asks = asks
	entry.Hash = ev.Hash
	entry.Timestamp = ev.Timestamp
	entry.UpdatedAt = time.Now()

	entry.Midpoint, entry.Spread = "", ""
	if bid, ask, ok := entry.bestBidAsk(); ok {
		entry.Midpoint = midpointOf(bid, ask).String()
		entry.Spread = ask.Sub(bid).String()
	}
	return nil
}

// SeedBook installs a snapshot only if the asset has no entry yet, and
// reports whether it did. REST bootstrap runs off the socket goroutine, so
// a replica the live feed already owns is never touched.
func (c *Cache) SeedBook(ev types.BookEvent) (bool, error) {
	bids, err := parseLevels(ev.Bids)
	if err != nil {
		return false, fmt.Errorf("book %s bids: %w", ev.AssetID, err)
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		return false, fmt.Errorf("book %s asks: %w", ev.AssetID, err)
	}
	sortLevels(bids, true)
	sortLevels(asks, false)

	entry := &Entry{
		AssetID:   ev.AssetID,
		Market:    ev.Market,
		Bids:      bids,
		Asks:      asks,
		Hash:      ev.Hash,
		Timestamp: ev.Timestamp,
		UpdatedAt: time.Now(),
	}
	if bid, ask, ok := entry.bestBidAsk(); ok {
		entry.Midpoint = midpointOf(bid, ask).String()
		entry.Spread = ask.Sub(bid).String()
	}
	return c.entries.SetIfAbsent(ev.AssetID, entry), nil
}

// UpsertPriceChange applies each delta in the event to the asset's entry.
// A zero size removes its level; sort order is preserved either way.
// Returns ErrBookNotFound if the asset has never received a snapshot.
func (c *Cache) UpsertPriceChange(ev types.PriceChangeEvent) error {
	entry, ok := c.entries.Get(ev.AssetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookNotFound, ev.AssetID)
	}
	for _, ch := range ev.Changes {
		price, err := decimal.NewFromString(ch.Price)
		if err != nil {
			return fmt.Errorf("price_change %s price %q: %w", ev.AssetID, ch.Price, err)
		}
		size, err := decimal.NewFromString(ch.Size)
		if err != nil {
			return fmt.Errorf("price_change %s size %q: %w", ev.AssetID, ch.Size, err)
		}
		if ch.Side == types.BUY {
			entry.Bids = upsertLevel(entry.Bids, price, size, true)
		} else {
			entry.Asks = upsertLevel(entry.Asks, price, size, false)
		}
	}
	if ev.Hash != "" {
		entry.Hash = ev.Hash
	}
	if ev.Timestamp != "" {
		entry.Timestamp = ev.Timestamp
	}
	entry.UpdatedAt = time.Now()
	return nil
}

// SpreadOver reports whether the asset's spread is at or above threshold.
func (c *Cache) SpreadOver(assetID string, threshold float64) (bool, error) {
	entry, ok := c.entries.Get(assetID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrBookNotFound, assetID)
	}
	bid, ask, ok := entry.bestBidAsk()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrIncompleteBook, assetID)
	}
	return ask.Sub(bid).GreaterThanOrEqual(decimal.NewFromFloat(threshold)), nil
}

// Midpoint returns the current midpoint (bestBid+bestAsk)/2 as a string.
func (c *Cache) Midpoint(assetID string) (string, error) {
	entry, ok := c.entries.Get(assetID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBookNotFound, assetID)
	}
	bid, ask, ok := entry.bestBidAsk()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIncompleteBook, assetID)
	}
	return midpointOf(bid, ask).String(), nil
}

// Spread returns the current spread bestAsk-bestBid as a string.
func (c *Cache) Spread(assetID string) (string, error) {
	entry, ok := c.entries.Get(assetID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBookNotFound, assetID)
	}
	bid, ask, ok := entry.bestBidAsk()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIncompleteBook, assetID)
	}
	return ask.Sub(bid).String(), nil
}

// CommitPrice stores a newly announced price together with the midpoint and
// spread it was derived from. It reports whether the price actually changed;
// an unchanged price commits nothing.
func (c *Cache) CommitPrice(assetID, price, midpoint, spread string) (bool, error) {
	entry, ok := c.entries.Get(assetID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrBookNotFound, assetID)
	}
	if entry.Price == price {
		return false, nil
	}
	entry.Price = price
	entry.Midpoint = midpoint
	entry.Spread = spread
	return true, nil
}

// GetBookEntry returns the asset's entry, or nil if there is none. The
// returned entry is the live replica; only the owning socket goroutine may
// mutate it.
func (c *Cache) GetBookEntry(assetID string) *Entry {
	entry, ok := c.entries.Get(assetID)
	if !ok {
		return nil
	}
	return entry
}

// Remove drops the asset's entry, if any.
func (c *Cache) Remove(assetID string) {
	c.entries.Remove(assetID)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Clear()
}

// Count returns the number of cached books.
func (c *Cache) Count() int {
	return c.entries.Count()
}

// NormalizePrice re-serializes a decimal price string without trailing
// zeros, e.g. "0.7000" -> "0.7".
func NormalizePrice(s string) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("normalize price %q: %w", s, err)
	}
	return d.String(), nil
}

func midpointOf(bid, ask decimal.Decimal) decimal.Decimal {
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

func parseLevels(in []types.PriceLevel) ([]Level, error) {
	out := make([]Level, 0, len(in))
	for _, lv := range in {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lv.Price, err)
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", lv.Size, err)
		}
		out = append(out, Level{Price: price, Size: size})
	}
	return out, nil
}

func sortLevels(levels []Level, descending bool) {
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// upsertLevel inserts, replaces, or removes one level while keeping the
// side sorted. Removing a level that is not present is a no-op.
func upsertLevel(levels []Level, price, size decimal.Decimal, descending bool) []Level {
	for i := range levels {
		cmp := levels[i].Price.Cmp(price)
		if cmp == 0 {
			if size.IsZero() {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
		past := cmp < 0
		if !descending {
			past = cmp > 0
		}
		if past {
			if size.IsZero() {
				return levels
			}
			levels = append(levels, Level{})
			copy(levels[i+1:], levels[i:])
			levels[i] = Level{Price: price, Size: size}
			return levels
		}
	}
	if size.IsZero() {
		return levels
	}
	return append(levels, Level{Price: price, Size: size})
}
