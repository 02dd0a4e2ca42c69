package feed

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"polymarket-feed/internal/book"
	"polymarket-feed/internal/metrics"
	"polymarket-feed/pkg/types"
)

// spreadThreshold splits the two synthesis regimes: tight books take the
// midpoint as fair price, wide books follow the last trade print.
const spreadThreshold = 0.10

// marketChannel implements channelPolicy for the public market feed. It
// owns the order book replica and synthesizes price_update events from it.
type marketChannel struct {
	registry    *Registry
	cache       *book.Cache
	handler     MarketHandler
	metrics     *metrics.Feed
	logger      *slog.Logger
	initialDump *bool

	// bootstrap, when set, seeds book replicas over REST after a group
	// subscribes. Used instead of initial_dump snapshots.
	bootstrap func(keys []string)
}

func (c *marketChannel) name() string { return channelMarket }
func (c *marketChannel) path() string { return "/ws/market" }

func (c *marketChannel) subscribeMessage(keys []string) any {
	return types.SubscribeMessage{
		Type:        types.SubscribeTypeMarket,
		AssetIDs:    keys,
		InitialDump: c.initialDump,
	}
}

func (c *marketChannel) updateMessage(keys []string) any {
	return types.UpdateMessage{
		AssetIDs:  keys,
		Operation: types.OperationSubscribe,
	}
}

func (c *marketChannel) onOpen(groupID string, keys []string) {
	if c.bootstrap != nil && len(keys) > 0 {
		c.bootstrap(keys)
	}
	c.handler.OnOpen(groupID, keys)
}

func (c *marketChannel) onError(err error) { c.handler.OnError(err) }

func (c *marketChannel) onClose(groupID string, code int, reason string) {
	c.handler.OnClose(groupID, code, reason)
}

// onRemovedKeys evicts replicas for assets nobody subscribes to anymore.
func (c *marketChannel) onRemovedKeys(keys []string) {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	c.metrics.SetCachedBooks(c.cache.Count())
}

func (c *marketChannel) onCleared() {
	c.cache.Clear()
	c.metrics.SetCachedBooks(0)
}

// handleFrame runs the market pipeline for one inbound frame: split, filter
// to the group's keys, bucket by kind, dispatch to handlers, apply to the
// book cache, then synthesize derived price updates.
func (c *marketChannel) handleFrame(g *Group, data []byte) {
	c.metrics.RecordFrame(c.name())

	events, err := splitFrame(data)
	if err != nil {
		c.metrics.RecordParseError(c.name())
		c.handler.OnError(err)
		return
	}

	var (
		books      []types.BookEvent
		ticks      []types.TickSizeChangeEvent
		changes    []types.PriceChangeEvent
		lastTrades []types.LastTradePriceEvent
	)

	for _, raw := range events {
		var env eventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.metrics.RecordParseError(c.name())
			c.handler.OnError(fmt.Errorf("%w: envelope: %v", ErrParse, err))
			continue
		}
		if env.EventType == "" || env.AssetID == "" {
			c.metrics.RecordParseError(c.name())
			c.handler.OnError(fmt.Errorf("%w: event missing discriminator", ErrParse))
			continue
		}
		// Stale events for keys this group no longer carries are dropped
		// silently; the key may have just been removed.
		if !g.Keys.Contains(env.AssetID) {
			continue
		}

		kind := types.MarketEventKinds.Parse(env.EventType)
		if kind == nil {
			c.handler.OnError(fmt.Errorf("%w: %q", ErrUnknownEventKind, env.EventType))
			continue
		}

		switch *kind {
		case types.KindBook:
			var ev types.BookEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: book event: %v", ErrParse, err))
				continue
			}
			books = append(books, ev)
		case types.KindTickSizeChange:
			var ev types.TickSizeChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: tick_size_change event: %v", ErrParse, err))
				continue
			}
			ticks = append(ticks, ev)
		case types.KindPriceChange:
			var ev types.PriceChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: price_change event: %v", ErrParse, err))
				continue
			}
			changes = append(changes, ev)
		case types.KindLastTradePrice:
			var ev types.LastTradePriceEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: last_trade_price event: %v", ErrParse, err))
				continue
			}
			lastTrades = append(lastTrades, ev)
		}
	}

	c.metrics.RecordEvents(c.name(), types.KindBook.Value, len(books))
	c.metrics.RecordEvents(c.name(), types.KindTickSizeChange.Value, len(ticks))
	c.metrics.RecordEvents(c.name(), types.KindPriceChange.Value, len(changes))
	c.metrics.RecordEvents(c.name(), types.KindLastTradePrice.Value, len(lastTrades))

	// Handlers fire before the cache is touched, each batch filtered to the
	// assets still subscribed anywhere in the registry.
	if len(books) > 0 {
		c.handler.OnBook(filterSubscribedAssets(c, books,
			func(e types.BookEvent) string { return e.AssetID }))
	}
	if len(ticks) > 0 {
		c.handler.OnTickSizeChange(filterSubscribedAssets(c, ticks,
			func(e types.TickSizeChangeEvent) string { return e.AssetID }))
	}
	if len(changes) > 0 {
		c.handler.OnPriceChange(filterSubscribedAssets(c, changes,
			func(e types.PriceChangeEvent) string { return e.AssetID }))
	}
	if len(lastTrades) > 0 {
		c.handler.OnLastTradePrice(filterSubscribedAssets(c, lastTrades,
			func(e types.LastTradePriceEvent) string { return e.AssetID }))
	}

	for _, ev := range books {
		if err := c.cache.ReplaceBook(ev); err != nil {
			c.logger.Warn("replace book failed", "asset", ev.AssetID, "error", err)
		}
	}
	if len(books) > 0 {
		c.metrics.SetCachedBooks(c.cache.Count())
	}
	for _, ev := range changes {
		if err := c.cache.UpsertPriceChange(ev); err != nil {
			c.logger.Warn("apply price change failed", "asset", ev.AssetID, "error", err)
		}
	}

	updates := make([]types.PriceUpdateEvent, 0, len(changes)+len(lastTrades))
	for _, ev := range changes {
		if update, ok := c.priceUpdateFromMidpoint(ev); ok {
			updates = append(updates, update)
		}
	}
	for _, ev := range lastTrades {
		if update, ok := c.priceUpdateFromTrade(ev); ok {
			updates = append(updates, update)
		}
	}
	if len(updates) > 0 {
		c.metrics.RecordPriceUpdates(len(updates))
		c.handler.OnPriceUpdate(filterSubscribedAssets(c, updates,
			func(e types.PriceUpdateEvent) string { return e.AssetID }))
	}
}

// priceUpdateFromMidpoint emits a derived update when a price_change left
// the book tight (spread below threshold) and moved the midpoint away from
// the stored price.
func (c *marketChannel) priceUpdateFromMidpoint(ev types.PriceChangeEvent) (types.PriceUpdateEvent, bool) {
	over, err := c.cache.SpreadOver(ev.AssetID, spreadThreshold)
	if err != nil {
		c.logger.Debug("skip midpoint update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	if over {
		return types.PriceUpdateEvent{}, false
	}

	mid, err := c.cache.Midpoint(ev.AssetID)
	if err != nil {
		c.logger.Debug("skip midpoint update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	spread, err := c.cache.Spread(ev.AssetID)
	if err != nil {
		c.logger.Debug("skip midpoint update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}

	changed, err := c.cache.CommitPrice(ev.AssetID, mid, mid, spread)
	if err != nil || !changed {
		return types.PriceUpdateEvent{}, false
	}
	return c.priceUpdate(ev.AssetID, ev.Market, types.KindPriceChange.Value, ev.Timestamp, mid, mid, spread), true
}

// priceUpdateFromTrade emits a derived update when the book is wide (spread
// at or above threshold) and the last trade printed at a new price.
func (c *marketChannel) priceUpdateFromTrade(ev types.LastTradePriceEvent) (types.PriceUpdateEvent, bool) {
	over, err := c.cache.SpreadOver(ev.AssetID, spreadThreshold)
	if err != nil {
		c.logger.Debug("skip trade update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	if !over {
		return types.PriceUpdateEvent{}, false
	}

	price, err := book.NormalizePrice(ev.Price)
	if err != nil {
		c.logger.Warn("unparseable trade price", "asset", ev.AssetID, "price", ev.Price, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	mid, err := c.cache.Midpoint(ev.AssetID)
	if err != nil {
		c.logger.Debug("skip trade update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	spread, err := c.cache.Spread(ev.AssetID)
	if err != nil {
		c.logger.Debug("skip trade update", "asset", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}

	changed, err := c.cache.CommitPrice(ev.AssetID, price, mid, spread)
	if err != nil || !changed {
		return types.PriceUpdateEvent{}, false
	}
	return c.priceUpdate(ev.AssetID, ev.Market, types.KindLastTradePrice.Value, ev.Timestamp, price, mid, spread), true
}

func (c *marketChannel) priceUpdate(assetID, market, trigger, timestamp, price, mid, spread string) types.PriceUpdateEvent {
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	var levels types.BookLevels
	if entry := c.cache.GetBookEntry(assetID); entry != nil {
		levels = entry.Levels()
	}
	return types.PriceUpdateEvent{
		EventType:       types.KindPriceUpdate.Value,
		AssetID:         assetID,
		Market:          market,
		TriggeringEvent: trigger,
		Timestamp:       timestamp,
		Book:            levels,
		Price:           price,
		Midpoint:        mid,
		Spread:          spread,
	}
}

// filterSubscribedAssets drops events whose asset has left the registry
// between receipt and dispatch. An asset held by more than one group points
// at a sharding fault, so it is flagged but still delivered once.
func filterSubscribedAssets[E any](c *marketChannel, events []E, assetOf func(E) string) []E {
	kept := make([]E, 0, len(events))
	for _, ev := range events {
		asset := assetOf(ev)
		n := c.registry.GroupCountForKey(asset)
		if n == 0 {
			continue
		}
		if n > 1 {
			c.logger.Warn("asset held by multiple groups", "asset", asset, "groups", n)
		}
		kept = append(kept, ev)
	}
	return kept
}
