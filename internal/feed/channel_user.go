package feed

import (
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"

	"polymarket-feed/internal/metrics"
	"polymarket-feed/pkg/types"
)

// userChannel implements channelPolicy for the authenticated user feed.
// Events are keyed by market (condition ID) rather than asset, there is no
// book to maintain, and filtering happens at dispatch time only so that a
// subscribe-to-all group passes everything through.
type userChannel struct {
	registry *Registry
	auth     *types.Auth
	handler  UserHandler
	metrics  *metrics.Feed
	logger   *slog.Logger
}

func (c *userChannel) name() string { return channelUser }
func (c *userChannel) path() string { return "/ws/user" }

// subscribeMessage carries the credential triplet; an empty market list on a
// pinned group subscribes to every market the account touches.
func (c *userChannel) subscribeMessage(keys []string) any {
	return types.SubscribeMessage{
		Auth:    c.auth,
		Type:    types.SubscribeTypeUser,
		Markets: keys,
	}
}

func (c *userChannel) updateMessage(keys []string) any {
	return types.UpdateMessage{
		Auth:      c.auth,
		Markets:   keys,
		Operation: types.OperationSubscribe,
	}
}

func (c *userChannel) onOpen(groupID string, keys []string) { c.handler.OnOpen(groupID, keys) }
func (c *userChannel) onError(err error)                    { c.handler.OnError(err) }

func (c *userChannel) onClose(groupID string, code int, reason string) {
	c.handler.OnClose(groupID, code, reason)
}

func (c *userChannel) onRemovedKeys([]string) {}
func (c *userChannel) onCleared()             {}

// handleFrame buckets user events into orders and trades and dispatches
// them filtered by the current market set.
func (c *userChannel) handleFrame(_ *Group, data []byte) {
	c.metrics.RecordFrame(c.name())

	events, err := splitFrame(data)
	if err != nil {
		c.metrics.RecordParseError(c.name())
		c.handler.OnError(err)
		return
	}

	var (
		orders []types.OrderEvent
		trades []types.TradeEvent
	)

	for _, raw := range events {
		var env eventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.metrics.RecordParseError(c.name())
			c.handler.OnError(fmt.Errorf("%w: envelope: %v", ErrParse, err))
			continue
		}
		if env.EventType == "" {
			c.metrics.RecordParseError(c.name())
			c.handler.OnError(fmt.Errorf("%w: event missing discriminator", ErrParse))
			continue
		}

		kind := types.UserEventKinds.Parse(env.EventType)
		if kind == nil {
			c.handler.OnError(fmt.Errorf("%w: %q", ErrUnknownEventKind, env.EventType))
			continue
		}

		switch *kind {
		case types.KindOrder:
			var ev types.OrderEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: order event: %v", ErrParse, err))
				continue
			}
			orders = append(orders, ev)
		case types.KindTrade:
			var ev types.TradeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.metrics.RecordParseError(c.name())
				c.handler.OnError(fmt.Errorf("%w: trade event: %v", ErrParse, err))
				continue
			}
			trades = append(trades, ev)
		}
	}

	c.metrics.RecordEvents(c.name(), types.KindOrder.Value, len(orders))
	c.metrics.RecordEvents(c.name(), types.KindTrade.Value, len(trades))

	// Handlers fire even when filtering empties a batch, so consumers can
	// observe activity ticks.
	if len(orders) > 0 {
		c.handler.OnOrder(filterSubscribedMarkets(c, orders,
			func(e types.OrderEvent) string { return e.Market }))
	}
	if len(trades) > 0 {
		c.handler.OnTrade(filterSubscribedMarkets(c, trades,
			func(e types.TradeEvent) string { return e.Market }))
	}
}

// filterSubscribedMarkets drops events for markets that are no longer
// subscribed, unless a subscribe-to-all group is present.
func filterSubscribedMarkets[E any](c *userChannel, events []E, marketOf func(E) string) []E {
	if c.registry.HasSubscribeToAll() {
		return events
	}
	kept := make([]E, 0, len(events))
	for _, ev := range events {
		if !c.registry.HasKey(marketOf(ev)) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}
