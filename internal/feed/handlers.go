package feed

import "polymarket-feed/pkg/types"

// MarketHandler receives demultiplexed market-channel batches. Every method
// is invoked from the socket's read goroutine, one batch at a time per
// socket, so implementations see a socket's events in arrival order. Batches
// may be empty after subscription filtering; that is a normal tick.
//
// Embed BaseMarketHandler to implement only the methods you care about.
type MarketHandler interface {
	OnBook(events []types.BookEvent)
	OnPriceChange(events []types.PriceChangeEvent)
	OnTickSizeChange(events []types.TickSizeChangeEvent)
	OnLastTradePrice(events []types.LastTradePriceEvent)
	OnPriceUpdate(events []types.PriceUpdateEvent)

	OnOpen(groupID string, keys []string)
	OnClose(groupID string, code int, reason string)
	OnError(err error)
}

// BaseMarketHandler is a no-op MarketHandler.
type BaseMarketHandler struct{}

func (BaseMarketHandler) OnBook([]types.BookEvent)                     {}
func (BaseMarketHandler) OnPriceChange([]types.PriceChangeEvent)       {}
func (BaseMarketHandler) OnTickSizeChange([]types.TickSizeChangeEvent) {}
func (BaseMarketHandler) OnLastTradePrice([]types.LastTradePriceEvent) {}
func (BaseMarketHandler) OnPriceUpdate([]types.PriceUpdateEvent)       {}
func (BaseMarketHandler) OnOpen(string, []string)                      {}
func (BaseMarketHandler) OnClose(string, int, string)                  {}
func (BaseMarketHandler) OnError(error)                                {}

var _ MarketHandler = BaseMarketHandler{}

// UserHandler receives demultiplexed user-channel batches, filtered to the
// subscribed markets unless a subscribe-to-all group is pinned.
//
// Embed BaseUserHandler to implement only the methods you care about.
type UserHandler interface {
	OnOrder(events []types.OrderEvent)
	OnTrade(events []types.TradeEvent)

	OnOpen(groupID string, keys []string)
	OnClose(groupID string, code int, reason string)
	OnError(err error)
}

// BaseUserHandler is a no-op UserHandler.
type BaseUserHandler struct{}

func (BaseUserHandler) OnOrder([]types.OrderEvent)  {}
func (BaseUserHandler) OnTrade([]types.TradeEvent)  {}
func (BaseUserHandler) OnOpen(string, []string)     {}
func (BaseUserHandler) OnClose(string, int, string) {}
func (BaseUserHandler) OnError(error)               {}

var _ UserHandler = BaseUserHandler{}
