// Package types defines the wire-level vocabulary shared across all packages.
//
// This package is the common vocabulary for the feed — websocket event
// payloads, subscription messages, order book levels, and market metadata.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/orsinium-labs/enum"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a level or fill: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// EventKind is the event_type discriminator carried by every websocket event.
// Kinds outside the channel's enum are unknown and routed to OnError.
type EventKind enum.Member[string]

var (
	KindBook           = EventKind{"book"}
	KindPriceChange    = EventKind{"price_change"}
	KindTickSizeChange = EventKind{"tick_size_change"}
	KindLastTradePrice = EventKind{"last_trade_price"}
	KindPriceUpdate    = EventKind{"price_update"} // synthetic, never on the wire
	KindOrder          = EventKind{"order"}
	KindTrade          = EventKind{"trade"}

	// MarketEventKinds are the kinds the market channel accepts off the wire.
	MarketEventKinds = enum.New(KindBook, KindPriceChange, KindTickSizeChange, KindLastTradePrice)
	// UserEventKinds are the kinds the user channel accepts off the wire.
	UserEventKinds = enum.New(KindOrder, KindTrade)
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookLevels is the two-sided level snapshot embedded in a price update.
type BookLevels struct {
	Bids []PriceLevel `json:"bids"` // sorted descending by price (best bid first)
	Asks []PriceLevel `json:"asks"` // sorted ascending by price (best ask first)
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// Event converts the REST snapshot into the equivalent websocket book event,
// so both can feed the same cache path.
func (r BookResponse) Event() BookEvent {
	return BookEvent{
		EventType: KindBook.Value,
		AssetID:   r.AssetID,
		Market:    r.Market,
		Timestamp: r.Timestamp,
		Hash:      r.Hash,
		Bids:      r.Bids,
		Asks:      r.Asks,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market channel events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the Polymarket
// market websocket. Frames carry either a single event object or an array
// of them, discriminated by "event_type".

// BookEvent is a full order book snapshot from the market channel.
// Replaces the entire local book for the given asset.
type BookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"` // book version hash
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// bookEventWire tolerates both field spellings the feed has used over time:
// "bids"/"asks" and the legacy "buys"/"sells".
type bookEventWire struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Buys      []PriceLevel `json:"buys"`
	Sells     []PriceLevel `json:"sells"`
}

// UnmarshalJSON folds the legacy buys/sells spelling into Bids/Asks.
func (e *BookEvent) UnmarshalJSON(data []byte) error {
	var w bookEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EventType = w.EventType
	e.AssetID = w.AssetID
	e.Market = w.Market
	e.Timestamp = w.Timestamp
	e.Hash = w.Hash
	e.Bids = w.Bids
	e.Asks = w.Asks
	if len(e.Bids) == 0 && len(w.Buys) > 0 {
		e.Bids = w.Buys
	}
	if len(e.Asks) == 0 && len(w.Sells) > 0 {
		e.Asks = w.Sells
	}
	return nil
}

// PriceChange is a single level delta within a price_change event.
// Size 0 removes the level.
type PriceChange struct {
	Price string `json:"price"` // the price level that changed
	Size  string `json:"size"`  // new size at that level (0 = removed)
	Side  Side   `json:"side"`  // BUY or SELL
}

// PriceChangeEvent is an incremental order book update from the market
// channel. Contains one or more level changes applied atomically.
type PriceChangeEvent struct {
	EventType string        `json:"event_type"` // always "price_change"
	AssetID   string        `json:"asset_id"`
	Market    string        `json:"market"`
	Timestamp string        `json:"timestamp"`
	Hash      string        `json:"hash"`
	Changes   []PriceChange `json:"changes"`
}

// TickSizeChangeEvent announces a change of price granularity for an asset.
type TickSizeChangeEvent struct {
	EventType   string   `json:"event_type"` // always "tick_size_change"
	AssetID     string   `json:"asset_id"`
	Market      string   `json:"market"`
	OldTickSize TickSize `json:"old_tick_size"`
	NewTickSize TickSize `json:"new_tick_size"`
	Timestamp   string   `json:"timestamp"`
}

// LastTradePriceEvent reports the most recent trade printed for an asset.
type LastTradePriceEvent struct {
	EventType  string `json:"event_type"` // always "last_trade_price"
	AssetID    string `json:"asset_id"`
	Market     string `json:"market"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Side       Side   `json:"side"`
	FeeRateBps string `json:"fee_rate_bps"`
	Timestamp  string `json:"timestamp"`
}

// PriceUpdateEvent is synthesized locally when the book implies a new fair
// price. It is only ever delivered to handlers, never sent on the wire.
// TriggeringEvent names the kind that caused it: "price_change" when the
// spread tightened below the threshold, "last_trade_price" when the spread
// is wide and the print moved.
type PriceUpdateEvent struct {
	EventType       string     `json:"event_type"` // always "price_update"
	AssetID         string     `json:"asset_id"`
	Market          string     `json:"market"`
	TriggeringEvent string     `json:"triggeringEvent"`
	Timestamp       string     `json:"timestamp"`
	Book            BookLevels `json:"book"`
	Price           string     `json:"price"`
	Midpoint        string     `json:"midpoint"`
	Spread          string     `json:"spread"`
}

// ————————————————————————————————————————————————————————————————————————
// User channel events
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is a fill notification from the user channel.
type TradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      Side   `json:"side"`
	Size      string `json:"size"`    // filled quantity
	Price     string `json:"price"`   // fill price
	Outcome   string `json:"outcome"` // "Yes" or "No"
	Status    string `json:"status"`  // "MATCHED", "MINED", "CONFIRMED", ...
	Timestamp string `json:"timestamp"`
}

// OrderEvent is an order lifecycle notification from the user channel.
// Received on order placement, update, or cancellation.
type OrderEvent struct {
	EventType       string   `json:"event_type"` // always "order"
	ID              string   `json:"id"`         // order ID
	Market          string   `json:"market"`     // condition ID
	AssetID         string   `json:"asset_id"`   // token ID
	Side            Side     `json:"side"`
	Price           string   `json:"price"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"` // cumulative filled
	Outcome         string   `json:"outcome"`      // "Yes" or "No"
	Owner           string   `json:"owner"`        // API key
	Timestamp       string   `json:"timestamp"`
	Type            string   `json:"type"`             // "PLACEMENT", "UPDATE", "CANCELLATION"
	AssociateTrades []string `json:"associate_trades"` // trade IDs from partial fills
}

// ————————————————————————————————————————————————————————————————————————
// Subscription messages
// ————————————————————————————————————————————————————————————————————————

// Channel subscribe type strings. The market channel subscribes lowercase,
// the user channel uppercase; the server is strict about both.
const (
	SubscribeTypeMarket = "market"
	SubscribeTypeUser   = "USER"
)

// Update operations for in-band subscription changes on a live socket.
const (
	OperationSubscribe   = "subscribe"
	OperationUnsubscribe = "unsubscribe"
)

// Auth is the opaque L2 credential triplet for the user channel. The feed
// never interprets it; it is forwarded verbatim in the subscribe payload.
type Auth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// SubscribeMessage is the initial subscription sent once when a socket
// opens. For user channels, Auth must be provided. InitialDump asks the
// market channel for a book snapshot per asset right after subscribing.
type SubscribeMessage struct {
	Auth        *Auth    `json:"auth,omitempty"`       // required for user channel
	Type        string   `json:"type"`                 // "market" or "USER"
	Markets     []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs    []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	InitialDump *bool    `json:"initial_dump,omitempty"`
}

// UpdateMessage is sent to dynamically subscribe or unsubscribe keys on a
// socket that is already open.
type UpdateMessage struct {
	Auth      *Auth    `json:"auth,omitempty"`
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a Polymarket binary market.
// Populated from the Gamma API by the scanner and used to derive the asset
// ids worth subscribing to. A binary market has exactly two tokens (YES and
// NO) whose prices always sum to ~$1.
type MarketInfo struct {
	ID          string // Gamma market ID
	ConditionID string // CTF condition ID (user channel subscription key)
	Slug        string // human-readable URL slug
	Question    string // the prediction question, e.g. "Will X happen by Y?"

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	Active          bool      // market is live
	Closed          bool      // market has been resolved
	AcceptingOrders bool      // CLOB is accepting new orders
	EndDate         time.Time // when the market is scheduled to resolve
	Liquidity       float64   // total USD liquidity on the book
	Volume24h       float64   // trailing 24-hour volume in USD
}

// AssetIDs returns the market's CLOB token IDs, YES first. These are the
// market-channel subscription keys for the market.
func (m MarketInfo) AssetIDs() []string {
	ids := make([]string, 0, 2)
	if m.YesTokenID != "" {
		ids = append(ids, m.YesTokenID)
	}
	if m.NoTokenID != "" {
		ids = append(ids, m.NoTokenID)
	}
	return ids
}
