package types

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestTickSizeDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 1},
		{Tick001, 2},
		{Tick0001, 3},
		{Tick00001, 4},
		{TickSize("unknown"), 2}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.Decimals(); got != tt.want {
			t.Errorf("TickSize(%q).Decimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestMarketEventKindsParse(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"book", "price_change", "tick_size_change", "last_trade_price"} {
		if MarketEventKinds.Parse(kind) == nil {
			t.Errorf("MarketEventKinds.Parse(%q) = nil, want member", kind)
		}
	}
	if got := MarketEventKinds.Parse("order"); got != nil {
		t.Errorf("MarketEventKinds.Parse(%q) = %v, want nil (user-channel kind)", "order", got)
	}
	if got := MarketEventKinds.Parse("price_update"); got != nil {
		t.Errorf("MarketEventKinds.Parse(%q) = %v, want nil (synthetic kind)", "price_update", got)
	}
	if got := UserEventKinds.Parse("trade"); got == nil {
		t.Error("UserEventKinds.Parse(\"trade\") = nil, want member")
	}
}

func TestBookEventUnmarshalBidsAsks(t *testing.T) {
	t.Parallel()

	raw := `{"event_type":"book","asset_id":"tok-1","market":"cond-1","timestamp":"1700000000000","hash":"h1",` +
		`"bids":[{"price":"0.49","size":"100"}],"asks":[{"price":"0.51","size":"80"}]}`

	var ev BookEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.AssetID != "tok-1" {
		t.Errorf("AssetID = %q, want tok-1", ev.AssetID)
	}
	if len(ev.Bids) != 1 || ev.Bids[0].Price != "0.49" {
		t.Errorf("Bids = %v, want one level at 0.49", ev.Bids)
	}
	if len(ev.Asks) != 1 || ev.Asks[0].Size != "80" {
		t.Errorf("Asks = %v, want one level of size 80", ev.Asks)
	}
}

func TestBookEventUnmarshalLegacyBuysSells(t *testing.T) {
	t.Parallel()

	raw := `{"event_type":"book","asset_id":"tok-2","hash":"h2",` +
		`"buys":[{"price":"0.60","size":"10"}],"sells":[{"price":"0.62","size":"8"}]}`

	var ev BookEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ev.Bids) != 1 || ev.Bids[0].Price != "0.60" {
		t.Errorf("Bids = %v, want buys folded into bids", ev.Bids)
	}
	if len(ev.Asks) != 1 || ev.Asks[0].Price != "0.62" {
		t.Errorf("Asks = %v, want sells folded into asks", ev.Asks)
	}
}

func TestSubscribeMessageShape(t *testing.T) {
	t.Parallel()

	dump := true
	msg := SubscribeMessage{
		Type:        SubscribeTypeMarket,
		AssetIDs:    []string{"tok-1", "tok-2"},
		InitialDump: &dump,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "market" {
		t.Errorf("type = %v, want market", decoded["type"])
	}
	if _, ok := decoded["assets_ids"]; !ok {
		t.Error("assets_ids key missing from market subscribe")
	}
	if _, ok := decoded["auth"]; ok {
		t.Error("auth should be omitted for market subscribe")
	}
	if _, ok := decoded["markets"]; ok {
		t.Error("markets should be omitted for market subscribe")
	}

	user := SubscribeMessage{
		Type:    SubscribeTypeUser,
		Markets: []string{"cond-1"},
		Auth:    &Auth{ApiKey: "k", Secret: "s", Passphrase: "p"},
	}
	data, err = json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	decoded = map[string]any{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if decoded["type"] != "USER" {
		t.Errorf("type = %v, want USER", decoded["type"])
	}
	auth, ok := decoded["auth"].(map[string]any)
	if !ok {
		t.Fatal("auth missing from user subscribe")
	}
	if auth["apiKey"] != "k" || auth["passphrase"] != "p" {
		t.Errorf("auth = %v, want apiKey/passphrase passed through verbatim", auth)
	}
	if _, ok := decoded["initial_dump"]; ok {
		t.Error("initial_dump should be omitted when unset")
	}
}
