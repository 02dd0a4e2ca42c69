package book

import (
	"errors"
	"testing"

	"polymarket-feed/pkg/types"
)

const testAsset = "asset-123"

func seedSnapshot(t *testing.T, c *Cache, bids, asks []types.PriceLevel) {
	t.Helper()
	err := c.ReplaceBook(types.BookEvent{
		EventType: "book",
		AssetID:   testAsset,
		Market:    "cond-1",
		Timestamp: "1700000000000",
		Hash:      "h1",
		Bids:      bids,
		Asks:      asks,
	})
	if err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
}

func TestReplaceBookComputesDerived(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.55", Size: "100"}, {Price: "0.54", Size: "200"}},
		[]types.PriceLevel{{Price: "0.57", Size: "150"}},
	)

	entry := c.GetBookEntry(testAsset)
	if entry == nil {
		t.Fatal("GetBookEntry returned nil after snapshot")
	}
	if entry.Midpoint != "0.56" {
		t.Errorf("Midpoint = %q, want 0.56", entry.Midpoint)
	}
	if entry.Spread != "0.02" {
		t.Errorf("Spread = %q, want 0.02", entry.Spread)
	}
	if entry.Hash != "h1" {
		t.Errorf("Hash = %q, want h1", entry.Hash)
	}
}

func TestReplaceBookSortsLevels(t *testing.T) {
	t.Parallel()
	c := NewCache()

	// Feed order is not trusted for level sorting: bids arrive ascending here.
	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.50", Size: "10"}, {Price: "0.55", Size: "20"}},
		[]types.PriceLevel{{Price: "0.60", Size: "5"}, {Price: "0.58", Size: "7"}},
	)

	entry := c.GetBookEntry(testAsset)
	if entry.Bids[0].Price.String() != "0.55" {
		t.Errorf("best bid = %v, want 0.55 (descending)", entry.Bids[0].Price)
	}
	if entry.Asks[0].Price.String() != "0.58" {
		t.Errorf("best ask = %v, want 0.58 (ascending)", entry.Asks[0].Price)
	}
}

func TestReplaceBookOneSidedLeavesDerivedEmpty(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c, []types.PriceLevel{{Price: "0.50", Size: "100"}}, nil)

	entry := c.GetBookEntry(testAsset)
	if entry.Midpoint != "" || entry.Spread != "" {
		t.Errorf("Midpoint/Spread = %q/%q, want empty for one-sided book", entry.Midpoint, entry.Spread)
	}
}

func TestUpsertPriceChangeBeforeSnapshot(t *testing.T) {
	t.Parallel()
	c := NewCache()

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: testAsset,
		Changes: []types.PriceChange{{Price: "0.50", Size: "10", Side: types.BUY}},
	})
	if !errors.Is(err, ErrBookNotFound) {
		t.Errorf("UpsertPriceChange before snapshot = %v, want ErrBookNotFound", err)
	}
}

func TestUpsertPriceChangeRemoveAndInsert(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: testAsset,
		Changes: []types.PriceChange{
			{Price: "0.60", Size: "0", Side: types.BUY},
			{Price: "0.59", Size: "5", Side: types.BUY},
		},
	})
	if err != nil {
		t.Fatalf("UpsertPriceChange: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	if len(entry.Bids) != 1 || entry.Bids[0].Price.String() != "0.59" || entry.Bids[0].Size.String() != "5" {
		t.Errorf("Bids = %v, want single level (0.59, 5)", entry.Bids)
	}

	spread, err := c.Spread(testAsset)
	if err != nil {
		t.Fatalf("Spread: %v", err)
	}
	if spread != "0.03" {
		t.Errorf("spread = %q, want 0.03", spread)
	}
	mid, err := c.Midpoint(testAsset)
	if err != nil {
		t.Fatalf("Midpoint: %v", err)
	}
	if mid != "0.605" {
		t.Errorf("midpoint = %q, want 0.605", mid)
	}
}

func TestUpsertPriceChangePreservesSortOrder(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}, {Price: "0.58", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}, {Price: "0.64", Size: "8"}},
	)

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: testAsset,
		Changes: []types.PriceChange{
			{Price: "0.59", Size: "3", Side: types.BUY},
			{Price: "0.63", Size: "4", Side: types.SELL},
			{Price: "0.61", Size: "2", Side: types.BUY}, // new best bid
		},
	})
	if err != nil {
		t.Fatalf("UpsertPriceChange: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	wantBids := []string{"0.61", "0.6", "0.59", "0.58"}
	for i, want := range wantBids {
		if entry.Bids[i].Price.String() != want {
			t.Errorf("Bids[%d] = %v, want %v", i, entry.Bids[i].Price, want)
		}
	}
	wantAsks := []string{"0.62", "0.63", "0.64"}
	for i, want := range wantAsks {
		if entry.Asks[i].Price.String() != want {
			t.Errorf("Asks[%d] = %v, want %v", i, entry.Asks[i].Price, want)
		}
	}
}

func TestUpsertPriceChangeZeroSizeAbsentLevel(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: testAsset,
		Changes: []types.PriceChange{{Price: "0.55", Size: "0", Side: types.BUY}},
	})
	if err != nil {
		t.Fatalf("UpsertPriceChange: %v", err)
	}
	if got := len(c.GetBookEntry(testAsset).Bids); got != 1 {
		t.Errorf("len(Bids) = %d, want 1 (removing absent level is a no-op)", got)
	}
}

func TestSpreadOver(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.40", Size: "10"}},
		[]types.PriceLevel{{Price: "0.52", Size: "8"}},
	)

	over, err := c.SpreadOver(testAsset, 0.10)
	if err != nil {
		t.Fatalf("SpreadOver: %v", err)
	}
	if !over {
		t.Error("spread 0.12 should be over threshold 0.10")
	}

	// Exactly at threshold counts as over (>=).
	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.40", Size: "10"}},
		[]types.PriceLevel{{Price: "0.50", Size: "8"}},
	)
	over, err = c.SpreadOver(testAsset, 0.10)
	if err != nil {
		t.Fatalf("SpreadOver: %v", err)
	}
	if !over {
		t.Error("spread 0.10 should be over threshold 0.10 (inclusive)")
	}

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.49", Size: "10"}},
		[]types.PriceLevel{{Price: "0.51", Size: "8"}},
	)
	over, err = c.SpreadOver(testAsset, 0.10)
	if err != nil {
		t.Fatalf("SpreadOver: %v", err)
	}
	if over {
		t.Error("spread 0.02 should not be over threshold 0.10")
	}
}

func TestSpreadOverErrors(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if _, err := c.SpreadOver("missing", 0.10); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("SpreadOver(missing) = %v, want ErrBookNotFound", err)
	}

	seedSnapshot(t, c, []types.PriceLevel{{Price: "0.50", Size: "10"}}, nil)
	if _, err := c.SpreadOver(testAsset, 0.10); !errors.Is(err, ErrIncompleteBook) {
		t.Errorf("SpreadOver(one-sided) = %v, want ErrIncompleteBook", err)
	}
}

func TestMidpointErrors(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if _, err := c.Midpoint("missing"); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("Midpoint(missing) = %v, want ErrBookNotFound", err)
	}

	seedSnapshot(t, c, nil, []types.PriceLevel{{Price: "0.60", Size: "10"}})
	if _, err := c.Midpoint(testAsset); !errors.Is(err, ErrIncompleteBook) {
		t.Errorf("Midpoint(one-sided) = %v, want ErrIncompleteBook", err)
	}
}

func TestCommitPrice(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)

	changed, err := c.CommitPrice(testAsset, "0.61", "0.61", "0.02")
	if err != nil {
		t.Fatalf("CommitPrice: %v", err)
	}
	if !changed {
		t.Error("first commit should report a change")
	}

	changed, err = c.CommitPrice(testAsset, "0.61", "0.61", "0.02")
	if err != nil {
		t.Fatalf("CommitPrice: %v", err)
	}
	if changed {
		t.Error("identical price should not report a change")
	}

	if _, err := c.CommitPrice("missing", "0.5", "0.5", "0"); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("CommitPrice(missing) = %v, want ErrBookNotFound", err)
	}
}

func TestPriceSurvivesSnapshotReplace(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)
	if _, err := c.CommitPrice(testAsset, "0.61", "0.61", "0.02"); err != nil {
		t.Fatalf("CommitPrice: %v", err)
	}

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.59", Size: "10"}},
		[]types.PriceLevel{{Price: "0.63", Size: "8"}},
	)
	if got := c.GetBookEntry(testAsset).Price; got != "0.61" {
		t.Errorf("Price = %q after snapshot replace, want 0.61 preserved", got)
	}
}

func TestSeedBookOnlyFillsGaps(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seeded, err := c.SeedBook(types.BookEvent{
		AssetID: testAsset,
		Market:  "cond-1",
		Hash:    "rest-1",
		Bids:    []types.PriceLevel{{Price: "0.60", Size: "10"}},
		Asks:    []types.PriceLevel{{Price: "0.62", Size: "8"}},
	})
	if err != nil {
		t.Fatalf("SeedBook: %v", err)
	}
	if !seeded {
		t.Error("first seed should install the snapshot")
	}
	if got := c.GetBookEntry(testAsset).Midpoint; got != "0.61" {
		t.Errorf("Midpoint = %q, want 0.61", got)
	}

	// A replica the live feed already owns must not be replaced by a
	// slower REST snapshot.
	seeded, err = c.SeedBook(types.BookEvent{
		AssetID: testAsset,
		Hash:    "rest-2",
		Bids:    []types.PriceLevel{{Price: "0.10", Size: "1"}},
		Asks:    []types.PriceLevel{{Price: "0.90", Size: "1"}},
	})
	if err != nil {
		t.Fatalf("SeedBook: %v", err)
	}
	if seeded {
		t.Error("second seed should be a no-op")
	}
	if got := c.GetBookEntry(testAsset).Hash; got != "rest-1" {
		t.Errorf("Hash = %q, want the original rest-1", got)
	}
}

func TestNormalizePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"0.7000", "0.7"},
		{"0.75", "0.75"},
		{"1.0", "1"},
		{"0.5010", "0.501"},
	}
	for _, tt := range tests {
		got, err := NormalizePrice(tt.in)
		if err != nil {
			t.Fatalf("NormalizePrice(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizePrice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizePrice("not-a-price"); err == nil {
		t.Error("NormalizePrice should reject non-decimal input")
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)
	if c.Count() != 1 {
		t.Fatalf("Count = %d, want 1", c.Count())
	}

	c.Remove(testAsset)
	if c.GetBookEntry(testAsset) != nil {
		t.Error("entry should be gone after Remove")
	}

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)
	c.Clear()
	if c.Count() != 0 {
		t.Errorf("Count = %d after Clear, want 0", c.Count())
	}
}

func TestLevelsSnapshotCopies(t *testing.T) {
	t.Parallel()
	c := NewCache()

	seedSnapshot(t, c,
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)

	levels := c.GetBookEntry(testAsset).Levels()
	if len(levels.Bids) != 1 || levels.Bids[0].Price != "0.6" {
		t.Errorf("Levels().Bids = %v, want [(0.6, 10)]", levels.Bids)
	}
	if len(levels.Asks) != 1 || levels.Asks[0].Size != "8" {
		t.Errorf("Levels().Asks = %v, want [(0.62, 8)]", levels.Asks)
	}
}
