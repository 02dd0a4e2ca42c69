package clob

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGetOrderBook(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("token_id"); got != "tok1" {
			http.Error(w, "missing token_id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"market":"cond1","asset_id":"tok1","hash":"h1","timestamp":"111",` +
			`"bids":[{"price":"0.60","size":"10"}],"asks":[{"price":"0.62","size":"8"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	book, err := c.GetOrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.AssetID != "tok1" || book.Market != "cond1" || book.Hash != "h1" {
		t.Errorf("book = %+v", book)
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != "0.60" {
		t.Errorf("bids = %+v", book.Bids)
	}

	ev := book.Event()
	if ev.EventType != "book" || ev.AssetID != "tok1" || len(ev.Asks) != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestGetOrderBookErrorStatus(t *testing.T) {
	t.Parallel()
	// 404 is terminal, not retried, so the test stays fast.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if _, err := c.GetOrderBook(context.Background(), "tok1"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestGetOrderBooks(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/books" {
			http.NotFound(w, r)
			return
		}
		var params []struct {
			TokenID string `json:"token_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if len(params) != 2 || params[0].TokenID != "tok1" || params[1].TokenID != "tok2" {
			http.Error(w, "wrong tokens", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"market":"cond1","asset_id":"tok1","hash":"h1"},` +
			`{"market":"cond2","asset_id":"tok2","hash":"h2"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	books, err := c.GetOrderBooks(context.Background(), []string{"tok1", "tok2"})
	if err != nil {
		t.Fatalf("GetOrderBooks: %v", err)
	}
	if len(books) != 2 || books[0].AssetID != "tok1" || books[1].AssetID != "tok2" {
		t.Errorf("books = %+v", books)
	}
}

func TestGetOrderBooksEmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	books, err := c.GetOrderBooks(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetOrderBooks: %v", err)
	}
	if books != nil {
		t.Errorf("books = %+v, want nil", books)
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want none for an empty token list", calls.Load())
	}
}

func TestGetServerTime(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(" 1724600000\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	secs, err := c.GetServerTime(context.Background())
	if err != nil {
		t.Fatalf("GetServerTime: %v", err)
	}
	if secs != 1724600000 {
		t.Errorf("server time = %d, want 1724600000", secs)
	}
}

func TestGetServerTimeMalformed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-a-timestamp"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if _, err := c.GetServerTime(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
