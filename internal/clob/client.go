// Package clob implements the Polymarket CLOB and Gamma REST clients used to
// bootstrap and curate the websocket feeds.
//
// The CLOB client (Client) covers the read-only endpoints the feed needs:
//   - GetOrderBook:  GET  /book  — fetch the L2 book for one token
//   - GetOrderBooks: POST /books — batch-fetch L2 books for many tokens
//   - GetServerTime: GET  /time  — exchange clock, for skew checks
//
// The Gamma scanner (Scanner) polls the markets catalogue and selects the
// active, liquid markets worth subscribing to.
//
// Every request is automatically retried on transport errors, 5xx responses
// and 429 throttles.
package clob

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-feed/pkg/types"
)

const (
	// DefaultBaseURL is the public Polymarket CLOB REST endpoint.
	DefaultBaseURL = "https://clob.polymarket.com"

	// DefaultGammaBaseURL is the Polymarket Gamma markets API.
	DefaultGammaBaseURL = "https://gamma-api.polymarket.com"
)

// Client is the Polymarket CLOB REST API client.
// It wraps a resty HTTP client with retry and a base URL.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a REST client with retry. An empty baseURL selects the
// public endpoint.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "clob"),
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetOrderBooks batch-fetches order books for several tokens in one call.
func (c *Client) GetOrderBooks(ctx context.Context, tokenIDs []string) ([]types.BookResponse, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	type bookParams struct {
		TokenID string `json:"token_id"`
	}
	params := make([]bookParams, len(tokenIDs))
	for i, id := range tokenIDs {
		params[i] = bookParams{TokenID: id}
	}

	var results []types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		SetResult(&results).
		Post("/books")
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get books: status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// GetServerTime returns the exchange's unix time in seconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/time")
	if err != nil {
		return 0, fmt.Errorf("get time: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get time: status %d: %s", resp.StatusCode(), resp.String())
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(resp.String()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", resp.String(), err)
	}
	return secs, nil
}
