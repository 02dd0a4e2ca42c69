package clob

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"

	"polymarket-feed/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API, reduced to the
// fields the scanner filters on.
type GammaMarket struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	ConditionID     string  `json:"conditionId"`
	Slug            string  `json:"slug"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"acceptingOrders"`
	EnableOrderBook bool    `json:"enableOrderBook"`
	EndDate         string  `json:"endDate"`
	Liquidity       string  `json:"liquidity"`
	Volume24hr      float64 `json:"volume24hr"`
	ClobTokenIds    string  `json:"clobTokenIds"`
}

// ScannerConfig holds the scanner's filter thresholds and poll cadence.
type ScannerConfig struct {
	PollInterval time.Duration // default 1m
	MinLiquidity float64       // minimum USD liquidity on the book
	MinVolume24h float64       // minimum trailing 24h volume in USD
	MaxMarkets   int           // cap on selected markets, default 50
}

// ScanResult is one full pass over the catalogue: every market that passed
// the filters, busiest first. Consumers diff consecutive results to decide
// what to subscribe and unsubscribe.
type ScanResult struct {
	Markets   []types.MarketInfo
	ScannedAt time.Time
}

// Scanner periodically polls the Gamma API and selects the active markets
// worth watching.
type Scanner struct {
	httpClient *resty.Client
	cfg        ScannerConfig
	logger     *slog.Logger
	resultCh   chan ScanResult
}

// NewScanner creates a market scanner. An empty baseURL selects the public
// Gamma endpoint.
func NewScanner(baseURL string, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if baseURL == "" {
		baseURL = DefaultGammaBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = 50
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Scanner{
		httpClient: client,
		cfg:        cfg,
		logger:     logger.With("component", "scanner"),
		resultCh:   make(chan ScanResult, 1),
	}
}

// Results returns the channel scan results are published on. Only the latest
// result is retained when the consumer falls behind.
func (s *Scanner) Results() <-chan ScanResult {
	return s.resultCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	// Do an immediate scan on startup
	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	markets, err := s.fetchMarkets(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scan failed", "error", err)
		return
	}

	selected := s.selectMarkets(markets)

	result := ScanResult{
		Markets:   selected,
		ScannedAt: time.Now(),
	}

	s.logger.Info("scan complete",
		"total", len(markets),
		"selected", len(selected),
	)

	// Non-blocking send
	select {
	case s.resultCh <- result:
	default:
		// Replace stale result
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- result
	}
}

func (s *Scanner) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var allMarkets []GammaMarket
	offset := 0
	limit := 100

	for {
		var page []GammaMarket
		resp, err := s.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		allMarkets = append(allMarkets, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return allMarkets, nil
}

// selectMarkets applies hard filters to eliminate unsuitable markets, sorts
// the survivors by trailing volume, and caps the result at MaxMarkets:
// inactive, closed, not accepting orders, no order book, insufficient
// liquidity or volume, already ended or unparseable end date, missing token
// IDs.
func (s *Scanner) selectMarkets(markets []GammaMarket) []types.MarketInfo {
	now := time.Now()

	var kept []GammaMarket
	for _, m := range markets {
		if !m.Active || m.Closed || !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}

		liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)
		if liquidity < s.cfg.MinLiquidity {
			continue
		}
		if m.Volume24hr < s.cfg.MinVolume24h {
			continue
		}

		// Reject unparseable and past end dates
		if m.EndDate != "" {
			endDate, err := time.Parse(time.RFC3339, m.EndDate)
			if err != nil || endDate.Before(now) {
				continue
			}
		}

		if m.ClobTokenIds == "" {
			continue
		}

		kept = append(kept, m)
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Volume24hr > kept[j].Volume24hr
	})
	if len(kept) > s.cfg.MaxMarkets {
		kept = kept[:s.cfg.MaxMarkets]
	}

	result := make([]types.MarketInfo, len(kept))
	for i, m := range kept {
		result[i] = convertToMarketInfo(m)
	}
	return result
}

// convertToMarketInfo transforms a Gamma API response into the internal
// MarketInfo type. Token IDs arrive as a JSON array string like
// "[\"id1\",\"id2\"]", YES first.
func convertToMarketInfo(gm GammaMarket) types.MarketInfo {
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		var ids []string
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &ids); err == nil {
			tokenIDs = ids
		}
	}

	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	return types.MarketInfo{
		ID:              gm.ID,
		ConditionID:     gm.ConditionID,
		Slug:            gm.Slug,
		Question:        gm.Question,
		YesTokenID:      yesToken,
		NoTokenID:       noToken,
		Active:          gm.Active,
		Closed:          gm.Closed,
		AcceptingOrders: gm.AcceptingOrders,
		EndDate:         endDate,
		Liquidity:       liquidity,
		Volume24h:       gm.Volume24hr,
	}
}
