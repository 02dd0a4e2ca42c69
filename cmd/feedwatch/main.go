// Polymarket Feed Watcher — subscribes to Polymarket market and user
// WebSocket channels, mirrors order books locally, and publishes synthesized
// price updates and account activity as structured logs and metrics.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires the feeds, waits for SIGINT/SIGTERM
//	feed/manager.go         — shards subscription keys into groups, dials sockets, heals the fleet
//	feed/socket.go          — one WebSocket per group: subscribe, heartbeat, read loop
//	feed/channel_market.go  — market channel pipeline: books, price changes, trades → price updates
//	feed/channel_user.go    — user channel pipeline: own orders and fills
//	book/cache.go           — local order book replicas with midpoint/spread derivation
//	clob/client.go          — CLOB REST client for book bootstrap
//	clob/scanner.go         — polls the Gamma API for active markets worth watching
//	metrics/metrics.go      — prometheus counters and gauges for the whole feed
//
// The watcher is read-only: it never places or cancels orders. Market
// subscriptions come from config (market.assets) and, when the scanner is
// enabled, from periodic Gamma scans that track the busiest markets.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"polymarket-feed/internal/clob"
	"polymarket-feed/internal/config"
	"polymarket-feed/internal/feed"
	"polymarket-feed/internal/metrics"
	"polymarket-feed/pkg/types"
)

func main() {
	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FEED_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.NewFeed(prometheus.DefaultRegisterer)
	gate := feed.NewDialGate(cfg.Feed.DialsPerSecond, cfg.Feed.DialBurst, cfg.Feed.DialConcurrency)

	// Market feed
	initialDump := cfg.Market.InitialDump
	marketFeed := feed.NewMarketManager(&marketLogger{logger: logger}, feed.Options{
		WSBaseURL:                   cfg.API.WSBaseURL,
		BurstLimiter:                gate,
		ReconnectAndCleanupInterval: cfg.Feed.ReapInterval,
		MaxKeysPerSocket:            cfg.Market.MaxPerSocket,
		InitialDump:                 &initialDump,
		BootstrapBooks:              cfg.Market.BootstrapBooks,
		RestBaseURL:                 cfg.API.CLOBBaseURL,
		Metrics:                     met,
		Logger:                      logger,
	})
	if len(cfg.Market.Assets) > 0 {
		marketFeed.AddSubscriptions(ctx, cfg.Market.Assets)
	}

	// User feed
	var userFeed *feed.Manager
	if cfg.User.Enabled {
		userFeed = feed.NewUserManager(cfg.Auth(), &userLogger{logger: logger}, feed.Options{
			WSBaseURL:                   cfg.API.WSBaseURL,
			BurstLimiter:                gate,
			ReconnectAndCleanupInterval: cfg.Feed.ReapInterval,
			MaxKeysPerSocket:            cfg.User.MaxPerSocket,
			Metrics:                     met,
			Logger:                      logger,
		})
		if cfg.User.SubscribeAll {
			userFeed.SubscribeAll(ctx)
		}
		if len(cfg.User.Markets) > 0 {
			userFeed.AddSubscriptions(ctx, cfg.User.Markets)
		}
	}

	// Market discovery
	if cfg.Scanner.Enabled {
		scanner := clob.NewScanner(cfg.API.GammaBaseURL, clob.ScannerConfig{
			PollInterval: cfg.Scanner.PollInterval,
			MinLiquidity: cfg.Scanner.MinLiquidity,
			MinVolume24h: cfg.Scanner.MinVolume24h,
			MaxMarkets:   cfg.Scanner.MaxMarkets,
		}, logger)
		go scanner.Run(ctx)
		go watchScans(ctx, scanner, marketFeed, cfg.Market.Assets, logger)
	}

	// Resource usage sampler
	if cfg.Server.SampleInterval > 0 {
		sampler := metrics.NewSampler(cfg.Server.SampleInterval, logger)
		go sampler.Run(ctx)
	}

	// Metrics + health endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("feed watcher started",
		"assets", len(cfg.Market.Assets),
		"scanner", cfg.Scanner.Enabled,
		"user_feed", cfg.User.Enabled,
		"metrics_addr", cfg.Server.Addr,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", "error", err)
	}

	cancel()
	marketFeed.ClearState()
	if userFeed != nil {
		userFeed.ClearState()
	}
}

// watchScans applies scan results to the market feed: newly selected markets
// are subscribed, deselected ones dropped. Statically configured assets are
// never dropped.
func watchScans(ctx context.Context, scanner *clob.Scanner, market *feed.Manager, static []string, logger *slog.Logger) {
	pinned := make(map[string]bool, len(static))
	for _, id := range static {
		pinned[id] = true
	}
	current := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case result := <-scanner.Results():
			wanted := make(map[string]bool)
			for _, m := range result.Markets {
				for _, id := range m.AssetIDs() {
					if !pinned[id] {
						wanted[id] = true
					}
				}
			}

			var added, removed []string
			for id := range wanted {
				if !current[id] {
					added = append(added, id)
				}
			}
			for id := range current {
				if !wanted[id] {
					removed = append(removed, id)
				}
			}

			if len(added) > 0 {
				market.AddSubscriptions(ctx, added)
			}
			if len(removed) > 0 {
				market.RemoveSubscriptions(ctx, removed)
			}
			if len(added) > 0 || len(removed) > 0 {
				logger.Info("scan applied",
					"markets", len(result.Markets),
					"added", len(added),
					"removed", len(removed),
				)
			}
			current = wanted
		}
	}
}

// marketLogger logs the market feed's output. Price updates are the headline
// signal; raw book traffic stays at debug.
type marketLogger struct {
	feed.BaseMarketHandler
	logger *slog.Logger
}

func (h *marketLogger) OnBook(events []types.BookEvent) {
	for _, ev := range events {
		h.logger.Debug("book snapshot", "asset", ev.AssetID, "bids", len(ev.Bids), "asks", len(ev.Asks))
	}
}

func (h *marketLogger) OnPriceUpdate(events []types.PriceUpdateEvent) {
	for _, ev := range events {
		h.logger.Info("price update",
			"asset", ev.AssetID,
			"price", ev.Price,
			"midpoint", ev.Midpoint,
			"spread", ev.Spread,
			"trigger", ev.TriggeringEvent,
		)
	}
}

func (h *marketLogger) OnOpen(groupID string, keys []string) {
	h.logger.Info("market feed open", "group", groupID, "keys", len(keys))
}

func (h *marketLogger) OnClose(groupID string, code int, reason string) {
	h.logger.Warn("market feed closed", "group", groupID, "code", code, "reason", reason)
}

func (h *marketLogger) OnError(err error) {
	h.logger.Error("market feed error", "error", err)
}

// userLogger logs own-order and fill activity from the user feed.
type userLogger struct {
	feed.BaseUserHandler
	logger *slog.Logger
}

func (h *userLogger) OnOrder(events []types.OrderEvent) {
	for _, ev := range events {
		h.logger.Info("order update",
			"id", ev.ID,
			"market", ev.Market,
			"side", ev.Side,
			"type", ev.Type,
			"price", ev.Price,
			"matched", ev.SizeMatched,
		)
	}
}

func (h *userLogger) OnTrade(events []types.TradeEvent) {
	for _, ev := range events {
		h.logger.Info("trade",
			"id", ev.ID,
			"market", ev.Market,
			"side", ev.Side,
			"price", ev.Price,
			"size", ev.Size,
			"status", ev.Status,
		)
	}
}

func (h *userLogger) OnOpen(groupID string, keys []string) {
	h.logger.Info("user feed open", "group", groupID, "keys", len(keys))
}

func (h *userLogger) OnClose(groupID string, code int, reason string) {
	h.logger.Warn("user feed closed", "group", groupID, "code", code, "reason", reason)
}

func (h *userLogger) OnError(err error) {
	h.logger.Error("user feed error", "error", err)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
