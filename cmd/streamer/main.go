package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"clobstream/internal/config"
	"clobstream/internal/limiter"
	"clobstream/internal/manager"
	"clobstream/internal/metrics"
	"clobstream/internal/model"
	"clobstream/internal/version"
)

// subscriber is the surface both manager variants expose to main.
type subscriber interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	AddSubscriptions(assetIDs []string)
	SubscribedAssets() []string
	Stats() manager.Stats
}

func main() {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	assetsFlag := flag.String("assets", os.Getenv("CLOB_ASSET_IDS"), "comma-separated asset IDs to subscribe at startup")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"mode", cfg.Connections.Mode,
		"feed_url", cfg.Feed.WSURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	promReg := metrics.Init()
	lim := limiter.NewDialLimiter(cfg.Connections.DialRatePerSecond, cfg.Connections.DialBurst)

	handlers := manager.Handlers{
		OnPriceUpdate: func(updates []model.PriceUpdate) {
			for _, u := range updates {
				logger.Info("price update",
					"asset_id", u.AssetID,
					"price", u.Price,
					"midpoint", u.Midpoint,
					"spread", u.Spread,
					"triggered_by", u.TriggeredBy,
				)
			}
		},
		OnConnectionOpen: func(groupID string, assetIDs []string) {
			logger.Info("connection open", "group_id", groupID, "assets", len(assetIDs))
		},
		OnConnectionClose: func(groupID string, code int, reason string) {
			logger.Warn("connection closed", "group_id", groupID, "code", code, "reason", reason)
		},
		OnError: func(err error) {
			logger.Error("feed error", "error", err)
		},
	}

	var sub subscriber
	switch cfg.Connections.Mode {
	case config.ModeSingle:
		scfg := manager.DefaultSingleConfig()
		scfg.URL = cfg.Feed.WSURL
		scfg.InitialDump = cfg.Feed.InitialDump
		scfg.FlushInterval = cfg.Connections.FlushInterval
		scfg.RetryInterval = cfg.Connections.RetryInterval
		scfg.ConnectTimeout = cfg.Connections.HandshakeTimeout
		scfg.PingInterval = cfg.Connections.PingInterval
		scfg.WriteTimeout = cfg.Connections.WriteTimeout
		sub = manager.NewSingle(scfg, handlers, lim, logger)
	default:
		mcfg := manager.DefaultConfig()
		mcfg.URL = cfg.Feed.WSURL
		mcfg.InitialDump = cfg.Feed.InitialDump
		mcfg.MaxAssetsPerConnection = cfg.Connections.AssetsPerGroup
		mcfg.SweepInterval = cfg.Connections.SweepInterval
		mcfg.HandshakeTimeout = cfg.Connections.HandshakeTimeout
		mcfg.PingInterval = cfg.Connections.PingInterval
		mcfg.WriteTimeout = cfg.Connections.WriteTimeout
		sub = manager.New(mcfg, handlers, lim, logger)
	}

	sub.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		sub.Stop(stopCtx)
	}()

	if assets := splitAssets(*assetsFlag); len(assets) > 0 {
		sub.AddSubscriptions(assets)
		logger.Info("initial subscriptions added", "assets", len(assets))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := sub.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","groups":%d,"open_groups":%d,"tracked_assets":%d}`+"\n",
			st.Groups, st.OpenGroups, st.TrackedAssets)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("streamer stopped")
}

func logLevel(level string) slog.Level {
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

func splitAssets(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
