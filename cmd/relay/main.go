package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	httpadapter "github.com/couchcryptid/incident-feed-relay/internal/adapter/http"
	"github.com/couchcryptid/incident-feed-relay/internal/adapter/soda"
	"github.com/couchcryptid/incident-feed-relay/internal/adapter/tak"
	"github.com/couchcryptid/incident-feed-relay/internal/config"
	"github.com/couchcryptid/incident-feed-relay/internal/delivery"
	"github.com/couchcryptid/incident-feed-relay/internal/domain"
	"github.com/couchcryptid/incident-feed-relay/internal/observability"
	"github.com/couchcryptid/incident-feed-relay/internal/pipeline"
	"github.com/couchcryptid/incident-feed-relay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg == nil {
		return // --help
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	logger.Info("incident feed relay starting", "version", cfg.Version,
		"endpoint", cfg.CotURL, "poll_interval", cfg.PollInterval.String())
	if cfg.LookbackRaised {
		logger.Warn("lookback raised to twice the poll interval", "lookback", cfg.Lookback.String())
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.Error("failed to create database directory", "error", err)
		os.Exit(1)
	}
	seen, err := store.Open(cfg.DatabasePath, nil, logger)
	if err != nil {
		logger.Error("failed to open seen store", "error", err)
		os.Exit(1)
	}
	defer seen.Close()

	dialer, err := tak.NewDialer(cfg.CotURL, cfg.CotTLSCert, cfg.CotTLSKey, cfg.CotTLSCA)
	if err != nil {
		logger.Error("invalid delivery endpoint", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := delivery.New(dialer, logger, metrics)
	if err := sender.Start(ctx); err != nil {
		logger.Error("failed to connect to delivery endpoint", "error", err, "address", dialer.Address())
		os.Exit(1)
	}
	defer sender.Stop()

	client := soda.NewClient(cfg.SodaAppToken, cfg.FetchLimit, cfg.Lookback, nil)
	pollerCfg := pipeline.Config{
		Interval:      cfg.PollInterval,
		StaleAfter:    cfg.CotStale,
		TrackerMaxAge: cfg.TrackerMaxAge,
	}

	pollers := []*pipeline.Poller{
		pipeline.New(domain.FireFeed(cfg.SodaBaseURL, cfg.FireDataset),
			client, sender, seen, logger, metrics, pollerCfg, nil),
		pipeline.New(domain.TrafficFeed(cfg.SodaBaseURL, cfg.TrafficDataset),
			client, sender, seen, logger, metrics, pollerCfg, nil),
	}

	feeds := make([]httpadapter.FeedStatus, 0, len(pollers))
	for _, p := range pollers {
		feeds = append(feeds, p)
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, seen, sender, feeds,
		cfg.SeenRetention, cfg.Version, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	for _, p := range pollers {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("poller error", "error", err, "feed", p.Kind())
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sender.Stop()

	logger.Info("shutdown complete")
}
