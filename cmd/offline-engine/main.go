package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/voyagekit/offline-engine/internal/cache/redisstore"
	"github.com/voyagekit/offline-engine/internal/classify"
	"github.com/voyagekit/offline-engine/internal/core/config"
	"github.com/voyagekit/offline-engine/internal/core/httpclient"
	"github.com/voyagekit/offline-engine/internal/core/observability"
	"github.com/voyagekit/offline-engine/internal/core/router"
	"github.com/voyagekit/offline-engine/internal/core/server"
	"github.com/voyagekit/offline-engine/internal/fallback"
	"github.com/voyagekit/offline-engine/internal/lifecycle"
	"github.com/voyagekit/offline-engine/internal/logger"
	"github.com/voyagekit/offline-engine/internal/metrics"
	"github.com/voyagekit/offline-engine/internal/notify"
	"github.com/voyagekit/offline-engine/internal/strategy"
	"github.com/voyagekit/offline-engine/internal/tiles"
	"github.com/voyagekit/offline-engine/pkg/invalidation/kafka"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "offline-engine:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "offline-engine",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init()
	observability.Init(prov.Registerer())
	observability.ExposeBuildInfo(version)

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parse upstream url: %w", err)
	}
	client := httpclient.NewOutbound(cfg.NetworkTimeout)

	store, err := redisstore.New(ctx, cfg.RedisAddr, cfg.CacheVersion,
		redisstore.WithOpTimeout(cfg.CacheOpTimeout),
		redisstore.WithPoolSize(cfg.RedisPoolSize))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close cache store", "err", err)
		}
	}()

	manifest := classify.DefaultManifest()
	ruleset, err := classify.NewRuleset(cfg.AppOrigin, manifest)
	if err != nil {
		return fmt.Errorf("build ruleset: %w", err)
	}

	dispatcher := strategy.New(store, client, fallback.New(), log, upstream)
	prefetcher := tiles.NewPrefetcher(store, client, log, cfg.TileURLTemplate, cfg.PrefetchWorkers)

	nstore, err := notify.Open(cfg.NotifyDBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := nstore.Close(); err != nil {
			log.Warn("close notify store", "err", err)
		}
	}()

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(client, cfg.NotifyWebhookURL)
	}

	scheduler := notify.NewScheduler(nstore, notifier, log)
	defer scheduler.Stop()
	if n, err := scheduler.Recover(ctx); err != nil {
		log.Warn("reminder recovery failed", "err", err)
	} else if n > 0 {
		log.Info("reminders re-armed", "count", n)
	}
	if !cfg.FlightDeparture.IsZero() {
		if _, err := scheduler.ScheduleFlightReminders(ctx, cfg.FlightDeparture); err != nil {
			log.Warn("flight reminders not scheduled", "err", err)
		}
	}

	if cfg.ExpenseAPIURL != "" {
		poller := notify.NewAlertPoller(
			notify.NewHTTPExpenseProvider(client, cfg.ExpenseAPIURL),
			nstore, notifier, log, cfg.AlertPollInterval)
		go poller.Run(ctx)
	}

	if cfg.Invalidation.Enabled {
		kcfg := kafka.FromSettings(true,
			cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID)
		runner := kafka.NewRunner(kcfg, store, log, prov.Registerer())
		if err := runner.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := runner.Stop(); err != nil {
				log.Warn("stop invalidation consumer", "err", err)
			}
		}()
	}

	lc, err := lifecycle.New(store, client, cfg.UpstreamURL, manifest, log)
	if err != nil {
		return err
	}
	if err := lc.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := lc.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	passthrough := router.Passthrough(log, client, upstream)
	h := server.Handlers{
		Intercept: router.Intercept(log, ruleset, dispatcher, passthrough),
		Prefetch:  router.Prefetch(log, prefetcher),
		Ready:     lc,
		Metrics:   prov.Handler(),
	}
	return server.Run(ctx, cfg, log, h)
}
