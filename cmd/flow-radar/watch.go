package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hervehildenbrand/flow-radar/pkg/alerts"
	"github.com/hervehildenbrand/flow-radar/pkg/config"
	"github.com/hervehildenbrand/flow-radar/pkg/database"
	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/metrics"
	"github.com/hervehildenbrand/flow-radar/pkg/monitor"
	"github.com/hervehildenbrand/flow-radar/pkg/pipeline"
	"github.com/hervehildenbrand/flow-radar/pkg/storage"
)

func runWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "Ethereum JSON-RPC URL")
	wsURL := fs.String("ws", "", "Websocket URL for newHeads (optional)")
	heuristicsPath := fs.String("heuristics", "", "Path to heuristics registry file")
	out := fs.String("out", "", "Path to summary log (JSON lines)")
	window := fs.Int("window", 0, "Rolling window size in blocks")
	interval := fs.Duration("interval", 0, "Poll interval")
	metricsAddr := fs.String("metrics", "", "Prometheus listen address, e.g. :9090")
	statsInterval := fs.Duration("stats", 30*time.Second, "Stats logging interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := e.cfg
	overrideStr(&cfg.Node.RPCURL, *rpcURL)
	overrideStr(&cfg.Node.WSURL, *wsURL)
	overrideStr(&cfg.Heuristics.Path, *heuristicsPath)
	overrideStr(&cfg.Storage.SummaryPath, *out)
	overrideStr(&cfg.Metrics.Addr, *metricsAddr)
	if *window > 0 {
		cfg.Monitor.Window = *window
	}
	if *interval > 0 {
		cfg.Node.PollInterval.Duration = *interval
	}
	if err := cfg.Validate("watch"); err != nil {
		return err
	}
	thresholds, err := cfg.ThresholdsWei()
	if err != nil {
		return err
	}

	logger := e.logger
	logger.Info("flow-radar starting",
		slog.String("rpc", cfg.Node.RPCURL),
		slog.String("heuristics_backend", cfg.Heuristics.Backend),
		slog.Int("window", cfg.Monitor.Window),
	)

	res, err := openResources(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Close()

	// A missing or malformed registry is fatal.
	store, err := registryStore(cfg, res, logger)
	if err != nil {
		return err
	}
	reg, err := store.Load(ctx)
	if errors.Is(err, heuristics.ErrNotFound) {
		return fmt.Errorf("load heuristics (run \"flow-radar init\" first): %w", err)
	}
	if err != nil {
		return fmt.Errorf("load heuristics: %w", err)
	}

	source, err := ingest.DialRPC(ctx, cfg.Node.RPCURL, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	// Sinks
	summarySinks := []pipeline.SummarySink{storage.NewSummaryLog(cfg.Storage.SummaryPath, logger)}
	alertSinks := []alerts.Sink{alerts.NewLogSink(logger)}

	var writer *database.SummaryWriter
	if res.db != nil {
		writer = database.NewSummaryWriter(res.db, logger)
		writer.Start()
		defer writer.Stop()
		summarySinks = append(summarySinks, writer)
		alertSinks = append(alertSinks, writer)
	}
	if res.redis != nil {
		alertSinks = append(alertSinks, alerts.NewRedisPublisher(res.redis, cfg.Redis.AlertChannel))
	}
	if cfg.Alerts.WebhookURL != "" {
		alertSinks = append(alertSinks, alerts.NewWebhookSink(cfg.Alerts.WebhookURL))
	}
	fanout := alerts.NewFanout(alertSinks, logger)

	opts := pipeline.Options{
		PollInterval: cfg.Node.PollInterval.Duration,
		SummarySinks: summarySinks,
		AlertSinks:   []pipeline.AlertSink{fanout},
		Logger:       logger,
	}

	var feed *ingest.HeadFeed
	if cfg.Node.WSURL != "" {
		feed = ingest.NewHeadFeed(cfg.Node.WSURL, 0, logger)
		feed.Start()
		defer feed.Stop()
		opts.Heads = feed.Heads()
	}

	watcher := pipeline.NewWatcher(source, reg, monitor.New(cfg.Monitor.Window, thresholds), opts)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(ctx)
	})

	// Shared registries pick up addresses learned by other processes.
	if cfg.Heuristics.Backend != config.BackendFile {
		refresher := heuristics.NewRefresher(store, reg, cfg.Heuristics.RefreshInterval.Duration, logger)
		refresher.Start()
		defer refresher.Stop()
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Stats logger
	g.Go(func() error {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				attrs := []any{slog.Uint64("latest_seen", watcher.LatestSeen())}
				if feed != nil {
					attrs = append(attrs, slog.Any("head_feed", feed.Stats()))
				}
				if writer != nil {
					attrs = append(attrs, slog.Any("db_writer", writer.Stats()))
				}
				cex, bridge := reg.Count()
				attrs = append(attrs, slog.Int("cex_addresses", cex), slog.Int("bridge_addresses", bridge))
				logger.Info("STATS", attrs...)
			}
		}
	})

	return g.Wait()
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
