package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/alerts"
	"github.com/hervehildenbrand/flow-radar/pkg/config"
	"github.com/hervehildenbrand/flow-radar/pkg/database"
	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/hervehildenbrand/flow-radar/pkg/pipeline"
	"github.com/hervehildenbrand/flow-radar/pkg/storage"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSummary(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	input := fs.String("input", "", "Path to summary log (JSON lines)")
	latest := fs.Int("latest", 10, "Number of summaries to print")
	fromDB := fs.Bool("db", false, "Read summaries from PostgreSQL instead of the log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *latest <= 0 {
		return fmt.Errorf("-latest must be positive")
	}

	cfg := e.cfg
	overrideStr(&cfg.Storage.SummaryPath, *input)

	var (
		summaries []models.FlowSummary
		err       error
	)
	if *fromDB {
		if cfg.Database.URL == "" {
			return fmt.Errorf("-db needs database.url")
		}
		db, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		summaries, err = database.LatestSummaries(ctx, db, *latest)
		if err != nil {
			return err
		}
	} else {
		summaries, err = storage.ReadLatest(cfg.Storage.SummaryPath, *latest)
		if err != nil {
			return err
		}
	}

	for _, s := range summaries {
		line, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode summary %d: %w", s.BlockNumber, err)
		}
		fmt.Fprintln(e.stdout, string(line))
	}
	return nil
}

func runInit(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	dir := fs.String("dir", "", "Data directory")
	registry := fs.String("registry", "", "Registry path (default <dir>/heuristics.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := e.cfg
	overrideStr(&cfg.DataDir, *dir)
	if *registry != "" {
		cfg.Heuristics.Path = *registry
	} else if *dir != "" {
		cfg.Heuristics.Path = filepath.Join(cfg.DataDir, "heuristics.json")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	e.logger.Info("data directory ready", slog.String("dir", cfg.DataDir))

	var store heuristics.Store = heuristics.NewFileStore(cfg.Heuristics.Path, e.logger)
	if cfg.Heuristics.Backend != config.BackendFile {
		res, err := openResources(ctx, cfg, e.logger)
		if err != nil {
			return err
		}
		defer res.Close()
		if store, err = registryStore(cfg, res, e.logger); err != nil {
			return err
		}
	}

	_, err := store.Load(ctx)
	switch {
	case err == nil:
		e.logger.Info("registry exists, leaving it untouched", slog.String("backend", cfg.Heuristics.Backend))
		return nil
	case errors.Is(err, heuristics.ErrNotFound):
		return seedStore(ctx, e, store)
	default:
		return fmt.Errorf("check existing registry: %w", err)
	}
}

func seedStore(ctx context.Context, e *env, store heuristics.Store) error {
	seed := heuristics.Seed()
	if err := store.Save(ctx, seed); err != nil {
		return fmt.Errorf("save seed registry: %w", err)
	}
	cex, bridge := seed.Count()
	e.logger.Info("seed registry written", slog.Int("cex_addresses", cex), slog.Int("bridge_addresses", bridge))
	return nil
}

func runLearn(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("learn", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "Ethereum JSON-RPC URL")
	block := fs.Uint64("block", 0, "Block number (default: latest)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := e.cfg
	overrideStr(&cfg.Node.RPCURL, *rpcURL)
	if err := cfg.Validate("learn"); err != nil {
		return err
	}

	res, err := openResources(ctx, cfg, e.logger)
	if err != nil {
		return err
	}
	defer res.Close()

	store, err := registryStore(cfg, res, e.logger)
	if err != nil {
		return err
	}
	reg, err := loadOrEmpty(ctx, store, e.logger)
	if err != nil {
		return err
	}

	source, err := ingest.DialRPC(ctx, cfg.Node.RPCURL, e.logger)
	if err != nil {
		return err
	}
	defer source.Close()

	number, learned, err := pipeline.LearnBlock(ctx, source, reg, *block)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, reg); err != nil {
		return fmt.Errorf("save heuristics: %w", err)
	}
	e.logger.Info("block learned", slog.Uint64("block", number), slog.Int("learned", learned))
	return nil
}

func runClassify(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "Ethereum JSON-RPC URL")
	hash := fs.String("tx", "", "Transaction hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hash == "" && fs.NArg() > 0 {
		*hash = fs.Arg(0)
	}
	if *hash == "" {
		return fmt.Errorf("-tx is required")
	}

	cfg := e.cfg
	overrideStr(&cfg.Node.RPCURL, *rpcURL)
	if err := cfg.Validate("classify"); err != nil {
		return err
	}

	res, err := openResources(ctx, cfg, e.logger)
	if err != nil {
		return err
	}
	defer res.Close()

	store, err := registryStore(cfg, res, e.logger)
	if err != nil {
		return err
	}
	reg, err := loadOrEmpty(ctx, store, e.logger)
	if err != nil {
		return err
	}

	source, err := ingest.DialRPC(ctx, cfg.Node.RPCURL, e.logger)
	if err != nil {
		return err
	}
	defer source.Close()

	tx, category, changed, err := pipeline.LearnTransaction(ctx, source, reg, *hash)
	if err != nil {
		return err
	}
	to := "(contract creation)"
	if tx.To != nil {
		to = strings.ToLower(*tx.To)
	}
	fmt.Fprintf(e.stdout, "%s %s -> %s %s\n", tx.Hash, tx.From, to, category)

	if !changed {
		return nil
	}
	if err := store.Save(ctx, reg); err != nil {
		return fmt.Errorf("save heuristics: %w", err)
	}
	e.logger.Info("recipient learned", slog.String("tx", tx.Hash), slog.String("category", category.String()))
	return nil
}

// loadOrEmpty loads the registry, starting from an empty one when none has
// been saved yet.
func loadOrEmpty(ctx context.Context, store heuristics.Store, logger *slog.Logger) (*heuristics.Registry, error) {
	reg, err := store.Load(ctx)
	if errors.Is(err, heuristics.ErrNotFound) {
		logger.Warn("no registry yet, starting from an empty one")
		return heuristics.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load heuristics: %w", err)
	}
	return reg, nil
}

func runHeuristics(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("heuristics", flag.ContinueOnError)
	cexOnly := fs.Bool("cex", false, "List exchange addresses only")
	bridgeOnly := fs.Bool("bridge", false, "List bridge addresses only")
	importPath := fs.String("import", "", "Merge a CSV of role,label,address into the registry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := e.cfg.Validate(""); err != nil {
		return err
	}

	res, err := openResources(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer res.Close()

	store, err := registryStore(e.cfg, res, e.logger)
	if err != nil {
		return err
	}
	reg, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load heuristics: %w", err)
	}

	if *importPath != "" {
		f, err := os.Open(*importPath)
		if err != nil {
			return fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()

		n, err := heuristics.ImportCSV(f, reg)
		if err != nil {
			return err
		}
		if err := store.Save(ctx, reg); err != nil {
			return fmt.Errorf("save heuristics: %w", err)
		}
		e.logger.Info("addresses imported", slog.String("path", *importPath), slog.Int("rows", n))
		return nil
	}

	roles := []heuristics.Role{heuristics.RoleCEX, heuristics.RoleBridge}
	switch {
	case *cexOnly && !*bridgeOnly:
		roles = roles[:1]
	case *bridgeOnly && !*cexOnly:
		roles = roles[1:]
	}
	for _, role := range roles {
		writeLabels(e.stdout, role, reg.Labels(role))
	}
	return nil
}

func writeLabels(w io.Writer, role heuristics.Role, labels map[string][]string) {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "[%s]\n", strings.ToUpper(string(role)))
	for _, name := range names {
		addrs := labels[name]
		fmt.Fprintf(w, "%s (%d)\n", name, len(addrs))
		for _, addr := range addrs {
			fmt.Fprintf(w, "  %s\n", addr)
		}
	}
}

func runAlerts(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ContinueOnError)
	redisURL := fs.String("redis", "", "Redis URL")
	follow := fs.Bool("follow", false, "Stream new alerts until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := e.cfg
	overrideStr(&cfg.Redis.URL, *redisURL)
	if cfg.Redis.URL == "" {
		return fmt.Errorf("alerts needs redis.url")
	}
	cfg.Database.URL = ""

	res, err := openResources(ctx, cfg, e.logger)
	if err != nil {
		return err
	}
	defer res.Close()

	pub := alerts.NewRedisPublisher(res.redis, cfg.Redis.AlertChannel)
	latest, err := pub.Latest(ctx)
	if err != nil {
		return err
	}
	categories := make([]models.Category, 0, len(latest))
	for c := range latest {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	for _, c := range categories {
		line, err := json.Marshal(latest[c])
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, string(line))
	}

	if !*follow {
		return nil
	}
	stream, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	for alert := range stream {
		line, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, string(line))
	}
	return ctx.Err()
}

func runMigrate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("database", "", "PostgreSQL URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	cfg := e.cfg
	overrideStr(&cfg.Database.URL, *dbURL)
	if err := cfg.Validate("migrate"); err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := database.NewMigrator(db)
	if err != nil {
		return err
	}

	switch action {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		for _, r := range results {
			fmt.Fprintf(e.stdout, "applied %s (%s)\n", r.Source.Path, r.Duration)
		}
	case "down":
		r, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Fprintf(e.stdout, "rolled back %s\n", r.Source.Path)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		for _, s := range statuses {
			fmt.Fprintf(e.stdout, "%-8s %s\n", s.State, s.Source.Path)
		}
	default:
		return fmt.Errorf("unknown migrate action %q (valid: up, down, status)", action)
	}
	return nil
}
