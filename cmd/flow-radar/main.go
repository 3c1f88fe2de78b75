// flow-radar - Real-time Ethereum capital flow monitor.
//
// Classifies every transaction of each new block by counterparty (exchange,
// bridge, unknown), summarizes per-block flows, keeps a rolling window and
// raises alerts when flows cross configured thresholds.
//
// Usage:
//
//	flow-radar [-config flow-radar.toml] <command> [flags]
//
// Commands:
//
//	watch       follow the chain head and monitor flows
//	summary     print the latest stored summaries
//	init        create the data directory and seed registry
//	learn       feed one block's recipients back into the registry
//	classify    classify one transaction and learn its recipient
//	heuristics  list registry labels and addresses
//	wallet      score and classify a wallet, or a batch of wallets
//	score       score a saved transfers file
//	fetch       save a wallet's token transfers as JSON
//	crawl       collect the wallets that sent tokens to an address
//	train       write training features for a list of wallets
//	outflow     export daily domestic outflow from wallet reports as CSV
//	alerts      print the latest alert per category from Redis
//	migrate     apply or inspect database migrations
//
// Environment variables (alternative to the config file):
//
//	FLOW_RADAR_RPC_URL     - Ethereum JSON-RPC endpoint
//	FLOW_RADAR_WS_URL      - Websocket endpoint for newHeads (optional)
//	FLOW_RADAR_REDIS       - Redis URL (optional)
//	FLOW_RADAR_DATABASE    - PostgreSQL URL (optional)
//	ETHERSCAN_API_KEY      - Etherscan API key (wallet, fetch, crawl, train)
//	FLOW_RADAR_REPORTS_DIR - Output root for wallet reports and crawl results
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hervehildenbrand/flow-radar/pkg/config"
)

// env carries what every command needs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"watch", "follow the chain head and monitor flows", runWatch},
	{"summary", "print the latest stored summaries", runSummary},
	{"init", "create the data directory and seed registry", runInit},
	{"learn", "feed one block's recipients back into the registry", runLearn},
	{"classify", "classify one transaction and learn its recipient", runClassify},
	{"heuristics", "list registry labels and addresses", runHeuristics},
	{"wallet", "score and classify a wallet, or a batch of wallets", runWallet},
	{"score", "score a saved transfers file", runScore},
	{"fetch", "save a wallet's token transfers as JSON", runFetch},
	{"crawl", "collect the wallets that sent tokens to an address", runCrawl},
	{"train", "write training features for a list of wallets", runTrain},
	{"outflow", "export daily domestic outflow from wallet reports as CSV", runOutflow},
	{"alerts", "print the latest alert per category from Redis", runAlerts},
	{"migrate", "apply or inspect database migrations", runMigrate},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("flow-radar", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("FLOW_RADAR_CONFIG"), "Path to TOML configuration file (optional)")
	logLevel := global.String("log-level", "", "Log level: debug, info, warn, error")
	global.Usage = func() { usage(global, stderr) }

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(global, stderr)
		return 2
	}

	name := global.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(global, stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config %s: %v\n", *configPath, err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{
		cfg:    cfg,
		logger: logger.With(slog.String("command", name)),
		stdout: stdout,
	}
	if err := cmd.run(ctx, e, global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, context.Canceled) {
			logger.Info("shut down gracefully")
			return 0
		}
		logger.Error("command failed", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Usage: flow-radar [global flags] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-11s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fs.PrintDefaults()
}

// newLogger builds the JSON logger. Logs go to stderr so command output on
// stdout stays machine-readable.
func newLogger(w io.Writer, levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// overrideStr sets dst when a flag value was given; flags win over the
// environment and the config file.
func overrideStr(dst *string, flagVal string) {
	if flagVal != "" {
		*dst = flagVal
	}
}
