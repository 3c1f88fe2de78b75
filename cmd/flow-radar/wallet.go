package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/config"
	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/pipeline"
	"github.com/hervehildenbrand/flow-radar/pkg/storage"
)

// walletFlags are shared by the Etherscan-backed commands. out is nil for
// commands that do not write under the reports directory.
type walletFlags struct {
	start  *uint64
	apiKey *string
	out    *string
}

func addWalletFlags(fs *flag.FlagSet, cfg *config.Config, withOut bool) walletFlags {
	f := walletFlags{
		start:  fs.Uint64("start", 0, "First block to scan"),
		apiKey: fs.String("apikey", "", "Etherscan API key"),
	}
	if withOut {
		f.out = fs.String("out", cfg.Reports.Dir, "Output directory (a YYYY-MM subdirectory is used)")
	}
	return f
}

// walletEnv is what the Etherscan-backed commands share once set up.
type walletEnv struct {
	client *ingest.EtherscanClient
	reg    *heuristics.Registry
	close  func()
}

func openWalletEnv(ctx context.Context, e *env, command string, f walletFlags) (*walletEnv, error) {
	cfg := e.cfg
	overrideStr(&cfg.Etherscan.APIKey, *f.apiKey)
	if f.out != nil {
		overrideStr(&cfg.Reports.Dir, *f.out)
	}
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	res, err := openResources(ctx, cfg, e.logger)
	if err != nil {
		return nil, err
	}
	store, err := registryStore(cfg, res, e.logger)
	if err != nil {
		res.Close()
		return nil, err
	}
	reg, err := loadOrEmpty(ctx, store, e.logger)
	if err != nil {
		res.Close()
		return nil, err
	}

	return &walletEnv{
		client: ingest.NewEtherscanClient(cfg.Etherscan.BaseURL, cfg.Etherscan.APIKey, e.logger),
		reg:    reg,
		close:  res.Close,
	}, nil
}

func runWallet(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("wallet", flag.ContinueOnError)
	address := fs.String("address", "", "Wallet address")
	batch := fs.String("batch", "", "File of wallet addresses, one per line; reports are appended under -out")
	withTxs := fs.Bool("txs", false, "Include the transfers in the printed report")
	wf := addWalletFlags(fs, e.cfg, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*address == "") == (*batch == "") {
		return fmt.Errorf("exactly one of -address or -batch is required")
	}

	we, err := openWalletEnv(ctx, e, "wallet", wf)
	if err != nil {
		return err
	}
	defer we.close()

	if *batch != "" {
		return walletBatch(ctx, e, we, *batch, *wf.start)
	}

	report, err := pipeline.AnalyzeWallet(ctx, we.client, we.reg, *address, *wf.start, e.cfg.Etherscan.PageSize, e.logger)
	if err != nil {
		return err
	}
	if !*withTxs {
		report.Txs = nil
	}
	return printJSON(e.stdout, report)
}

// walletBatch analyzes every wallet listed in path and appends each report to
// the month's report file. Wallets that fail or have no transfers are
// skipped and counted; the batch fails only when none succeeded.
func walletBatch(ctx context.Context, e *env, we *walletEnv, path string, start uint64) error {
	wallets, err := storage.ReadAddresses(path)
	if err != nil {
		return err
	}
	out := filepath.Join(storage.MonthDir(e.cfg.Reports.Dir, time.Now()), storage.WalletReportFile)

	ok, failed := 0, 0
	for _, wallet := range wallets {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := pipeline.AnalyzeWallet(ctx, we.client, we.reg, wallet, start, e.cfg.Etherscan.PageSize, e.logger)
		if err == nil && report.Transfers == 0 {
			err = pipeline.ErrNoTransfers
		}
		if err == nil {
			err = storage.AppendJSONL(out, report)
		}
		if err != nil {
			failed++
			e.logger.Warn("wallet skipped", slog.String("wallet", wallet), slog.String("error", err.Error()))
			continue
		}
		ok++
	}

	fmt.Fprintf(e.stdout, "batch complete: %d succeeded, %d failed, reports in %s\n", ok, failed, out)
	if ok == 0 && failed > 0 {
		return fmt.Errorf("batch: all %d wallets failed", failed)
	}
	return nil
}

func runScore(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	input := fs.String("input", "", "Transfers file, JSON array or JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("-input is required")
	}
	if err := e.cfg.Validate("score"); err != nil {
		return err
	}

	transfers, err := storage.ReadRecords[ingest.TokenTransfer](*input)
	if err != nil {
		return err
	}
	score := pipeline.ScoreTransfers(transfers, nil)
	fmt.Fprintf(e.stdout, "score: %.2f\ncategory: %s\n", score, pipeline.ClassifyWallet(score))
	return nil
}

func runFetch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	address := fs.String("address", "", "Wallet address")
	output := fs.String("output", "", "File to write the transfers to as a JSON array")
	wf := addWalletFlags(fs, e.cfg, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *address == "" || *output == "" {
		return fmt.Errorf("-address and -output are required")
	}

	we, err := openWalletEnv(ctx, e, "fetch", wf)
	if err != nil {
		return err
	}
	defer we.close()

	transfers, err := we.client.FetchAllTokenTransfers(ctx, *address, *wf.start, e.cfg.Etherscan.PageSize)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return fmt.Errorf("%s: %w", *address, pipeline.ErrNoTransfers)
	}
	if err := storage.WriteJSON(*output, transfers); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d transfers written to %s\n", len(transfers), *output)
	return nil
}

func runCrawl(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	source := fs.String("source", "", "Wallet whose senders are collected, e.g. an exchange deposit address")
	wf := addWalletFlags(fs, e.cfg, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		return fmt.Errorf("-source is required")
	}

	we, err := openWalletEnv(ctx, e, "crawl", wf)
	if err != nil {
		return err
	}
	defer we.close()

	out := filepath.Join(storage.MonthDir(e.cfg.Reports.Dir, time.Now()), storage.WalletAddressFile)
	known := make(map[string]struct{})
	existing, err := storage.ReadAddresses(out)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, addr := range existing {
		known[strings.ToLower(addr)] = struct{}{}
	}

	found, err := pipeline.CrawlSenders(ctx, we.client, *source, *wf.start, e.cfg.Etherscan.PageSize, known)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(e.stdout, "no new wallet addresses")
		return nil
	}
	if err := storage.AppendAddresses(out, found); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d new wallet addresses saved to %s\n", len(found), out)
	return nil
}

func runTrain(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	input := fs.String("input", "", "File of wallet addresses, one per line")
	wf := addWalletFlags(fs, e.cfg, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	we, err := openWalletEnv(ctx, e, "train", wf)
	if err != nil {
		return err
	}
	defer we.close()

	wallets, err := storage.ReadAddresses(*input)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		fmt.Fprintf(e.stdout, "no wallet addresses in %s\n", *input)
		return nil
	}

	out := filepath.Join(storage.MonthDir(e.cfg.Reports.Dir, time.Now()), storage.TrainingDataFile)
	price := pipeline.FlatPrice(e.cfg.Reports.FlatPriceUSD)
	ok, failed := 0, 0
	for i, wallet := range wallets {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Info("building features", slog.Int("index", i), slog.String("wallet", wallet))

		transfers, err := we.client.FetchAllTokenTransfers(ctx, wallet, *wf.start, e.cfg.Etherscan.PageSize)
		if err == nil && len(transfers) == 0 {
			err = pipeline.ErrNoTransfers
		}
		if err == nil {
			err = storage.AppendJSONL(out, pipeline.FeatureFromTransfers(wallet, transfers, we.reg, price))
		}
		if err != nil {
			failed++
			e.logger.Warn("wallet skipped", slog.String("wallet", wallet), slog.String("error", err.Error()))
			continue
		}
		ok++
	}

	fmt.Fprintf(e.stdout, "training data complete: %d succeeded, %d failed, rows in %s\n", ok, failed, out)
	if ok == 0 {
		return fmt.Errorf("train: all %d wallets failed", failed)
	}
	return nil
}

func runOutflow(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("outflow", flag.ContinueOnError)
	input := fs.String("input", "", "Directory of wallet report .jsonl files")
	output := fs.String("output", "", "CSV file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *output == "" {
		return fmt.Errorf("-input and -output are required")
	}
	if err := e.cfg.Validate("outflow"); err != nil {
		return err
	}

	reports, bad, err := storage.ReadJSONLDir[pipeline.WalletReport](*input)
	if err != nil {
		return err
	}
	if bad > 0 {
		e.logger.Warn("invalid report lines skipped", slog.Int("count", bad))
	}

	daily := pipeline.DailyOutflow(reports)
	if err := storage.WriteOutflowCSV(*output, daily); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d days of domestic outflow written to %s\n", len(daily), *output)
	return nil
}
