package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/aggregator"
	"github.com/hervehildenbrand/flow-radar/pkg/classifier"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// ErrNoTransfers is returned when a wallet has no token transfers to work on.
var ErrNoTransfers = errors.New("no token transfers")

// WalletReport summarizes a wallet's token transfer history. Totals are in
// token base units summed across tokens, so they compare flows by category
// rather than value.
type WalletReport struct {
	Wallet             string             `json:"wallet"`
	Score              float64            `json:"score"`
	Category           WalletType         `json:"category"`
	Transfers          int                `json:"transfers"`
	Outgoing           int                `json:"outgoing"`
	Skipped            int                `json:"skipped"`
	DistinctRecipients int                `json:"distinct_recipients"`
	InteractsWithCEX   bool               `json:"interacts_with_cex"`
	UsedBridges        bool               `json:"used_bridges"`
	Tokens             []string           `json:"tokens"`
	Summary            models.FlowSummary `json:"summary"`
	// Txs holds the transfers the report was built from.
	Txs []ingest.TokenTransfer `json:"txs,omitempty"`
}

// AnalyzeWallet fetches every token transfer of wallet from startBlock on and
// builds its report with ReportFromTransfers.
func AnalyzeWallet(ctx context.Context, fetcher ingest.TransactionFetcher, lookup classifier.Lookup, wallet string, startBlock uint64, pageSize int, logger *slog.Logger) (*WalletReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transfers, err := fetcher.FetchAllTokenTransfers(ctx, wallet, startBlock, pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch transfers for %s: %w", wallet, err)
	}

	report := ReportFromTransfers(wallet, transfers, lookup, logger)
	logger.Info("wallet analyzed",
		slog.String("wallet", wallet),
		slog.Int("transfers", report.Transfers),
		slog.Int("outgoing", report.Outgoing),
		slog.Int("skipped", report.Skipped),
		slog.Float64("score", report.Score),
		slog.String("category", string(report.Category)),
	)
	return report, nil
}

// ReportFromTransfers classifies each transfer against lookup, totals them by
// category and scores the wallet. Transfers whose value or block fields do
// not parse are skipped and counted. A wallet without transfers is unknown.
// When lookup also implements Labeler, exchange labels feed the score.
func ReportFromTransfers(wallet string, transfers []ingest.TokenTransfer, lookup classifier.Lookup, logger *slog.Logger) *WalletReport {
	if logger == nil {
		logger = slog.Default()
	}

	report := &WalletReport{Wallet: wallet, Transfers: len(transfers), Txs: transfers}
	recipients := make(map[string]struct{})
	tokens := make(map[string]struct{})
	txs := make([]models.ClassifiedTransaction, 0, len(transfers))

	for _, t := range transfers {
		raw, value, err := t.ToRaw()
		if err != nil {
			report.Skipped++
			logger.Debug("skipping transfer", slog.String("hash", t.Hash), slog.String("error", err.Error()))
			continue
		}
		number, timestamp, err := t.Block()
		if err != nil {
			report.Skipped++
			logger.Debug("skipping transfer", slog.String("hash", t.Hash), slog.String("error", err.Error()))
			continue
		}

		category := classifier.Classify(raw, lookup)
		txs = append(txs, models.ClassifiedTransaction{
			Hash:        raw.Hash,
			From:        raw.From,
			To:          raw.To,
			Value:       value,
			Category:    category,
			BlockNumber: number,
			Timestamp:   timestamp,
		})

		if t.TokenSymbol != "" {
			tokens[t.TokenSymbol] = struct{}{}
		}
		if !strings.EqualFold(t.From, wallet) {
			continue
		}
		report.Outgoing++
		if raw.To != nil {
			recipients[strings.ToLower(*raw.To)] = struct{}{}
			if lookup.IsKnownCEX(*raw.To) {
				report.InteractsWithCEX = true
			}
			if lookup.IsKnownBridge(*raw.To) {
				report.UsedBridges = true
			}
		}
	}

	report.DistinctRecipients = len(recipients)
	report.Tokens = make([]string, 0, len(tokens))
	for sym := range tokens {
		report.Tokens = append(report.Tokens, sym)
	}
	sort.Strings(report.Tokens)
	report.Summary = aggregator.Summarize(txs)

	labels, _ := lookup.(Labeler)
	report.Score = ScoreTransfers(transfers, labels)
	report.Category = ClassifyWallet(report.Score)
	if len(transfers) == 0 {
		report.Category = WalletUnknown
	}
	return report
}
