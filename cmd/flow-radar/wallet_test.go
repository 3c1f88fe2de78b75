package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/pipeline"
	"github.com/hervehildenbrand/flow-radar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	domesticWallet = "0x1111111111111111111111111111111111111111"
	quietWallet    = "0x2222222222222222222222222222222222222222"
	exchangeWallet = "0x28c6c06298d514db089934071355e5743bf21d60"
	sender1        = "0x3333333333333333333333333333333333333333"
	sender2        = "0x4444444444444444444444444444444444444444"
)

func transfer(from, to, symbol, value, ts string) string {
	return fmt.Sprintf(`{"blockNumber":"10","timeStamp":"%s","hash":"0x%s%s%s","from":"%s","to":"%s","value":"%s","contractAddress":"0xc","tokenSymbol":"%s","tokenDecimal":"2"}`,
		ts, from[2:6], symbol, value, from, to, value, symbol)
}

// etherscanServer answers tokentx with the transfers listed for the address.
func etherscanServer(t *testing.T, byAddress map[string][]string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := byAddress[strings.ToLower(r.URL.Query().Get("address"))]
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[%s]}`, strings.Join(rows, ","))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("FLOW_RADAR_ETHERSCAN_URL", srv.URL)
	t.Setenv("ETHERSCAN_API_KEY", "test-key")
	t.Setenv("FLOW_RADAR_HEURISTICS_PATH", filepath.Join(t.TempDir(), "heuristics.json"))
}

func walletFixtures(t *testing.T) string {
	t.Helper()
	out := t.TempDir()
	t.Setenv("FLOW_RADAR_REPORTS_DIR", out)
	etherscanServer(t, map[string][]string{
		domesticWallet: {
			transfer(domesticWallet, quietWallet, "IDRT", "100000", "1704067200"),
			transfer(domesticWallet, quietWallet, "BIDR", "100000", "1704067200"),
		},
		exchangeWallet: {
			transfer(sender1, exchangeWallet, "USDT", "5", "1704067200"),
			transfer(sender2, exchangeWallet, "USDT", "6", "1704067200"),
			transfer(sender1, exchangeWallet, "USDT", "7", "1704067200"),
		},
	})
	return out
}

func TestRunWalletSingle(t *testing.T) {
	walletFixtures(t)

	code, stdout, stderr := runCLI(t, "wallet", "-address", domesticWallet)
	require.Equal(t, 0, code, stderr)

	var report pipeline.WalletReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, pipeline.WalletDomestic, report.Category)
	assert.InDelta(t, 1.0, report.Score, 1e-9)
	assert.Equal(t, 2, report.Transfers)
	assert.Empty(t, report.Txs)
}

func TestRunWalletRequiresOneTarget(t *testing.T) {
	walletFixtures(t)

	code, _, stderr := runCLI(t, "wallet")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "exactly one of -address or -batch")
}

func TestRunWalletBatchThenOutflow(t *testing.T) {
	out := walletFixtures(t)
	list := filepath.Join(t.TempDir(), "wallets.txt")
	require.NoError(t, os.WriteFile(list, []byte(domesticWallet+"\n\n  "+quietWallet+"  \n"), 0o644))

	code, stdout, stderr := runCLI(t, "wallet", "-batch", list)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1 succeeded, 1 failed")

	monthDir := storage.MonthDir(out, time.Now())
	reports, err := storage.ReadRecords[pipeline.WalletReport](filepath.Join(monthDir, storage.WalletReportFile))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domesticWallet, reports[0].Wallet)
	assert.Len(t, reports[0].Txs, 2)

	csvPath := filepath.Join(t.TempDir(), "outflow.csv")
	code, _, stderr = runCLI(t, "outflow", "-input", monthDir, "-output", csvPath)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	// 2 x 1,000 rupiah tokens at 0.00007.
	assert.Equal(t, "date,outflow_usd\n2024-01-01,0.14\n", string(data))
}

func TestRunWalletBatchAllFailed(t *testing.T) {
	walletFixtures(t)
	list := filepath.Join(t.TempDir(), "wallets.txt")
	require.NoError(t, os.WriteFile(list, []byte(quietWallet+"\n"), 0o644))

	code, _, stderr := runCLI(t, "wallet", "-batch", list)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "all 1 wallets failed")
}

func TestRunCrawlDedupesAcrossRuns(t *testing.T) {
	out := walletFixtures(t)

	code, stdout, stderr := runCLI(t, "crawl", "-source", exchangeWallet)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 new wallet addresses")

	path := filepath.Join(storage.MonthDir(out, time.Now()), storage.WalletAddressFile)
	got, err := storage.ReadAddresses(path)
	require.NoError(t, err)
	assert.Equal(t, []string{sender1, sender2}, got)

	code, stdout, stderr = runCLI(t, "crawl", "-source", exchangeWallet)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "no new wallet addresses")

	code, _, _ = runCLI(t, "crawl", "-source", quietWallet)
	assert.Equal(t, 1, code)
}

func TestRunTrain(t *testing.T) {
	out := walletFixtures(t)
	list := filepath.Join(t.TempDir(), "wallets.jsonl")
	require.NoError(t, os.WriteFile(list, []byte(`"`+domesticWallet+`"`+"\n"), 0o644))

	code, stdout, stderr := runCLI(t, "train", "-input", list)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1 succeeded, 0 failed")

	rows, err := storage.ReadRecords[pipeline.WalletFeature](filepath.Join(storage.MonthDir(out, time.Now()), storage.TrainingDataFile))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].TotalTx)
	assert.Equal(t, 1, rows[0].DistinctToCount)
	// 1e5 base units read with 18 decimals is dust: both sends are small.
	assert.InDelta(t, 1.0, rows[0].MixerPatternScore, 1e-9)
}

func TestRunFetchThenScore(t *testing.T) {
	walletFixtures(t)
	path := filepath.Join(t.TempDir(), "txs.json")

	code, stdout, stderr := runCLI(t, "fetch", "-address", domesticWallet, "-output", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 transfers written")

	code, stdout, stderr = runCLI(t, "score", "-input", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "score: 1.00")
	assert.Contains(t, stdout, "category: domestic")
}

func TestRunClassifyLearnsRecipient(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "heuristics.json")
	t.Setenv("FLOW_RADAR_HEURISTICS_PATH", registry)

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_getTransactionByHash", req.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"hash":"0xfeed","from":"%s","to":"%s","input":"0x","value":"0x1"}}`,
			req.ID, domesticWallet, "0x"+strings.ToUpper(quietWallet[2:]))
	}))
	defer rpc.Close()
	t.Setenv("FLOW_RADAR_RPC_URL", rpc.URL)

	code, stdout, stderr := runCLI(t, "classify", "0xfeed")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Foreign")

	code, stdout, stderr = runCLI(t, "heuristics", "-cex")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "unknown (1)")
	assert.Contains(t, stdout, quietWallet)
}
