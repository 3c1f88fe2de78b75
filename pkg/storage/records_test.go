package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Wallet string  `json:"wallet"`
	Score  float64 `json:"score"`
}

func TestMonthDir(t *testing.T) {
	ts := time.Date(2025, time.March, 31, 23, 30, 0, 0, time.FixedZone("UTC-7", -7*3600))
	assert.Equal(t, filepath.Join("out", "2025-04"), MonthDir("out", ts))
}

func TestAppendJSONLCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2025-04", WalletReportFile)

	require.NoError(t, AppendJSONL(path, row{Wallet: "0xa", Score: 0.5}))
	require.NoError(t, AppendJSONL(path, row{Wallet: "0xb", Score: -1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"wallet\":\"0xa\",\"score\":0.5}\n{\"wallet\":\"0xb\",\"score\":-1}\n", string(data))
}

func TestAddressesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), WalletAddressFile)
	require.NoError(t, os.WriteFile(path, []byte("  0xplain  \n\n"), 0o644))

	require.NoError(t, AppendAddresses(path, []string{"0xb", "0xc"}))

	got, err := ReadAddresses(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xplain", "0xb", "0xc"}, got)

	_, err = ReadAddresses(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    []row
		wantErr bool
	}{
		{"array", `[{"wallet":"0xa","score":1},{"wallet":"0xb"}]`, []row{{"0xa", 1}, {"0xb", 0}}, false},
		{"lines", "{\"wallet\":\"0xa\"}\n\n{\"wallet\":\"0xb\",\"score\":2}\n", []row{{"0xa", 0}, {"0xb", 2}}, false},
		{"bad line", "{\"wallet\":\"0xa\"}\nnot json\n", nil, true},
		{"bad array", `[{"wallet":1}]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, err := ReadRecords[row](path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadJSONLDirSkipsBadLinesAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"), []byte("{\"wallet\":\"0xb\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("{\"wallet\":\"0xa\"}\ngarbage\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("{\"wallet\":\"0xz\"}\n"), 0o644))

	got, bad, err := ReadJSONLDir[row](dir)
	require.NoError(t, err)
	assert.Equal(t, 1, bad)
	assert.Equal(t, []row{{Wallet: "0xa"}, {Wallet: "0xb"}}, got)

	_, _, err = ReadJSONLDir[row](filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWriteOutflowCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "outflow.csv")

	require.NoError(t, WriteOutflowCSV(path, map[string]float64{
		"2024-01-02": 0.004,
		"2024-01-01": 1234.567,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "date,outflow_usd\n2024-01-01,1234.57\n2024-01-02,0.00\n", string(data))
}

func TestWriteJSONReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txs.json")
	require.NoError(t, WriteJSON(path, []row{{Wallet: "0xa"}, {Wallet: "0xb"}}))
	require.NoError(t, WriteJSON(path, []row{{Wallet: "0xc"}}))

	got, err := ReadRecords[row](path)
	require.NoError(t, err)
	assert.Equal(t, []row{{Wallet: "0xc"}}, got)
}
