package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Output file names inside a month directory.
const (
	WalletReportFile  = "wallet-report.jsonl"
	WalletAddressFile = "wallet-address.jsonl"
	TrainingDataFile  = "training-data.jsonl"
)

// MonthDir returns <root>/YYYY-MM for t in UTC.
func MonthDir(root string, t time.Time) string {
	return filepath.Join(root, t.UTC().Format("2006-01"))
}

// AppendJSONL appends v as one JSON line to path, creating parent
// directories as needed.
func AppendJSONL(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return appendLines(path, [][]byte{line})
}

// AppendAddresses appends each address as a JSON string line.
func AppendAddresses(path string, addrs []string) error {
	lines := make([][]byte, 0, len(addrs))
	for _, a := range addrs {
		line, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode address: %w", err)
		}
		lines = append(lines, line)
	}
	return appendLines(path, lines)
}

func appendLines(path string, lines [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ReadAddresses reads one wallet address per line. Lines are trimmed, blank
// lines skipped and surrounding JSON quotes removed, so both plain lists and
// AppendAddresses output are accepted.
func ReadAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address list: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if unq, err := strconv.Unquote(line); err == nil {
			line = strings.TrimSpace(unq)
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read address list: %w", err)
	}
	return out, nil
}

// ReadRecords decodes path either as a JSON array of T or as JSON lines.
func ReadRecords[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return out, nil
	}
	return decodeLines[T](path, data)
}

// ReadJSONLDir decodes every *.jsonl file in dir, in name order. Lines that
// fail to decode are skipped and counted.
func ReadJSONLDir[T any](dir string) ([]T, int, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", dir, err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(paths)

	var out []T
	bad := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", p, err)
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var v T
			if err := json.Unmarshal(line, &v); err != nil {
				bad++
				continue
			}
			out = append(out, v)
		}
	}
	return out, bad, nil
}

func decodeLines[T any](path string, data []byte) ([]T, error) {
	var out []T
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteJSON writes v to path as indented JSON, replacing the file.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", path, err)
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteOutflowCSV writes daily totals as "date,outflow_usd" rows sorted by
// date, amounts with two decimals.
func WriteOutflowCSV(path string, daily map[string]float64) error {
	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"date", "outflow_usd"})
	for _, d := range days {
		w.Write([]string{d, strconv.FormatFloat(daily[d], 'f', 2, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode outflow csv: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
