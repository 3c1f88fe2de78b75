// Package storage persists flow summaries and wallet analysis output as
// JSON-lines and CSV files.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

const maxLineSize = 1 << 20

// SummaryLog appends one JSON record per summary to a file.
type SummaryLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewSummaryLog creates a log writing to path. The file and its parent
// directories are created on first append.
func NewSummaryLog(path string, logger *slog.Logger) *SummaryLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryLog{
		path:   path,
		logger: logger.With(slog.String("component", "summary_log")),
	}
}

// Path returns the file path.
func (l *SummaryLog) Path() string { return l.path }

// Append writes s as a single line.
func (l *SummaryLog) Append(_ context.Context, s models.FlowSummary) error {
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary %d: %w", s.BlockNumber, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create summary dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write summary log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close summary log: %w", err)
	}

	l.logger.Debug("summary appended", slog.Uint64("block", s.BlockNumber))
	return nil
}

// ReadLatest returns the last n summaries in file order. Blank lines are
// ignored; a malformed line among the last n is an error.
func ReadLatest(path string, n int) ([]models.FlowSummary, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary log: %w", err)
	}
	defer f.Close()

	// Ring of the last n raw lines.
	ring := make([]string, 0, n)
	next := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read summary log: %w", err)
	}

	out := make([]models.FlowSummary, 0, len(ring))
	for i := 0; i < len(ring); i++ {
		line := ring[(next+i)%len(ring)]
		var s models.FlowSummary
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
