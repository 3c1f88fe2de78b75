// Package monitor keeps a bounded window of block flow summaries and raises
// alerts when per-category flow crosses configured thresholds.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

const (
	// DefaultWindow is the number of summaries kept when none is configured.
	DefaultWindow = 10

	// DefaultForeignThresholdEther is the Foreign alert threshold in ether.
	DefaultForeignThresholdEther = 100
)

// DefaultThresholds alerts on Foreign flow only.
func DefaultThresholds() map[models.Category]models.Wei {
	return map[models.Category]models.Wei{
		models.CategoryForeign: models.Ether(DefaultForeignThresholdEther),
	}
}

// FlowMonitor owns the rolling window. All methods are safe for concurrent use;
// Push is atomic with respect to the queries.
//
// The window is ordered front to tail. Push inserts at the front and, when the
// window is full, evicts the current front entry first. The tail therefore
// stays pinned to the first summary ever pushed once the window holds two or
// more entries, and deltas are always taken against that entry.
type FlowMonitor struct {
	mu         sync.RWMutex
	window     []models.FlowSummary // window[0] is the front
	maxBlocks  int
	thresholds map[models.Category]models.Wei
}

// New creates a monitor holding up to maxBlocks summaries. A non-positive
// maxBlocks uses DefaultWindow. A nil thresholds map uses DefaultThresholds.
func New(maxBlocks int, thresholds map[models.Category]models.Wei) *FlowMonitor {
	if maxBlocks <= 0 {
		maxBlocks = DefaultWindow
	}
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	copied := make(map[models.Category]models.Wei, len(thresholds))
	for c, v := range thresholds {
		copied[c] = v
	}
	return &FlowMonitor{
		window:     make([]models.FlowSummary, 0, maxBlocks),
		maxBlocks:  maxBlocks,
		thresholds: copied,
	}
}

// MaxBlocks returns the window capacity.
func (m *FlowMonitor) MaxBlocks() int { return m.maxBlocks }

// Push computes the delta of summary against the tail entry, evaluates alert
// thresholds and then inserts summary into the window. The delta is nil, and
// no alerts are raised, when the window was empty.
func (m *FlowMonitor) Push(summary models.FlowSummary) (*models.FlowDelta, []models.Alert) {
	summary = summary.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	delta := m.computeDelta(summary)
	alerts := m.detectAlerts(delta)

	if len(m.window) == m.maxBlocks {
		m.window = m.window[1:]
	}
	m.window = append([]models.FlowSummary{summary}, m.window...)

	return delta, alerts
}

// computeDelta adds each of current's totals to the tail entry's total for the
// same category. Categories only present in the tail are left out.
func (m *FlowMonitor) computeDelta(current models.FlowSummary) *models.FlowDelta {
	if len(m.window) == 0 {
		return nil
	}
	prev := m.window[len(m.window)-1]

	deltas := make(map[models.Category]models.Wei, len(current.CategoryTotals))
	for category, value := range current.CategoryTotals {
		deltas[category] = value.Add(prev.CategoryTotals[category])
	}
	return &models.FlowDelta{
		BlockNumber: current.BlockNumber,
		Deltas:      deltas,
	}
}

func (m *FlowMonitor) detectAlerts(delta *models.FlowDelta) []models.Alert {
	var alerts []models.Alert
	if delta == nil {
		return alerts
	}

	for _, category := range models.Categories {
		change, ok := delta.Deltas[category]
		if !ok {
			continue
		}
		threshold, ok := m.thresholds[category]
		if !ok {
			continue
		}
		if change.Cmp(threshold) >= 0 {
			alerts = append(alerts, models.Alert{
				Level:       models.AlertLevelHigh,
				Reason:      fmt.Sprintf("High flow delta for %s", category),
				Category:    category,
				Delta:       change,
				BlockNumber: delta.BlockNumber,
			})
		}
	}
	return alerts
}

// AvgFlow returns the mean per-block total for category across the window.
// Missing categories count as zero. ok is false when the window is empty.
func (m *FlowMonitor) AvgFlow(category models.Category) (avg models.Wei, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.window) == 0 {
		return models.Wei{}, false
	}
	var total models.Wei
	for _, s := range m.window {
		total = total.Add(s.CategoryTotals[category])
	}
	return total.Div(uint64(len(m.window))), true
}

// LatestBlock returns the block number of the tail entry.
func (m *FlowMonitor) LatestBlock() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.window) == 0 {
		return 0, false
	}
	return m.window[len(m.window)-1].BlockNumber, true
}

// Len returns the number of summaries in the window.
func (m *FlowMonitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.window)
}

// Window returns copies of the window entries, front first.
func (m *FlowMonitor) Window() []models.FlowSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FlowSummary, len(m.window))
	for i, s := range m.window {
		out[i] = s.Clone()
	}
	return out
}

// LogWindow writes one line per window entry with its Foreign total.
func (m *FlowMonitor) LogWindow(logger *slog.Logger) {
	window := m.Window()
	logger.Info("rolling window", slog.Int("blocks", len(window)))
	for _, s := range window {
		logger.Info("window entry",
			slog.Uint64("block", s.BlockNumber),
			slog.String("foreign_wei", s.Total(models.CategoryForeign).String()),
			slog.Int("tx_count", s.TxCount),
		)
	}
}
