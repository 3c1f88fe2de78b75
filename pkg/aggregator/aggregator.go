// Package aggregator folds a block's classified transactions into a summary.
package aggregator

import "github.com/hervehildenbrand/flow-radar/pkg/models"

// Summarize totals txs per category with saturating addition. Block number
// and timestamp come from the first transaction; an empty input yields a
// zero summary that callers must not mistake for block 0.
func Summarize(txs []models.ClassifiedTransaction) models.FlowSummary {
	summary := models.FlowSummary{
		CategoryTotals: make(map[models.Category]models.Wei),
		TxCount:        len(txs),
	}
	if len(txs) == 0 {
		return summary
	}

	summary.BlockNumber = txs[0].BlockNumber
	summary.Timestamp = txs[0].Timestamp

	for _, tx := range txs {
		summary.CategoryTotals[tx.Category] = summary.CategoryTotals[tx.Category].Add(tx.Value)
	}
	return summary
}

// IsEmpty reports whether s is the zero summary Summarize returns for an
// empty block.
func IsEmpty(s models.FlowSummary) bool {
	return s.TxCount == 0 && s.BlockNumber == 0 && s.Timestamp == 0 && len(s.CategoryTotals) == 0
}
