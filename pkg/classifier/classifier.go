// Package classifier assigns counterparty categories to transactions.
package classifier

import (
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// Lookup is the read side of the heuristics registry.
type Lookup interface {
	IsKnownCEX(addr string) bool
	IsKnownBridge(addr string) bool
	IsKnownDomestic(from, to string) bool
}

// Learner is the write side used by the self-learning path.
type Learner interface {
	Lookup
	PushByCategory(category models.Category, addr string) bool
}

// Classify returns the category of tx. The first matching rule wins:
//
//	no recipient           -> Unknown
//	recipient is exchange  -> Foreign
//	recipient is bridge    -> Bridge
//	both ends are exchange -> Domestic
//	otherwise              -> Foreign
func Classify(tx models.RawTransaction, reg Lookup) models.Category {
	if tx.To == nil {
		return models.CategoryUnknown
	}
	to := strings.ToLower(*tx.To)

	switch {
	case reg.IsKnownCEX(to):
		return models.CategoryForeign
	case reg.IsKnownBridge(to):
		return models.CategoryBridge
	case reg.IsKnownDomestic(tx.From, to):
		return models.CategoryDomestic
	default:
		return models.CategoryForeign
	}
}

// ClassifyBlock classifies every transaction in block. Transactions whose
// value or the block timestamp fail to decode are dropped; the number dropped
// is returned alongside the result. An undecodable block number becomes 0.
func ClassifyBlock(block models.Block, reg Lookup) ([]models.ClassifiedTransaction, int) {
	blockNumber, err := models.ParseHexUint64(block.Number)
	if err != nil {
		blockNumber = 0
	}
	timestamp, tsErr := models.ParseHexUint64(block.Timestamp)

	out := make([]models.ClassifiedTransaction, 0, len(block.Transactions))
	dropped := 0
	for _, tx := range block.Transactions {
		category := Classify(tx, reg)

		value, err := models.ParseHexWei(tx.Value)
		if err != nil || tsErr != nil {
			dropped++
			continue
		}

		out = append(out, models.ClassifiedTransaction{
			Hash:        tx.Hash,
			From:        tx.From,
			To:          tx.To,
			Value:       value,
			Category:    category,
			BlockNumber: blockNumber,
			Timestamp:   timestamp,
		})
	}
	return out, dropped
}

// Learn classifies each transaction with a recipient and feeds the
// lower-cased recipient back into the registry by category. Later
// transactions in the same block see addresses learned from earlier ones.
// Returns the number of addresses pushed.
func Learn(block models.Block, reg Learner) int {
	pushed := 0
	for _, tx := range block.Transactions {
		if tx.To == nil {
			continue
		}
		category := Classify(tx, reg)
		if reg.PushByCategory(category, strings.ToLower(*tx.To)) {
			pushed++
		}
	}
	return pushed
}
