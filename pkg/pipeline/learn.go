package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/classifier"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// TxSource looks up single transactions.
type TxSource interface {
	TransactionByHash(ctx context.Context, hash string) (models.RawTransaction, error)
}

// LearnBlock fetches block number (or the chain head when number is 0) and
// feeds its recipients back into reg. It returns the block number used and
// the number of addresses learned. Saving reg is left to the caller.
func LearnBlock(ctx context.Context, source ingest.BlockSource, reg classifier.Learner, number uint64) (uint64, int, error) {
	if number == 0 {
		latest, err := source.LatestBlockNumber(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("latest block: %w", err)
		}
		number = latest
	}

	block, err := source.BlockByNumber(ctx, number)
	if err != nil {
		return number, 0, fmt.Errorf("fetch block %d: %w", number, err)
	}
	return number, classifier.Learn(block, reg), nil
}

// LearnTransaction classifies the transaction hash and files its recipient
// into reg the same way LearnBlock does. It returns the transaction, its
// category and whether reg changed. Contract creations change nothing.
func LearnTransaction(ctx context.Context, source TxSource, reg classifier.Learner, hash string) (models.RawTransaction, models.Category, bool, error) {
	tx, err := source.TransactionByHash(ctx, hash)
	if err != nil {
		return models.RawTransaction{}, models.CategoryUnknown, false, fmt.Errorf("fetch tx %s: %w", hash, err)
	}
	category := classifier.Classify(tx, reg)
	if tx.To == nil {
		return tx, category, false, nil
	}
	return tx, category, reg.PushByCategory(category, strings.ToLower(*tx.To)), nil
}
