package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
)

// CrawlSenders returns the distinct wallets that sent tokens to source,
// lower-cased and sorted, leaving out source itself and anything in known.
// known keys must be lower-case. A source without transfers is
// ErrNoTransfers; a crawl that finds nothing new returns an empty slice.
func CrawlSenders(ctx context.Context, fetcher ingest.TransactionFetcher, source string, startBlock uint64, pageSize int, known map[string]struct{}) ([]string, error) {
	transfers, err := fetcher.FetchAllTokenTransfers(ctx, source, startBlock, pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch transfers for %s: %w", source, err)
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoTransfers)
	}

	self := strings.ToLower(source)
	found := make(map[string]struct{})
	for _, t := range transfers {
		from := strings.ToLower(t.From)
		if from == "" || from == self {
			continue
		}
		if _, ok := known[from]; ok {
			continue
		}
		found[from] = struct{}{}
	}

	out := make([]string, 0, len(found))
	for addr := range found {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}
