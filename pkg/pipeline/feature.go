package pipeline

import (
	"strconv"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/classifier"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
)

// smallTransferUSD is the value below which an outgoing transfer counts
// towards the mixer pattern.
const smallTransferUSD = 10.0

// PriceLookup returns the USD price of one unit of symbol at a unix time.
type PriceLookup func(symbol string, timestamp int64) (float64, bool)

// FlatPrice prices every token at usd.
func FlatPrice(usd float64) PriceLookup {
	return func(string, int64) (float64, bool) { return usd, true }
}

// WalletFeature is one training row describing a wallet's outgoing behavior.
type WalletFeature struct {
	Wallet            string  `json:"wallet"`
	TotalTx           int     `json:"total_tx"`
	TotalOutUSD       float64 `json:"total_out_usd"`
	DistinctToCount   int     `json:"distinct_to_count"`
	InteractsWithCEX  bool    `json:"interacts_with_cex"`
	UsedBridges       bool    `json:"used_bridges"`
	MixerPatternScore float64 `json:"mixer_pattern_score"`
}

// FeatureFromTransfers builds the feature row for wallet. Values are read
// with 18 decimals. Transfers whose value or timestamp does not parse are
// left out, including from TotalTx. Only transfers sent by wallet feed the
// outflow, recipient and small-transfer figures; MixerPatternScore is the
// share of small outgoing transfers among all parsed ones. lookup and price
// may be nil.
func FeatureFromTransfers(wallet string, transfers []ingest.TokenTransfer, lookup classifier.Lookup, price PriceLookup) WalletFeature {
	f := WalletFeature{Wallet: wallet}
	recipients := make(map[string]struct{})
	small := 0

	for _, t := range transfers {
		value, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(t.TimeStamp, 10, 64)
		if err != nil {
			continue
		}
		f.TotalTx++

		if !strings.EqualFold(t.From, wallet) {
			continue
		}
		if price != nil {
			if p, ok := price(t.TokenSymbol, ts); ok {
				usd := p * value / 1e18
				f.TotalOutUSD += usd
				if usd < smallTransferUSD {
					small++
				}
			}
		}

		to := strings.ToLower(t.To)
		recipients[to] = struct{}{}
		if namesForeignExchange(to) || (lookup != nil && lookup.IsKnownCEX(to)) {
			f.InteractsWithCEX = true
		}
		if strings.Contains(to, "bridge") || (lookup != nil && lookup.IsKnownBridge(to)) {
			f.UsedBridges = true
		}
	}

	f.DistinctToCount = len(recipients)
	f.MixerPatternScore = float64(small) / float64(max(f.TotalTx, 1))
	return f
}
