package pipeline

import (
	"math"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
)

// WalletType is the behavioral class assigned to a wallet from its score.
type WalletType string

// Wallet types
const (
	WalletDomestic WalletType = "domestic"
	WalletForeign  WalletType = "foreign"
	WalletBridge   WalletType = "bridge"
	WalletMixer    WalletType = "mixer"
	WalletUnknown  WalletType = "unknown"
)

// Score weights. Rupiah-pegged tokens pull a wallet towards Domestic; sends
// to offshore exchanges pull it towards Foreign.
const (
	domesticTokenWeight   = 0.5
	foreignExchangeWeight = -0.5
)

var (
	domesticTokens   = map[string]bool{"IDRT": true, "BIDR": true}
	foreignExchanges = []string{"binance", "kucoin", "okx"}
)

// Labeler resolves the exchange label an address is filed under.
type Labeler interface {
	CEXLabel(addr string) (string, bool)
}

// ScoreTransfers sums the per-transfer heuristics over transfers. A transfer
// counts as sent to a foreign exchange when its recipient, or the exchange
// label labels files it under, names one. labels may be nil.
func ScoreTransfers(transfers []ingest.TokenTransfer, labels Labeler) float64 {
	var score float64
	for _, t := range transfers {
		if domesticTokens[t.TokenSymbol] {
			score += domesticTokenWeight
		}
		if isForeignExchange(t.To, labels) {
			score += foreignExchangeWeight
		}
	}
	return score
}

func isForeignExchange(to string, labels Labeler) bool {
	if to == "" {
		return false
	}
	if namesForeignExchange(to) {
		return true
	}
	if labels == nil {
		return false
	}
	label, ok := labels.CEXLabel(to)
	return ok && namesForeignExchange(label)
}

func namesForeignExchange(s string) bool {
	s = strings.ToLower(s)
	for _, name := range foreignExchanges {
		if strings.Contains(s, name) {
			return true
		}
	}
	return false
}

// ClassifyWallet maps a score onto a WalletType:
//
//	score >= 0.6        -> domestic
//	0.2 < score < 0.6   -> bridge
//	-0.5 < score <= 0.2 -> mixer
//	score <= -0.5       -> foreign
//
// NaN is unknown.
func ClassifyWallet(score float64) WalletType {
	switch {
	case math.IsNaN(score):
		return WalletUnknown
	case score >= 0.6:
		return WalletDomestic
	case score > 0.2:
		return WalletBridge
	case score > -0.5:
		return WalletMixer
	default:
		return WalletForeign
	}
}
