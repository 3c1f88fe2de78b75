package pipeline

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// usdPerToken holds the fixed USD rates used for outflow reporting.
var usdPerToken = map[string]float64{
	"USDT": 1.0,
	"USDC": 1.0,
	"IDRT": 0.00007,
	"BIDR": 0.00007,
}

const defaultTokenDecimals = 18

// DailyOutflow totals the USD value moved by domestic wallets per UTC day,
// keyed "2006-01-02". Only reports carrying their transfers contribute.
// Tokens without a rate count as zero; transfers whose timestamp or value
// does not parse are ignored.
func DailyOutflow(reports []WalletReport) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range reports {
		if r.Category != WalletDomestic {
			continue
		}
		for _, t := range r.Txs {
			ts, err := strconv.ParseInt(t.TimeStamp, 10, 64)
			if err != nil {
				continue
			}
			day := time.Unix(ts, 0).UTC().Format(time.DateOnly)

			rate := usdPerToken[strings.ToUpper(t.TokenSymbol)]
			if rate == 0 {
				// Listed with nothing added.
				out[day] += 0
				continue
			}
			value, err := strconv.ParseFloat(t.Value, 64)
			if err != nil {
				continue
			}
			decimals, err := strconv.Atoi(t.TokenDecimal)
			if err != nil {
				decimals = defaultTokenDecimals
			}
			out[day] += rate * value / math.Pow10(decimals)
		}
	}
	return out
}
