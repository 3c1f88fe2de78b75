package classifier

import (
	"testing"

	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	binance  = "0x28c6c06298d514db089934071355e5743bf21d60"
	kraken   = "0x2910543af39aba0cd09dbb2d50200b3e800a63d2"
	arbitrum = "0x8315177ab297ba92a06054ce80a67ed4dbd7ed3a"
	alice    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob      = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func addr(s string) *string { return &s }

func testRegistry() *heuristics.Registry {
	r := heuristics.New()
	r.PushCEX("binance", binance)
	r.PushCEX("kraken", kraken)
	r.PushBridge("arbitrum", arbitrum)
	// Listed in both roles: exchange wins.
	r.PushCEX("dual", bob)
	r.PushBridge("dual", bob)
	return r
}

func TestClassify(t *testing.T) {
	reg := testRegistry()

	tests := []struct {
		name     string
		from     string
		to       *string
		expected models.Category
	}{
		{"contract creation", alice, nil, models.CategoryUnknown},
		{"contract creation from exchange", binance, nil, models.CategoryUnknown},
		{"to exchange", alice, addr(binance), models.CategoryForeign},
		{"to exchange mixed case", alice, addr("0x28C6C06298D514DB089934071355E5743BF21D60"), models.CategoryForeign},
		{"to bridge", alice, addr(arbitrum), models.CategoryBridge},
		{"to bridge uppercase", alice, addr("0x8315177AB297BA92A06054CE80A67ED4DBD7ED3A"), models.CategoryBridge},
		{"listed as exchange and bridge", alice, addr(bob), models.CategoryForeign},
		// Exchange-to-exchange short-circuits at the exchange rule.
		{"exchange to exchange", binance, addr(kraken), models.CategoryForeign},
		{"unmatched recipient", alice, addr(bob[:len(bob)-1] + "c"), models.CategoryForeign},
		{"empty recipient string", alice, addr(""), models.CategoryForeign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := models.RawTransaction{Hash: "0x01", From: tt.from, To: tt.to, Value: "0x1"}
			assert.Equal(t, tt.expected, Classify(tx, reg))
		})
	}
}

// stubLookup answers each rule independently so the decision order can be
// checked without the coupling between exchange and domestic membership.
type stubLookup struct {
	cex, bridge, domestic bool
	seenTo                []string
}

func (s *stubLookup) IsKnownCEX(a string) bool {
	s.seenTo = append(s.seenTo, a)
	return s.cex
}

func (s *stubLookup) IsKnownBridge(string) bool          { return s.bridge }
func (s *stubLookup) IsKnownDomestic(string, string) bool { return s.domestic }

func TestClassifyDecisionOrder(t *testing.T) {
	tests := []struct {
		name     string
		lookup   stubLookup
		expected models.Category
	}{
		{"all match", stubLookup{cex: true, bridge: true, domestic: true}, models.CategoryForeign},
		{"bridge and domestic", stubLookup{bridge: true, domestic: true}, models.CategoryBridge},
		{"domestic only", stubLookup{domestic: true}, models.CategoryDomestic},
		{"nothing", stubLookup{}, models.CategoryForeign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := tt.lookup
			tx := models.RawTransaction{From: alice, To: addr("0xABCDEF")}
			assert.Equal(t, tt.expected, Classify(tx, &lookup))
			// The recipient is lower-cased before lookup.
			require.NotEmpty(t, lookup.seenTo)
			assert.Equal(t, "0xabcdef", lookup.seenTo[0])
		})
	}
}

func TestClassifyUnknownIgnoresRegistry(t *testing.T) {
	lookup := &stubLookup{cex: true, bridge: true, domestic: true}
	assert.Equal(t, models.CategoryUnknown, Classify(models.RawTransaction{From: binance}, lookup))
	assert.Empty(t, lookup.seenTo)
}

func TestClassifyBlock(t *testing.T) {
	reg := testRegistry()
	block := models.Block{
		Number:    "0x121eac0", // 19000000
		Timestamp: "0x65a4f240",
		Transactions: []models.RawTransaction{
			{Hash: "0x01", From: alice, To: addr(binance), Value: "0xde0b6b3a7640000"},
			{Hash: "0x02", From: alice, To: addr(arbitrum), Value: "0xzz"}, // bad value
			{Hash: "0x03", From: alice, To: nil, Value: "0x0"},
			{Hash: "0x04", From: alice, To: addr(arbitrum), Value: "0x10"},
			{Hash: "0x05", From: alice, To: addr(bob), Value: ""}, // empty value
		},
	}

	txs, dropped := ClassifyBlock(block, reg)
	require.Len(t, txs, 3)
	assert.Equal(t, 2, dropped)

	assert.Equal(t, "0x01", txs[0].Hash)
	assert.Equal(t, models.CategoryForeign, txs[0].Category)
	assert.Equal(t, models.Ether(1), txs[0].Value)
	assert.Equal(t, uint64(19_000_000), txs[0].BlockNumber)
	assert.Equal(t, uint64(1705308736), txs[0].Timestamp)

	assert.Equal(t, models.CategoryUnknown, txs[1].Category)
	assert.Nil(t, txs[1].To)

	assert.Equal(t, models.CategoryBridge, txs[2].Category)
	assert.Equal(t, models.NewWei(16), txs[2].Value)
}

func TestClassifyBlockBadTimestampDropsAll(t *testing.T) {
	block := models.Block{
		Number:    "0x10",
		Timestamp: "not-hex",
		Transactions: []models.RawTransaction{
			{Hash: "0x01", From: alice, To: addr(binance), Value: "0x1"},
			{Hash: "0x02", From: alice, To: addr(bob), Value: "0x2"},
		},
	}

	txs, dropped := ClassifyBlock(block, testRegistry())
	assert.Empty(t, txs)
	assert.Equal(t, 2, dropped)
}

func TestClassifyBlockBadNumberDefaultsToZero(t *testing.T) {
	block := models.Block{
		Number:       "latest",
		Timestamp:    "0x1",
		Transactions: []models.RawTransaction{{Hash: "0x01", From: alice, To: addr(bob), Value: "0x1"}},
	}

	txs, dropped := ClassifyBlock(block, testRegistry())
	require.Len(t, txs, 1)
	assert.Zero(t, dropped)
	assert.Zero(t, txs[0].BlockNumber)
	assert.Equal(t, uint64(1), txs[0].Timestamp)
}

func TestLearn(t *testing.T) {
	reg := heuristics.New()
	reg.PushBridge("arbitrum", arbitrum)

	block := models.Block{
		Number:    "0x1",
		Timestamp: "0x1",
		Transactions: []models.RawTransaction{
			{From: alice, To: addr("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")}, // unmatched -> Foreign
			{From: alice, To: addr(arbitrum)},                                   // Bridge
			{From: alice, To: nil},                                              // skipped
		},
	}

	pushed := Learn(block, reg)
	assert.Equal(t, 2, pushed)

	assert.Equal(t, []string{"0xcccccccccccccccccccccccccccccccccccccccc"},
		reg.Labels(heuristics.RoleCEX)[heuristics.UnknownLabel])
	assert.Equal(t, []string{arbitrum}, reg.Labels(heuristics.RoleBridge)[heuristics.UnknownLabel])
}
