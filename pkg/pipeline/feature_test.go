package pipeline

import (
	"strings"
	"testing"

	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/stretchr/testify/assert"
)

func featureTransfers() []ingest.TokenTransfer {
	return []ingest.TokenTransfer{
		{TimeStamp: "1", From: userAddr, To: cexAddr, Value: "5000000000000000000", TokenSymbol: "USDT"},
		{TimeStamp: "2", From: userAddr, To: bridgeAddr, Value: "50000000000000000", TokenSymbol: "USDT"},
		{TimeStamp: "3", From: cexAddr, To: userAddr, Value: "1000000000000000000", TokenSymbol: "USDT"},
		{TimeStamp: "4", From: userAddr, To: cexAddr, Value: "abc"},
		{TimeStamp: "5", From: strings.ToUpper(userAddr), To: cexAddr, Value: "10000000000000000"},
	}
}

func TestFeatureFromTransfers(t *testing.T) {
	f := FeatureFromTransfers(userAddr, featureTransfers(), registry(), FlatPrice(100))

	assert.Equal(t, userAddr, f.Wallet)
	assert.Equal(t, 4, f.TotalTx)
	assert.InDelta(t, 506.0, f.TotalOutUSD, 1e-9)
	assert.Equal(t, 2, f.DistinctToCount)
	assert.True(t, f.InteractsWithCEX)
	assert.True(t, f.UsedBridges)
	// Two small sends out of four parsed transfers.
	assert.InDelta(t, 0.5, f.MixerPatternScore, 1e-9)
}

func TestFeatureWithoutPriceOrRegistry(t *testing.T) {
	f := FeatureFromTransfers(userAddr, featureTransfers(), nil, nil)

	assert.Equal(t, 4, f.TotalTx)
	assert.Zero(t, f.TotalOutUSD)
	assert.Zero(t, f.MixerPatternScore)
	assert.False(t, f.InteractsWithCEX)
	assert.False(t, f.UsedBridges)
}

func TestFeatureNamedRecipients(t *testing.T) {
	f := FeatureFromTransfers(userAddr, []ingest.TokenTransfer{
		{TimeStamp: "1", From: userAddr, To: "Binance-Deposit", Value: "1"},
		{TimeStamp: "2", From: userAddr, To: "hop-bridge", Value: "1"},
	}, nil, nil)

	assert.True(t, f.InteractsWithCEX)
	assert.True(t, f.UsedBridges)
	assert.Equal(t, 2, f.DistinctToCount)
}

func TestFeatureEmpty(t *testing.T) {
	f := FeatureFromTransfers(userAddr, nil, registry(), FlatPrice(100))
	assert.Equal(t, WalletFeature{Wallet: userAddr}, f)
}
