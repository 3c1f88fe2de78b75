package heuristics

// SeedCEX lists well-known exchange hot wallets on Ethereum mainnet.
var SeedCEX = map[string][]string{
	"binance": {
		"0x28c6c06298d514db089934071355e5743bf21d60", // Binance 14
		"0x21a31ee1afc51d94c2efccaa2092ad1028285549", // Binance 15
		"0xdfd5293d8e347dfe59e90efd55b2956a1343963d", // Binance 16
	},
	"coinbase": {
		"0x71660c4005ba85c37ccec55d0c4493e66fe775d3",
		"0x503828976d22510aad0201ac7ec88293211d23da",
	},
	"kraken": {
		"0x2910543af39aba0cd09dbb2d50200b3e800a63d2",
	},
	"okx": {
		"0x6cc5f688a315f3dc28a7781717a9a798a59fda7b",
	},
}

// SeedBridge lists canonical L1 bridge contracts of the major rollups.
var SeedBridge = map[string][]string{
	"arbitrum": {
		"0x8315177ab297ba92a06054ce80a67ed4dbd7ed3a", // Bridge
		"0x4dbd4fc535ac27206064b68ffcf827b0a60bab3f", // Delayed inbox
	},
	"optimism": {
		"0x99c9fc46f92e8a1c0dec1b1747d010903e884be1", // L1StandardBridge
		"0x25ace71c97b33cc4729cf772ae268934f7ab5fa1", // L1CrossDomainMessenger
	},
	"polygon": {
		"0xa0c68c638235ee32657e8f720a23cec1bfc77c77", // RootChainManager
		"0x40ec5b33f54e0e8a33a975908c5ba1c14e5bbbdf", // ERC20 predicate
	},
	"base": {
		"0x3154cf16ccdb4c6d922629664174b904d80f2c35", // L1StandardBridge
	},
}

// Seed returns a registry preloaded with SeedCEX and SeedBridge.
func Seed() *Registry {
	return FromSnapshot(Snapshot{CEX: SeedCEX, Bridge: SeedBridge})
}
