// Package models defines data structures for blocks, classified transactions,
// flow summaries and alerts.
package models

import (
	"fmt"
	"strconv"
)

// Category is the counterparty classification of a transaction.
type Category string

// Categories
const (
	CategoryDomestic Category = "Domestic"
	CategoryBridge   Category = "Bridge"
	CategoryForeign  Category = "Foreign"
	CategoryUnknown  Category = "Unknown"
)

// Categories lists every category in a fixed order.
var Categories = []Category{CategoryDomestic, CategoryBridge, CategoryForeign, CategoryUnknown}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown labels.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Block is a block as returned by eth_getBlockByNumber with full transactions.
// Number and Timestamp are hex quantities.
type Block struct {
	Number       string           `json:"number"`
	Timestamp    string           `json:"timestamp"`
	Transactions []RawTransaction `json:"transactions"`
}

// RawTransaction is an undecoded transaction. To is nil for contract creation.
type RawTransaction struct {
	Hash  string  `json:"hash"`
	From  string  `json:"from"`
	To    *string `json:"to"`
	Input string  `json:"input"`
	Value string  `json:"value"` // hex quantity
}

// ClassifiedTransaction is a transaction whose value and block timestamp
// decoded successfully, tagged with its category.
type ClassifiedTransaction struct {
	Hash        string
	From        string
	To          *string
	Value       Wei
	Category    Category
	BlockNumber uint64
	Timestamp   uint64 // seconds
}

// FlowSummary holds per-category totals for one block.
// A category missing from CategoryTotals means zero.
type FlowSummary struct {
	BlockNumber    uint64           `json:"block_number"`
	Timestamp      uint64           `json:"timestamp"`
	CategoryTotals map[Category]Wei `json:"category_totals"`
	TxCount        int              `json:"tx_count"`
}

// Total returns the total for c, or zero.
func (s FlowSummary) Total(c Category) Wei {
	return s.CategoryTotals[c]
}

// Clone returns a copy that shares no map with s.
func (s FlowSummary) Clone() FlowSummary {
	totals := make(map[Category]Wei, len(s.CategoryTotals))
	for c, v := range s.CategoryTotals {
		totals[c] = v
	}
	s.CategoryTotals = totals
	return s
}

// FlowDelta is the per-category value the monitor computes on each push.
type FlowDelta struct {
	BlockNumber uint64           `json:"block_number"`
	Deltas      map[Category]Wei `json:"deltas"`
}

// Alert levels
const (
	AlertLevelHigh uint8 = 1
)

// Alert is raised when a delta meets a configured threshold.
type Alert struct {
	Level       uint8    `json:"level"`
	Reason      string   `json:"reason"`
	Category    Category `json:"category"`
	Delta       Wei      `json:"delta_wei"`
	BlockNumber uint64   `json:"block_number"`
}

// ParseHexUint64 decodes a hex quantity such as "0x1b4". The prefix is optional.
func ParseHexUint64(s string) (uint64, error) {
	digits := trimHexPrefix(s)
	if digits == "" {
		return 0, fmt.Errorf("empty hex quantity %q", s)
	}
	return strconv.ParseUint(digits, 16, 64)
}
