// Package ingest provides block and transaction sources: JSON-RPC polling,
// a websocket new-head feed, and an Etherscan token transfer fetcher.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

var (
	// ErrBlockNotFound is returned when the node has no block at the requested height.
	ErrBlockNotFound = errors.New("block not found")
	// ErrTxNotFound is returned when the node does not know a transaction hash.
	ErrTxNotFound = errors.New("transaction not found")
)

const (
	defaultCallTimeout = 20 * time.Second
)

// BlockSource supplies decoded blocks by number.
type BlockSource interface {
	// LatestBlockNumber returns the current chain head height.
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// BlockByNumber returns the block at height n with full transactions.
	BlockByNumber(ctx context.Context, n uint64) (models.Block, error)
}

// RPCSource reads blocks from an Ethereum JSON-RPC endpoint (HTTP or WS).
type RPCSource struct {
	client  *rpc.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// DialRPC connects to the JSON-RPC endpoint at url.
func DialRPC(ctx context.Context, url string, logger *slog.Logger) (*RPCSource, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewRPCSource(client, url, logger), nil
}

// NewRPCSource wraps an existing RPC client.
func NewRPCSource(client *rpc.Client, url string, logger *slog.Logger) *RPCSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCSource{
		client:  client,
		url:     url,
		timeout: defaultCallTimeout,
		logger:  logger.With(slog.String("component", "rpc_source")),
	}
}

// LatestBlockNumber calls eth_blockNumber.
func (s *RPCSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var number hexutil.Uint64
	if err := s.client.CallContext(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return uint64(number), nil
}

// BlockByNumber calls eth_getBlockByNumber with full transaction objects.
func (s *RPCSource) BlockByNumber(ctx context.Context, n uint64) (models.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag := hexutil.EncodeUint64(n)
	var raw json.RawMessage
	err := s.client.CallContext(ctx, &raw, "eth_getBlockByNumber", tag, true)
	if errors.Is(err, rpc.ErrNoResult) {
		return models.Block{}, fmt.Errorf("block %s: %w", tag, ErrBlockNotFound)
	}
	if err != nil {
		return models.Block{}, fmt.Errorf("eth_getBlockByNumber %s: %w", tag, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return models.Block{}, fmt.Errorf("block %s: %w", tag, ErrBlockNotFound)
	}

	var block models.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return models.Block{}, fmt.Errorf("decode block %s: %w", tag, err)
	}
	s.logger.Debug("fetched block",
		slog.Uint64("block", n),
		slog.Int("transactions", len(block.Transactions)),
	)
	return block, nil
}

// TransactionByHash calls eth_getTransactionByHash.
func (s *RPCSource) TransactionByHash(ctx context.Context, hash string) (models.RawTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw json.RawMessage
	err := s.client.CallContext(ctx, &raw, "eth_getTransactionByHash", hash)
	if errors.Is(err, rpc.ErrNoResult) {
		return models.RawTransaction{}, fmt.Errorf("tx %s: %w", hash, ErrTxNotFound)
	}
	if err != nil {
		return models.RawTransaction{}, fmt.Errorf("eth_getTransactionByHash %s: %w", hash, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return models.RawTransaction{}, fmt.Errorf("tx %s: %w", hash, ErrTxNotFound)
	}

	var tx models.RawTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return models.RawTransaction{}, fmt.Errorf("decode tx %s: %w", hash, err)
	}
	return tx, nil
}

// Close releases the underlying connection.
func (s *RPCSource) Close() {
	s.client.Close()
}
