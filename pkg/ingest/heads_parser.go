package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// Head is a new chain head announced over an eth_subscribe("newHeads") stream.
type Head struct {
	Number    uint64
	Timestamp uint64
	Hash      string
}

// rpcFrame is the envelope of any JSON-RPC websocket frame.
type rpcFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcFrameError  `json:"error"`
}

type rpcFrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// subscriptionParams is the params object of an eth_subscription notification.
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type headerResult struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`
}

// ParseHeadNotification decodes an eth_subscription frame carrying a new head.
// Returns nil if the frame is something else (e.g. the subscribe reply).
func ParseHeadNotification(data []byte) (*Head, error) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if frame.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", frame.Error.Code, frame.Error.Message)
	}

	// Only process subscription notifications
	if frame.Method != "eth_subscription" {
		return nil, nil
	}

	var params subscriptionParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}

	var header headerResult
	if err := json.Unmarshal(params.Result, &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}

	number, err := models.ParseHexUint64(header.Number)
	if err != nil {
		return nil, fmt.Errorf("parse head number: %w", err)
	}
	// Timestamp is informational; a bad one is not fatal.
	timestamp, _ := models.ParseHexUint64(header.Timestamp)

	return &Head{
		Number:    number,
		Timestamp: timestamp,
		Hash:      header.Hash,
	}, nil
}

// parseSubscribeReply extracts the subscription id from the eth_subscribe reply.
func parseSubscribeReply(data []byte) (string, error) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", fmt.Errorf("unmarshal reply: %w", err)
	}
	if frame.Error != nil {
		return "", fmt.Errorf("subscribe rejected %d: %s", frame.Error.Code, frame.Error.Message)
	}
	var id string
	if err := json.Unmarshal(frame.Result, &id); err != nil || id == "" {
		return "", fmt.Errorf("subscribe reply without subscription id")
	}
	return id, nil
}
