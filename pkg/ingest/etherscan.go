package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// ErrRPC is returned when a remote API answers with an error payload.
var ErrRPC = errors.New("remote api error")

const (
	// DefaultEtherscanURL is the Etherscan API root.
	DefaultEtherscanURL = "https://api.etherscan.io/api"
	// DefaultEndBlock is the upper bound passed to tokentx queries.
	DefaultEndBlock uint64 = 99_999_999
	// DefaultPageSize is the number of transfers requested per page.
	DefaultPageSize = 1000

	maxPages = 10_000
)

// TransactionFetcher retrieves a wallet's token transfers.
type TransactionFetcher interface {
	// FetchTokenTransfers returns one page of transfers starting at startBlock.
	FetchTokenTransfers(ctx context.Context, wallet string, startBlock uint64, offset int) ([]TokenTransfer, error)
	// FetchAllTokenTransfers pages through every transfer from startBlock on.
	FetchAllTokenTransfers(ctx context.Context, wallet string, startBlock uint64, offset int) ([]TokenTransfer, error)
}

// TokenTransfer is one ERC-20 transfer as reported by the tokentx endpoint.
// Numeric fields are decimal strings.
type TokenTransfer struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	GasPrice        string `json:"gasPrice,omitempty"`
	GasUsed         string `json:"gasUsed,omitempty"`
}

// ToRaw converts the transfer into a RawTransaction with a hex value so it
// can be run through the classifier, and also returns the parsed value. An
// empty recipient becomes nil.
func (t TokenTransfer) ToRaw() (models.RawTransaction, models.Wei, error) {
	value, err := models.ParseDecimalWei(t.Value)
	if err != nil {
		return models.RawTransaction{}, models.Wei{}, fmt.Errorf("transfer %s value: %w", t.Hash, err)
	}
	raw := models.RawTransaction{
		Hash:  t.Hash,
		From:  t.From,
		Input: "0x",
		Value: value.Hex(),
	}
	if t.To != "" {
		to := t.To
		raw.To = &to
	}
	return raw, value, nil
}

// Block returns the decimal block number and timestamp of the transfer.
func (t TokenTransfer) Block() (number, timestamp uint64, err error) {
	number, err = strconv.ParseUint(t.BlockNumber, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("transfer %s block number: %w", t.Hash, err)
	}
	timestamp, err = strconv.ParseUint(t.TimeStamp, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("transfer %s timestamp: %w", t.Hash, err)
	}
	return number, timestamp, nil
}

func (t TokenTransfer) key() string {
	return t.Hash + "|" + t.From + "|" + t.To + "|" + t.Value + "|" + t.ContractAddress
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// EtherscanClient is a TransactionFetcher backed by the Etherscan REST API.
type EtherscanClient struct {
	baseURL    string
	apiKey     string
	endBlock   uint64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEtherscanClient creates a client. An empty baseURL uses
// DefaultEtherscanURL.
func NewEtherscanClient(baseURL, apiKey string, logger *slog.Logger) *EtherscanClient {
	if baseURL == "" {
		baseURL = DefaultEtherscanURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EtherscanClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		endBlock: DefaultEndBlock,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "etherscan")),
	}
}

// WithEndBlock sets the upper block bound for queries.
func (c *EtherscanClient) WithEndBlock(end uint64) *EtherscanClient {
	c.endBlock = end
	return c
}

// FetchTokenTransfers requests the first ascending page of tokentx results.
func (c *EtherscanClient) FetchTokenTransfers(ctx context.Context, wallet string, startBlock uint64, offset int) ([]TokenTransfer, error) {
	return c.fetchPage(ctx, wallet, startBlock, 1, offset)
}

func (c *EtherscanClient) fetchPage(ctx context.Context, wallet string, startBlock uint64, page, offset int) ([]TokenTransfer, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("etherscan: invalid wallet address %q", wallet)
	}
	if offset <= 0 {
		offset = DefaultPageSize
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("address", wallet)
	params.Set("startblock", strconv.FormatUint(startBlock, 10))
	params.Set("endblock", strconv.FormatUint(c.endBlock, 10))
	params.Set("sort", "asc")
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("apikey", c.apiKey)

	body, err := c.doGet(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("etherscan: tokentx %s: %w", wallet, err)
	}

	var resp etherscanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("etherscan: decode response: %w", err)
	}

	var transfers []TokenTransfer
	if err := json.Unmarshal(resp.Result, &transfers); err != nil {
		// Errors carry a string result, e.g. "Invalid API Key".
		var msg string
		if json.Unmarshal(resp.Result, &msg) == nil {
			return nil, fmt.Errorf("etherscan: %s: %s: %w", resp.Message, msg, ErrRPC)
		}
		return nil, fmt.Errorf("etherscan: decode transfers: %w", err)
	}
	return transfers, nil
}

// FetchAllTokenTransfers pages until an empty page, restarting at the block
// of the last transfer seen so a block split across pages is read again in
// full. When a whole page falls inside one block the page number advances
// instead. Transfers repeated across page boundaries are returned once.
// Paging stops when a page adds nothing new.
func (c *EtherscanClient) FetchAllTokenTransfers(ctx context.Context, wallet string, startBlock uint64, offset int) ([]TokenTransfer, error) {
	var all []TokenTransfer
	seen := make(map[string]struct{})
	pageNo := 1

	for i := 0; i < maxPages; i++ {
		txs, err := c.fetchPage(ctx, wallet, startBlock, pageNo, offset)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			break
		}

		added := 0
		for _, tx := range txs {
			k := tx.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			all = append(all, tx)
			added++
		}

		c.logger.Info("fetched token transfers",
			slog.Int("count", len(txs)),
			slog.Int("new", added),
			slog.Uint64("start_block", startBlock),
			slog.Int("page", pageNo),
		)
		if added == 0 {
			break
		}

		last, err := strconv.ParseUint(txs[len(txs)-1].BlockNumber, 10, 64)
		switch {
		case err != nil || last < startBlock:
			c.logger.Warn("unexpected block number in page, skipping ahead",
				slog.String("block", txs[len(txs)-1].BlockNumber),
				slog.Uint64("start_block", startBlock),
			)
			startBlock, pageNo = startBlock+1, 1
		case last == startBlock:
			pageNo++
		default:
			startBlock, pageNo = last, 1
		}
	}

	return all, nil
}

func (c *EtherscanClient) doGet(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s: %w", resp.StatusCode, string(body), ErrRPC)
	}
	return body, nil
}
