// Package indexer is a client for an Etherscan-style block explorer API. It
// fetches balances and transaction histories and maps provider failures onto
// the walleterr taxonomy.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	statusOK              = "1"
	messageNoTransactions = "No transactions found"

	// DefaultUserAgent identifies the client to the explorer.
	DefaultUserAgent = "wallet-engine/1.0"

	maxBodySize = 32 << 20
)

// Config holds the client settings.
type Config struct {
	APIKey     string
	UserAgent  string
	Timeout    time.Duration // per request, 0 = no client-side limit
	MaxRetries uint          // attempts for transport failures, 0 = 1
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Client queries the explorer of a models.Chain.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", "indexer")),
	}
}

// response is the explorer envelope.
type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// GetBalance returns the balance of address in ether, rounded to
// models.RoundDigits decimals. A float64 holds about 15 significant digits, so
// balances above roughly 10^12 ether lose precision in the integer part too;
// use GetBalanceWei when the exact amount matters.
func (c *Client) GetBalance(ctx context.Context, address common.Address, chain models.Chain) (float64, error) {
	wei, err := c.GetBalanceWei(ctx, address, chain)
	if err != nil {
		return 0, err
	}
	return models.WeiToEther(wei, models.RoundDigits), nil
}

// GetBalanceWei returns the balance of address in wei.
func (c *Client) GetBalanceWei(ctx context.Context, address common.Address, chain models.Chain) (*big.Int, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address.Hex()},
		"tag":     {"latest"},
	}
	result, err := c.get(ctx, chain, params)
	if err != nil {
		return nil, err
	}
	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, &walleterr.RemoteError{Message: "balance result is not a string", Payload: string(result)}
	}
	wei, err := models.ParseWei(raw)
	if err != nil {
		return nil, &walleterr.RemoteError{Message: err.Error(), Payload: raw}
	}
	return wei, nil
}

// GetTransactionHistory returns the transactions of address sorted by
// timestamp, each annotated relative to address. An address without history
// yields an empty slice.
func (c *Client) GetTransactionHistory(ctx context.Context, address common.Address, chain models.Chain) ([]models.Transaction, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"sort":    {"asc"},
		"address": {address.Hex()},
	}
	result, err := c.get(ctx, chain, params)
	if errors.Is(err, walleterr.ErrNoTransactionsFound) {
		return []models.Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	if err := json.Unmarshal(result, &txs); err != nil {
		return nil, &walleterr.RemoteError{Message: "malformed txlist result", Payload: string(result)}
	}
	for i := range txs {
		annotate(&txs[i], address)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return timestamp(txs[i]) < timestamp(txs[j])
	})
	return txs, nil
}

// GetOutTransactionHistory returns only the transactions sent by address.
func (c *Client) GetOutTransactionHistory(ctx context.Context, address common.Address, chain models.Chain) ([]models.Transaction, error) {
	txs, err := c.GetTransactionHistory(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Extra.Sent {
			out = append(out, tx)
		}
	}
	return out, nil
}

// GetNonce returns the number of transactions sent by address as seen by the
// explorer.
func (c *Client) GetNonce(ctx context.Context, address common.Address, chain models.Chain) (uint64, error) {
	out, err := c.GetOutTransactionHistory(ctx, address, chain)
	if err != nil {
		return 0, err
	}
	return uint64(len(out)), nil
}

// annotate fills tx.Extra. Contract creations have no "to"; the created
// contract address stands in for it.
func annotate(tx *models.Transaction, address common.Address) {
	from := common.HexToAddress(tx.From)
	to := tx.To
	if to == "" {
		to = tx.ContractAddress
	}
	toHex := ""
	if to != "" {
		toHex = common.HexToAddress(to).Hex()
	}

	var valueEth float64
	if wei, err := models.ParseWei(tx.Value); err == nil {
		valueEth = models.WeiToEther(wei, models.RoundDigits)
	}

	sent := from == address
	tx.Extra = models.Extra{
		ValueEth:    valueEth,
		Sent:        sent,
		Received:    !sent,
		FromAddress: from.Hex(),
		ToAddress:   toHex,
	}
}

func timestamp(tx models.Transaction) uint64 {
	ts, _ := strconv.ParseUint(tx.TimeStamp, 10, 64)
	return ts
}

// get performs one explorer query. Transport failures are retried up to
// MaxRetries attempts; application-level failures are not.
func (c *Client) get(ctx context.Context, chain models.Chain, params url.Values) (json.RawMessage, error) {
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}
	endpoint := chain.IndexerURL + "?" + params.Encode()
	logger := c.logger.With(
		zap.String("chain", chain.Name),
		zap.String("action", params.Get("action")),
		zap.String("address", params.Get("address")),
	)

	var result json.RawMessage
	err := retry.Do(
		func() error {
			var err error
			result, err = c.do(ctx, endpoint)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.MaxRetries),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("explorer request failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, walleterr.ErrNetwork) {
			err = &walleterr.NetworkError{Err: ctxErr}
		}
		logger.Debug("explorer request failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", walleterr.ErrInvalidParameter, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &walleterr.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &walleterr.NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &walleterr.NetworkError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var env response
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &walleterr.RemoteError{Message: "malformed response", Payload: string(body)}
	}
	if err := HandleResponse(env.Status, env.Message, body); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// HandleResponse maps an explorer status/message pair to an error: nil for
// success, walleterr.ErrNoTransactionsFound for an empty history, and a
// *walleterr.RemoteError carrying payload otherwise.
func HandleResponse(status, message string, payload []byte) error {
	if status == statusOK {
		return nil
	}
	if message == messageNoTransactions {
		return walleterr.ErrNoTransactionsFound
	}
	return &walleterr.RemoteError{Message: message, Payload: string(payload)}
}

func isRetryable(err error) bool {
	var netErr *walleterr.NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	if errors.Is(netErr.Err, context.Canceled) || errors.Is(netErr.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case netErr.StatusCode == 0:
		return true
	case netErr.StatusCode == http.StatusTooManyRequests, netErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}
