// Package network is the HTTP client of a migration node.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zenmigration/zenmigrate/internal/protocol"
)

// DefaultTimeout bounds a single request including retries.
const DefaultTimeout = 30 * time.Second

// NewHTTPClient creates an HTTP client that retries reads per config.
func NewHTTPClient(config RetryConfig, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewRetryRoundTripper(http.DefaultTransport, config),
		Timeout:   timeout,
	}
}

// APIError is a non-2xx answer of the node.
type APIError struct {
	StatusCode int
	Body       protocol.ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("node returned %d: %s", e.StatusCode, e.Body.Error)
	if e.Body.TxHash != "" {
		msg += " (tx " + e.Body.TxHash + ")"
	}
	return msg
}

// Client talks to the API of a migration node.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// NewClient returns a client for the node at baseURL. A nil httpClient
// gets three attempts per read.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(RetryConfig{Attempts: 3, MinDelay: 100 * time.Millisecond, MaxDelay: time.Second}, DefaultTimeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log.New("component", "client", "node", baseURL),
	}
}

func (c *Client) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	return get[protocol.InfoResponse](ctx, c, "/info")
}

func (c *Client) Token(ctx context.Context) (*protocol.TokenResponse, error) {
	return get[protocol.TokenResponse](ctx, c, "/token")
}

func (c *Client) TokenBalance(ctx context.Context, holder common.Address) (*protocol.BalanceResponse, error) {
	return get[protocol.BalanceResponse](ctx, c, "/token/balance/"+holder.Hex())
}

// LedgerBalance returns the unpaid balance of key on the named ledger. On
// the ZEND ledger key may also be a zen address.
func (c *Client) LedgerBalance(ctx context.Context, ledger, key string) (*protocol.BalanceResponse, error) {
	return get[protocol.BalanceResponse](ctx, c, "/ledger/"+url.PathEscape(ledger)+"/balance/"+url.PathEscape(key))
}

// LedgerStatus returns the raw status document of the named ledger.
func (c *Client) LedgerStatus(ctx context.Context, ledger string) (json.RawMessage, error) {
	resp, err := get[json.RawMessage](ctx, c, "/ledger/"+url.PathEscape(ledger)+"/status")
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

func (c *Client) ClaimP2PKH(ctx context.Context, ledger string, req protocol.ClaimP2PKHRequest) (*protocol.TxResponse, error) {
	return c.transact(ctx, "/ledger/"+url.PathEscape(ledger)+"/claim/p2pkh", req)
}

func (c *Client) ClaimP2SH(ctx context.Context, ledger string, req protocol.ClaimP2SHRequest) (*protocol.TxResponse, error) {
	return c.transact(ctx, "/ledger/"+url.PathEscape(ledger)+"/claim/p2sh", req)
}

func (c *Client) ClaimDirect(ctx context.Context, ledger string, req protocol.ClaimDirectRequest) (*protocol.TxResponse, error) {
	return c.transact(ctx, "/ledger/"+url.PathEscape(ledger)+"/claim/direct", req)
}

func (c *Client) Distribute(ctx context.Context, ledger string, req protocol.DistributeRequest) (*protocol.TxResponse, error) {
	return c.transact(ctx, "/ledger/"+url.PathEscape(ledger)+"/distribute", req)
}

func (c *Client) VestingClaim(ctx context.Context, schedule string, req protocol.VestingClaimRequest) (*protocol.TxResponse, error) {
	return c.transact(ctx, "/vesting/"+url.PathEscape(schedule)+"/claim", req)
}

func (c *Client) transact(ctx context.Context, path string, body any) (*protocol.TxResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp protocol.TxResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("Transaction sent", "path", path, "tx", resp.TxHash)
	return &resp, nil
}

func get[T any](ctx context.Context, c *Client, path string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
