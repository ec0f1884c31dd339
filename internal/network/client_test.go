package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenmigration/zenmigrate/internal/api"
	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/factory"
	"github.com/zenmigration/zenmigrate/internal/orchestrator"
	"github.com/zenmigration/zenmigrate/internal/protocol"
)

var (
	operator = common.HexToAddress("0x0900000000000000000000000000000000000009")
	holder   = common.HexToAddress("0x0100000000000000000000000000000000000001")
	direct   = common.HexToAddress("0x0200000000000000000000000000000000000002")
)

func startNode(t *testing.T) (*Client, *orchestrator.Migration) {
	t.Helper()
	c, err := chain.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m, err := orchestrator.Deploy(c, orchestrator.Options{
		Params:   factory.DefaultParams("Horizen", "ZEN", common.HexToAddress("0xda"), common.HexToAddress("0xf0")),
		Operator: operator,
	})
	require.NoError(t, err)

	eon := []codec.Entry{{Key: codec.KeyFromAddress(holder), Amount: uint256.NewInt(7_000)}}
	zend := []codec.Entry{{Key: claim.DirectKey(direct), Amount: uint256.NewInt(3_000)}}
	_, err = m.Run(context.Background(), eon, zend)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(c, m.Factory().Address(), m.System(), "mainnet").Router())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", nil), m
}

func TestClient_Reads(t *testing.T) {
	client, m := startNode(t)
	ctx := context.Background()

	info, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ZEN", info.Symbol)
	assert.Equal(t, m.System().Addresses.Token, info.Contracts.Token)

	tok, err := client.Token(ctx)
	require.NoError(t, err)
	assert.True(t, tok.Finalized)

	bal, err := client.TokenBalance(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "7000", bal.Balance.Wei)

	status, err := client.LedgerStatus(ctx, "zend")
	require.NoError(t, err)
	assert.Contains(t, string(status), "checkpoint")

	bal, err = client.LedgerBalance(ctx, "zend", claim.DirectKey(direct).Hex())
	require.NoError(t, err)
	assert.Equal(t, "3000", bal.Balance.Wei)
}

func TestClient_ClaimDirect(t *testing.T) {
	client, _ := startNode(t)
	ctx := context.Background()

	resp, err := client.ClaimDirect(ctx, "zend", protocol.ClaimDirectRequest{From: direct})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Amount)
	assert.Equal(t, "3000", resp.Amount.Wei)

	bal, err := client.TokenBalance(ctx, direct)
	require.NoError(t, err)
	assert.Equal(t, "3000", bal.Balance.Wei)

	// The push ledger has no claims.
	_, err = client.ClaimDirect(ctx, "eon", protocol.ClaimDirectRequest{From: holder})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Body.RequestID)
}

func TestClient_UnknownLedger(t *testing.T) {
	client, _ := startNode(t)

	_, err := client.LedgerBalance(context.Background(), "nope", "0x00")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRetryRoundTripper_RetriesReads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, time.Second)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryRoundTripper_NeverRetriesTransactions(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(RetryConfig{Attempts: 5}, time.Second)
	resp, err := client.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryRoundTripper_KeepsRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, r.Header.Get(RequestIDHeader))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "fixed")
	resp, err := NewHTTPClient(RetryConfig{}, time.Second).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "fixed", resp.Header.Get(RequestIDHeader))
}
