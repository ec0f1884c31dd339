// Package api serves a running migration over HTTP: token, ledger and
// vesting state, claims, distribution and transaction receipts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/factory"
	"github.com/zenmigration/zenmigrate/internal/ledger"
	"github.com/zenmigration/zenmigrate/internal/protocol"
	"github.com/zenmigration/zenmigrate/internal/token"
	"github.com/zenmigration/zenmigrate/internal/vesting"
)

const RequestIDHeader = "X-Request-Id"

var (
	errUnknownLedger  = errors.New("unknown ledger")
	errUnknownVesting = errors.New("unknown vesting schedule")
	errInvalidAddress = errors.New("invalid address")
)

type ctxKey struct{}

// Server handles HTTP requests for a migration node
type Server struct {
	chain   *chain.Chain
	factory common.Address
	sys     *factory.System
	network string
	router  *mux.Router
	logger  log.Logger
}

// NewServer serves the migration sys deployed by the factory at
// factoryAddr on c.
func NewServer(c *chain.Chain, factoryAddr common.Address, sys *factory.System, network string) *Server {
	s := &Server{
		chain:   c,
		factory: factoryAddr,
		sys:     sys,
		network: network,
		router:  mux.NewRouter(),
		logger:  log.New("component", "api"),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/token", s.handleToken).Methods("GET")
	s.router.HandleFunc("/token/balance/{address}", s.handleTokenBalance).Methods("GET")

	s.router.HandleFunc("/ledger/{name}/status", s.handleLedgerStatus).Methods("GET")
	s.router.HandleFunc("/ledger/{name}/balance/{key}", s.handleLedgerBalance).Methods("GET")
	s.router.HandleFunc("/ledger/{name}/distribute", s.handleDistribute).Methods("POST")
	s.router.HandleFunc("/ledger/{name}/claim/p2pkh", s.handleClaimP2PKH).Methods("POST")
	s.router.HandleFunc("/ledger/{name}/claim/p2sh", s.handleClaimP2SH).Methods("POST")
	s.router.HandleFunc("/ledger/{name}/claim/direct", s.handleClaimDirect).Methods("POST")

	s.router.HandleFunc("/vesting/{name}", s.handleVesting).Methods("GET")
	s.router.HandleFunc("/vesting/{name}/claim", s.handleVestingClaim).Methods("POST")

	s.router.HandleFunc("/receipt/{hash}", s.handleReceipt).Methods("GET")
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API listening", "addr", addr, "token", s.sys.Addresses.Token)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		w.Header().Set("Content-Type", "application/json")
		s.logger.Debug("Request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDOf(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	a := s.sys.Addresses
	json.NewEncoder(w).Encode(protocol.InfoResponse{
		Symbol:  s.sys.Token.Symbol(),
		Network: s.network,
		Contracts: protocol.Contracts{
			Factory:           s.factory,
			Token:             a.Token,
			EONLedger:         a.EONLedger,
			ZENDLedger:        a.ZENDLedger,
			DAOVesting:        a.DAOVesting,
			FoundationVesting: a.FoundationVesting,
		},
		StateRoot: s.chain.StateRoot(),
		Time:      s.chain.Time(),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tok := s.sys.Token
	var resp protocol.TokenResponse
	s.chain.View(func(msg *chain.Msg) {
		resp = protocol.TokenResponse{
			Address:       tok.Address(),
			Name:          tok.Name(),
			Symbol:        tok.Symbol(),
			Decimals:      tok.Decimals(),
			Cap:           protocol.NewAmount(tok.Cap(), tok.Decimals()),
			TotalSupply:   protocol.NewAmount(tok.TotalSupply(msg), tok.Decimals()),
			ActiveMinters: tok.ActiveMinters(msg),
			Finalized:     tok.Finalized(msg),
		}
	})
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var resp protocol.BalanceResponse
	s.chain.View(func(msg *chain.Msg) {
		resp = protocol.BalanceResponse{
			Holder:  addr.Hex(),
			Balance: protocol.NewAmount(s.sys.Token.BalanceOf(msg, addr), token.Decimals),
		}
	})
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleLedgerStatus(w http.ResponseWriter, r *http.Request) {
	l, err := s.ledger(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var status ledger.Status
	s.chain.View(func(msg *chain.Msg) { status = l.Status(msg) })
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, r *http.Request) {
	l, err := s.ledger(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	key, err := s.ledgerKey(l, mux.Vars(r)["key"])
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var resp protocol.BalanceResponse
	s.chain.View(func(msg *chain.Msg) {
		resp = protocol.BalanceResponse{
			Holder:  key.Hex(),
			Balance: protocol.NewAmount(l.BalanceOf(msg, key), token.Decimals),
		}
	})
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	l, err := s.ledger(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var req protocol.DistributeRequest
	if !s.decode(w, r, &req) {
		return
	}
	var count uint64
	var more bool
	receipt, err := s.chain.Transact(req.From, func(msg *chain.Msg) error {
		var err error
		if count, err = l.Distribute(msg, req.MaxCount); err != nil {
			return err
		}
		more = l.MoreToDistribute(msg)
		return nil
	})
	if err != nil {
		s.fail(w, r, err, txHashOf(receipt))
		return
	}
	json.NewEncoder(w).Encode(protocol.TxResponse{TxHash: receipt.TxHash, Success: true, Count: count, More: more})
}

func (s *Server) handleClaimP2PKH(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimP2PKHRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.claim(w, r, req.From, func(msg *chain.Msg, l *ledger.Ledger) (*protocol.Amount, error) {
		amount, err := l.ClaimP2PKH(msg, req.Destination, req.Signature, req.PublicKey)
		return amountOf(amount, err)
	})
}

func (s *Server) handleClaimP2SH(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimP2SHRequest
	if !s.decode(w, r, &req) {
		return
	}
	sigs := make([][]byte, len(req.Signatures))
	for i, sig := range req.Signatures {
		sigs[i] = sig
	}
	pubs := make([][]byte, len(req.PublicKeys))
	for i, pub := range req.PublicKeys {
		pubs[i] = pub
	}
	s.claim(w, r, req.From, func(msg *chain.Msg, l *ledger.Ledger) (*protocol.Amount, error) {
		amount, err := l.ClaimP2SH(msg, req.Destination, sigs, req.RedeemScript, pubs)
		return amountOf(amount, err)
	})
}

func (s *Server) handleClaimDirect(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimDirectRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.claim(w, r, req.From, func(msg *chain.Msg, l *ledger.Ledger) (*protocol.Amount, error) {
		amount, err := l.ClaimDirect(msg)
		return amountOf(amount, err)
	})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request, from common.Address, fn func(*chain.Msg, *ledger.Ledger) (*protocol.Amount, error)) {
	l, err := s.ledger(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var amount *protocol.Amount
	receipt, err := s.chain.Transact(from, func(msg *chain.Msg) error {
		var err error
		amount, err = fn(msg, l)
		return err
	})
	if err != nil {
		s.fail(w, r, err, txHashOf(receipt))
		return
	}
	s.logger.Info("Claim processed", "ledger", l.Codec().Name(), "tx", receipt.TxHash, "amount", amount.Wei)
	json.NewEncoder(w).Encode(protocol.TxResponse{TxHash: receipt.TxHash, Success: true, Amount: amount})
}

func (s *Server) handleVesting(w http.ResponseWriter, r *http.Request) {
	v, err := s.vesting(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var status vesting.Status
	s.chain.View(func(msg *chain.Msg) { status = v.Status(msg) })
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleVestingClaim(w http.ResponseWriter, r *http.Request) {
	v, err := s.vesting(r)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	var req protocol.VestingClaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	receipt, err := s.chain.Transact(req.From, v.Claim)
	if err != nil {
		s.fail(w, r, err, txHashOf(receipt))
		return
	}
	json.NewEncoder(w).Encode(protocol.TxResponse{TxHash: receipt.TxHash, Success: true})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid transaction hash %q", raw), "")
		return
	}
	receipt := s.chain.Receipt(common.BytesToHash(b))
	if receipt == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("receipt not found"), "")
		return
	}
	json.NewEncoder(w).Encode(receipt)
}

// Helpers

func (s *Server) ledger(r *http.Request) (*ledger.Ledger, error) {
	switch strings.ToLower(mux.Vars(r)["name"]) {
	case "eon":
		return s.sys.EON, nil
	case "zend":
		return s.sys.ZEND, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownLedger, mux.Vars(r)["name"])
}

func (s *Server) vesting(r *http.Request) (*vesting.Schedule, error) {
	switch strings.ToLower(mux.Vars(r)["name"]) {
	case "dao":
		return s.sys.DAOVesting, nil
	case "foundation":
		return s.sys.FoundationVesting, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownVesting, mux.Vars(r)["name"])
}

// ledgerKey accepts a hex key, and on the ZEND ledger also a zen address.
func (s *Server) ledgerKey(l *ledger.Ledger, raw string) (codec.Key, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return codec.ParseKey(raw)
	}
	if l.Strategy() == ledger.Pull {
		_, key, err := claim.DecodeAddress(raw)
		return key, err
	}
	return codec.ParseKey(raw)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err, "")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, txHash string) {
	s.writeError(w, r, statusOf(err), err, txHash)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error, txHash string) {
	id := requestIDOf(r)
	s.logger.Debug("Request failed", "id", id, "code", code, "err", err)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: err.Error(), TxHash: txHash, RequestID: id})
}

// statusOf maps component errors to HTTP status codes. Everything not
// listed is a state conflict.
func statusOf(err error) int {
	switch {
	case anyOf(err, errUnknownLedger, errUnknownVesting, chain.ErrNoContract):
		return http.StatusNotFound
	case anyOf(err, chain.ErrUnauthorized, token.ErrCallerNotMinter, vesting.ErrImmutableOwner):
		return http.StatusForbidden
	case anyOf(err,
		errInvalidAddress, chain.ErrZeroAddress, codec.ErrInvalidKey, claim.ErrInvalidAddress,
		claim.ErrInvalidSignature, claim.ErrInvalidPublicKey, claim.ErrInvalidSignatureArrayLength,
		claim.ErrInsufficientSignatures, claim.ErrInvalidRedeemScript,
		ledger.ErrUnsupported, ledger.ErrHashMismatch, ledger.ErrEmptyBatch,
		vesting.ErrInvalidTimes, vesting.ErrInvalidNumOfIntervals, token.ErrInvalidPercent):
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

func anyOf(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, raw)
	}
	return common.HexToAddress(raw), nil
}

func hexBytes(raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	return hexutil.Decode(raw)
}

func txHashOf(r *chain.Receipt) string {
	if r == nil {
		return ""
	}
	return r.TxHash.Hex()
}

func amountOf(amount *uint256.Int, err error) (*protocol.Amount, error) {
	if err != nil {
		return nil, err
	}
	a := protocol.NewAmount(amount, token.Decimals)
	return &a, nil
}
