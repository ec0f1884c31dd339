// Package protocol holds the request and response bodies of the migration
// node HTTP API.
package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Amount is a token amount in both its raw and its display form.
type Amount struct {
	Wei string `json:"wei"`
	// Value is the amount in whole tokens with every significant decimal.
	Value string `json:"value"`
}

// NewAmount formats a raw amount of a token with the given decimals.
func NewAmount(wei *uint256.Int, decimals uint8) Amount {
	if wei == nil {
		wei = new(uint256.Int)
	}
	return Amount{
		Wei:   wei.Dec(),
		Value: decimal.NewFromBigInt(wei.ToBig(), -int32(decimals)).String(),
	}
}

// Contracts are the addresses of the served migration.
type Contracts struct {
	Factory           common.Address `json:"factory"`
	Token             common.Address `json:"token"`
	EONLedger         common.Address `json:"eon_ledger"`
	ZENDLedger        common.Address `json:"zend_ledger"`
	DAOVesting        common.Address `json:"dao_vesting"`
	FoundationVesting common.Address `json:"foundation_vesting"`
}

// InfoResponse describes the node.
type InfoResponse struct {
	Symbol    string      `json:"symbol"`
	Network   string      `json:"network"`
	Contracts Contracts   `json:"contracts"`
	StateRoot common.Hash `json:"state_root"`
	Time      uint64      `json:"time"`
}

// TokenResponse is the token state.
type TokenResponse struct {
	Address       common.Address   `json:"address"`
	Name          string           `json:"name"`
	Symbol        string           `json:"symbol"`
	Decimals      uint8            `json:"decimals"`
	Cap           Amount           `json:"cap"`
	TotalSupply   Amount           `json:"total_supply"`
	ActiveMinters []common.Address `json:"active_minters"`
	Finalized     bool             `json:"finalized"`
}

// BalanceResponse is the balance of one token holder or ledger key.
type BalanceResponse struct {
	Holder  string `json:"holder"`
	Balance Amount `json:"balance"`
}

// ClaimP2PKHRequest claims the custodied balance of a single key.
type ClaimP2PKHRequest struct {
	From        common.Address `json:"from"`
	Destination common.Address `json:"destination"`
	Signature   hexutil.Bytes  `json:"signature"`
	PublicKey   hexutil.Bytes  `json:"public_key"`
}

// ClaimP2SHRequest claims the custodied balance of a multisig script.
// Signatures and PublicKeys are positional; absent signers are empty.
type ClaimP2SHRequest struct {
	From         common.Address  `json:"from"`
	Destination  common.Address  `json:"destination"`
	Signatures   []hexutil.Bytes `json:"signatures"`
	RedeemScript hexutil.Bytes   `json:"redeem_script"`
	PublicKeys   []hexutil.Bytes `json:"public_keys"`
}

// ClaimDirectRequest claims the balance recorded for the sender itself.
type ClaimDirectRequest struct {
	From common.Address `json:"from"`
}

// DistributeRequest pushes the next slice of a push ledger.
type DistributeRequest struct {
	From     common.Address `json:"from"`
	MaxCount uint64         `json:"max_count"`
}

// VestingClaimRequest triggers a vesting payout.
type VestingClaimRequest struct {
	From common.Address `json:"from"`
}

// TxResponse is returned by every state-changing call.
type TxResponse struct {
	TxHash  common.Hash `json:"tx_hash"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	// Amount is set by claims.
	Amount *Amount `json:"amount,omitempty"`
	// Count and More are set by distribution.
	Count uint64 `json:"count,omitempty"`
	More  bool   `json:"more,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	TxHash    string `json:"tx_hash,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
