package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/codec"
)

// Account is one account of an EON state dump.
type Account struct {
	Balance  *uint256.Int
	Contract bool
}

type dumpAccount struct {
	Balance any    `json:"balance"`
	Code    string `json:"code,omitempty"`
}

// ReadEONDump parses a {"accounts": {address: {"balance", "code"}}} dump.
// Accounts carrying code are contracts.
func ReadEONDump(r io.Reader) (map[common.Address]Account, error) {
	out := make(map[common.Address]Account)
	err := decodeObject(r, func(name string, dec *json.Decoder) error {
		if name != "accounts" {
			var skip json.RawMessage
			return dec.Decode(&skip)
		}
		var accounts json.RawMessage
		if err := dec.Decode(&accounts); err != nil {
			return err
		}
		return decodeObject(bytes.NewReader(accounts), func(addr string, dec *json.Decoder) error {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("invalid account %q", addr)
			}
			var acc dumpAccount
			if err := dec.Decode(&acc); err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			a := common.HexToAddress(addr)
			if _, dup := out[a]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, addr)
			}
			balance, err := ParseAmount(acc.Balance)
			if err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			out[a] = Account{Balance: balance, Contract: acc.Code != ""}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAmounts parses a {address: amount} object, as used for the forger
// stakes list.
func ReadAmounts(r io.Reader) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int)
	err := decodeObject(r, func(addr string, dec *json.Decoder) error {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid account %q", addr)
		}
		a := common.HexToAddress(addr)
		if _, dup := out[a]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, addr)
		}
		amount, err := decodeAmount(dec)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		out[a] = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EONResult is the merged EON snapshot with its accounting.
type EONResult struct {
	Entries []codec.Entry

	Total    *uint256.Int
	Restored *uint256.Int
	Filtered *uint256.Int
	Stakes   *uint256.Int
	FromZend *uint256.Int
	// Contracts are the contract accounts left out, largest first.
	Contracts []codec.Entry
}

// MergeEON builds the EON snapshot from a state dump, the forger stakes
// and the zend balances mapped to EON accounts. Contracts, the zero
// address and empty accounts are left out. Stakes held by externally
// owned accounts are already part of the dumped forger contract balance,
// so they move from the filtered to the restored total.
func MergeEON(dump map[common.Address]Account, stakes map[common.Address]*uint256.Int, mapped []codec.Entry) (*EONResult, error) {
	logger := log.New("component", "snapshot", "source", "eon")
	res := &EONResult{
		Total:    new(uint256.Int),
		Restored: new(uint256.Int),
		Filtered: new(uint256.Int),
		Stakes:   new(uint256.Int),
		FromZend: new(uint256.Int),
	}
	balances := make(map[codec.Key]*uint256.Int)
	isContract := func(a common.Address) bool {
		acc, ok := dump[a]
		return ok && acc.Contract
	}

	for addr, acc := range dump {
		res.Total.Add(res.Total, acc.Balance)
		switch {
		case acc.Contract:
			res.Filtered.Add(res.Filtered, acc.Balance)
			res.Contracts = append(res.Contracts, codec.Entry{Key: codec.KeyFromAddress(addr), Amount: acc.Balance})
		case addr == (common.Address{}):
			res.Filtered.Add(res.Filtered, acc.Balance)
		case !acc.Balance.IsZero():
			addTo(balances, codec.KeyFromAddress(addr), acc.Balance)
			res.Restored.Add(res.Restored, acc.Balance)
		}
	}

	for addr, stake := range stakes {
		res.Stakes.Add(res.Stakes, stake)
		if isContract(addr) || addr == (common.Address{}) {
			logger.Warn("Delegator is not migrated", "account", addr, "stake", stake)
			continue
		}
		if stake.Gt(res.Filtered) {
			return nil, fmt.Errorf("%w: stake of %s exceeds filtered balance", ErrBalanceMismatch, addr)
		}
		res.Restored.Add(res.Restored, stake)
		res.Filtered.Sub(res.Filtered, stake)
		if !stake.IsZero() {
			addTo(balances, codec.KeyFromAddress(addr), stake)
		}
	}

	for _, e := range mapped {
		res.FromZend.Add(res.FromZend, e.Amount)
		res.Total.Add(res.Total, e.Amount)
		res.Restored.Add(res.Restored, e.Amount)
		if !e.Amount.IsZero() {
			addTo(balances, e.Key, e.Amount)
		}
	}

	if sum := new(uint256.Int).Add(res.Restored, res.Filtered); !sum.Eq(res.Total) {
		return nil, fmt.Errorf("%w: %s + %s != %s", ErrBalanceMismatch, res.Restored, res.Filtered, res.Total)
	}

	sort.Slice(res.Contracts, func(i, j int) bool {
		return res.Contracts[i].Amount.Gt(res.Contracts[j].Amount)
	})
	res.Entries = entriesOf(balances)
	logger.Info("Merged EON snapshot", "accounts", len(res.Entries), "total", res.Total,
		"restored", res.Restored, "filtered", res.Filtered, "stakes", res.Stakes,
		"fromZend", res.FromZend, "contracts", len(res.Contracts))
	return res, nil
}
