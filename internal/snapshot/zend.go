package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
)

// SatoshiToWei converts zend amounts (8 decimals) to token amounts (18).
var SatoshiToWei = uint256.NewInt(10_000_000_000)

// unknownPrefix marks dump rows whose script has no standard address.
const unknownPrefix = "unknown"

var ErrBalanceMismatch = errors.New("migrated balances do not add up")

// ZendResult is the outcome of converting a zend dump.
type ZendResult struct {
	// Zend entries are custodied by the ZEND ledger, keyed by hash160.
	Zend []codec.Entry
	// EONMapped entries were mapped to new-chain addresses off-chain and
	// are merged into the EON snapshot.
	EONMapped []codec.Entry

	TotalFromZend *uint256.Int
	ToZendLedger  *uint256.Int
	ToEONLedger   *uint256.Int
	NotMigrated   *uint256.Int
	// UnusedMappings lists mapped zend addresses that had no balance.
	UnusedMappings []string
}

// ReadMapping parses a {"zend address": "0x eth address"} object.
func ReadMapping(r io.Reader) (map[string]common.Address, error) {
	out := make(map[string]common.Address)
	err := decodeObject(r, func(name string, dec *json.Decoder) error {
		var addr string
		if err := dec.Decode(&addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := out[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
		out[name] = common.HexToAddress(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertZend converts a zend dump CSV of "address,satoshi[,...]" rows.
// Rows for unknown scripts and zero balances are skipped, duplicate
// addresses are rejected, mapped addresses are routed to the EON snapshot
// and every other address is reduced to its hash160 key. Several
// addresses sharing a key are summed.
func ConvertZend(dump io.Reader, mapping map[string]common.Address) (*ZendResult, error) {
	logger := log.New("component", "snapshot", "source", "zend")
	r := csv.NewReader(dump)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	res := &ZendResult{
		TotalFromZend: new(uint256.Int),
		ToZendLedger:  new(uint256.Int),
		ToEONLedger:   new(uint256.Int),
		NotMigrated:   new(uint256.Int),
	}
	zend := make(map[codec.Key]*uint256.Int)
	eon := make(map[codec.Key]*uint256.Int)
	seen := make(map[string]struct{})
	used := make(map[string]struct{})

	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected address and balance, got %d fields", line, len(rec))
		}
		address := strings.TrimSpace(rec[0])
		if _, dup := seen[address]; dup {
			return nil, fmt.Errorf("line %d: %w: %s", line, ErrDuplicateKey, address)
		}
		seen[address] = struct{}{}

		satoshi, err := uint256.FromDecimal(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %q", line, ErrInvalidAmount, rec[1])
		}
		wei := new(uint256.Int).Mul(satoshi, SatoshiToWei)
		res.TotalFromZend.Add(res.TotalFromZend, wei)

		switch {
		case strings.HasPrefix(address, unknownPrefix):
			res.NotMigrated.Add(res.NotMigrated, wei)
			logger.Warn("Skipping unknown address", "address", address, "wei", wei)
		case wei.IsZero():
			logger.Debug("Skipping zero balance", "address", address)
		default:
			if eth, ok := mapping[address]; ok {
				used[address] = struct{}{}
				addTo(eon, codec.KeyFromAddress(eth), wei)
				res.ToEONLedger.Add(res.ToEONLedger, wei)
				continue
			}
			_, key, err := claim.DecodeAddress(address)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if _, ok := zend[key]; ok {
				logger.Info("Summing addresses with the same key", "key", key, "address", address)
			}
			addTo(zend, key, wei)
			res.ToZendLedger.Add(res.ToZendLedger, wei)
		}
	}

	for addr := range mapping {
		if _, ok := used[addr]; !ok {
			res.UnusedMappings = append(res.UnusedMappings, addr)
		}
	}

	sum := new(uint256.Int).Add(res.ToZendLedger, res.ToEONLedger)
	sum.Add(sum, res.NotMigrated)
	if !sum.Eq(res.TotalFromZend) {
		return nil, fmt.Errorf("%w: %s + %s + %s != %s", ErrBalanceMismatch,
			res.ToZendLedger, res.ToEONLedger, res.NotMigrated, res.TotalFromZend)
	}

	res.Zend = entriesOf(zend)
	res.EONMapped = entriesOf(eon)
	logger.Info("Converted zend dump", "addresses", len(seen), "zendKeys", len(res.Zend),
		"mapped", len(res.EONMapped), "total", res.TotalFromZend, "notMigrated", res.NotMigrated)
	return res, nil
}

func addTo(m map[codec.Key]*uint256.Int, key codec.Key, amount *uint256.Int) {
	if cur, ok := m[key]; ok {
		cur.Add(cur, amount)
		return
	}
	m[key] = new(uint256.Int).Set(amount)
}

func entriesOf(m map[codec.Key]*uint256.Int) []codec.Entry {
	out := make([]codec.Entry, 0, len(m))
	for k, v := range m {
		out = append(out, codec.Entry{Key: k, Amount: v})
	}
	Sort(out)
	return out
}
