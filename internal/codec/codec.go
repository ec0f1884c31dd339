// Package codec encodes ledger keys of the two source chains and folds them
// into the cumulative commitment hash.
//
// Both chains use 20-byte keys but encode them differently in the 96-byte
// ABI tuple (bytes32 previous, key, uint256 amount) that is hashed with
// keccak256: EON keys are EVM addresses (left padded) and ZEND keys are
// hash160 values typed bytes20 (right padded).
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// KeyLength is the byte length of a ledger key on both chains.
const KeyLength = 20

var ErrInvalidKey = errors.New("invalid ledger key")

// Key is a 20-byte ledger key.
type Key [KeyLength]byte

// Hex returns the lowercase 0x-prefixed form used in snapshot files.
func (k Key) Hex() string {
	return "0x" + hex.EncodeToString(k[:])
}

func (k Key) String() string {
	return k.Hex()
}

// Address returns the key reinterpreted as an EVM address.
func (k Key) Address() common.Address {
	return common.Address(k)
}

// KeyFromAddress returns the key of an EVM address.
func KeyFromAddress(addr common.Address) Key {
	return Key(addr)
}

// Entry is one (key, amount) pair of a snapshot.
type Entry struct {
	Key    Key
	Amount *uint256.Int
}

// AddressCodec describes how one chain's keys are encoded.
type AddressCodec interface {
	// Name identifies the chain ("eon" or "zend").
	Name() string
	// Word returns the 32-byte word of key as it appears in the ABI tuple.
	Word(key Key) common.Hash
	// KeyFromWord is the inverse of Word.
	KeyFromWord(word common.Hash) Key
	// NextHash folds (key, amount) into prev.
	NextHash(prev common.Hash, key Key, amount *uint256.Int) common.Hash
}

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytes20Type, _ = abi.NewType("bytes20", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
)

type eonCodec struct {
	args abi.Arguments
}

type zendCodec struct {
	args abi.Arguments
}

// EON keys are EVM addresses, ABI type address.
var EON AddressCodec = eonCodec{args: abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}}

// ZEND keys are hash160 values, ABI type bytes20.
var ZEND AddressCodec = zendCodec{args: abi.Arguments{{Type: bytes32Type}, {Type: bytes20Type}, {Type: uint256Type}}}

func (eonCodec) Name() string { return "eon" }

func (eonCodec) Word(key Key) common.Hash {
	return common.BytesToHash(key[:])
}

func (eonCodec) KeyFromWord(word common.Hash) Key {
	var k Key
	copy(k[:], word[common.HashLength-KeyLength:])
	return k
}

func (c eonCodec) NextHash(prev common.Hash, key Key, amount *uint256.Int) common.Hash {
	return pack(c.args, prev, common.Address(key), amount)
}

func (zendCodec) Name() string { return "zend" }

func (zendCodec) Word(key Key) common.Hash {
	var w common.Hash
	copy(w[:KeyLength], key[:])
	return w
}

func (zendCodec) KeyFromWord(word common.Hash) Key {
	var k Key
	copy(k[:], word[:KeyLength])
	return k
}

func (c zendCodec) NextHash(prev common.Hash, key Key, amount *uint256.Int) common.Hash {
	return pack(c.args, prev, [KeyLength]byte(key), amount)
}

func pack(args abi.Arguments, prev common.Hash, key any, amount *uint256.Int) common.Hash {
	encoded, err := args.Pack([32]byte(prev), key, amount.ToBig())
	if err != nil {
		// Fixed-width static types only; packing cannot fail for valid Go values.
		panic(fmt.Sprintf("codec: abi pack failed: %v", err))
	}
	return crypto.Keccak256Hash(encoded)
}

// ByName returns the codec for "eon" or "zend".
func ByName(name string) (AddressCodec, error) {
	switch strings.ToLower(name) {
	case "eon":
		return EON, nil
	case "zend":
		return ZEND, nil
	}
	return nil, fmt.Errorf("unknown chain %q (want eon or zend)", name)
}

// ParseKey parses a 0x-prefixed, 40 hex digit key.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return k, fmt.Errorf("%w: %q lacks 0x prefix", ErrInvalidKey, s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return k, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	if len(raw) != KeyLength {
		return k, fmt.Errorf("%w: %q has %d bytes", ErrInvalidKey, s, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// CumulativeHash folds entries, in order, starting from prev.
func CumulativeHash(c AddressCodec, prev common.Hash, entries []Entry) common.Hash {
	h := prev
	for _, e := range entries {
		h = c.NextHash(h, e.Key, e.Amount)
	}
	return h
}
