package claim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/zenmigration/zenmigrate/internal/codec"
)

var ErrInvalidAddress = errors.New("invalid zen address")

// Network holds the two-byte base58check version prefixes of a zen network.
type Network struct {
	Name  string
	P2PKH [2]byte
	P2SH  [2]byte
}

var (
	// Mainnet addresses start with "zn" (P2PKH) and "zs" (P2SH).
	Mainnet = Network{Name: "mainnet", P2PKH: [2]byte{0x20, 0x89}, P2SH: [2]byte{0x20, 0x96}}
	// Testnet addresses start with "zt" (P2PKH) and "zr" (P2SH).
	Testnet = Network{Name: "testnet", P2PKH: [2]byte{0x20, 0x98}, P2SH: [2]byte{0x20, 0x92}}
)

// NetworkByName returns mainnet or testnet.
func NetworkByName(name string) (Network, error) {
	switch strings.ToLower(name) {
	case "", "mainnet", "main":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	}
	return Network{}, fmt.Errorf("unknown zen network %q", name)
}

// EncodeAddress returns the base58check form of key under a version prefix.
func (n Network) EncodeAddress(prefix [2]byte, key codec.Key) string {
	payload := make([]byte, 0, 1+codec.KeyLength)
	payload = append(payload, prefix[1])
	payload = append(payload, key[:]...)
	return base58.CheckEncode(payload, prefix[0])
}

// DecodeAddress parses a base58check zen address of this network and
// reports whether it is a P2SH address.
func (n Network) DecodeAddress(addr string) (codec.Key, bool, error) {
	prefix, key, err := DecodeAddress(addr)
	if err != nil {
		return codec.Key{}, false, err
	}
	switch prefix {
	case n.P2PKH:
		return key, false, nil
	case n.P2SH:
		return key, true, nil
	}
	return codec.Key{}, false, fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, addr, n.Name)
}

// DecodeAddress parses any base58check address with a two-byte version and
// a 20-byte payload, returning the version and the ledger key.
func DecodeAddress(addr string) ([2]byte, codec.Key, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return [2]byte{}, codec.Key{}, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
	}
	if len(payload) != 1+codec.KeyLength {
		return [2]byte{}, codec.Key{}, fmt.Errorf("%w: %s has %d payload bytes", ErrInvalidAddress, addr, len(payload))
	}
	var key codec.Key
	copy(key[:], payload[1:])
	return [2]byte{version, payload[0]}, key, nil
}
