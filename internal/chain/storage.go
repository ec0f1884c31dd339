package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Storage gives typed access to the storage slots of one contract.
// Layout follows Solidity: fixed variables in low slots, mapping values at
// keccak256(key ‖ slot) and dynamic array elements at keccak256(slot)+i.
type Storage struct {
	chain *Chain
	addr  common.Address
}

// Address returns the contract the storage belongs to.
func (s Storage) Address() common.Address {
	return s.addr
}

// Slot returns the fixed slot number n.
func Slot(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// MapSlot returns the slot holding mapping[key] for a mapping at base.
func MapSlot(base, key common.Hash) common.Hash {
	return crypto.Keccak256Hash(key.Bytes(), base.Bytes())
}

// ArraySlot returns the slot of element i of a dynamic array at base.
func ArraySlot(base common.Hash, i uint64) common.Hash {
	start := new(uint256.Int).SetBytes32(crypto.Keccak256(base.Bytes()))
	start.Add(start, uint256.NewInt(i))
	return common.Hash(start.Bytes32())
}

// AddressKey returns the left-padded word of an address used as mapping key.
func AddressKey(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func (s Storage) Get(slot common.Hash) common.Hash {
	return s.chain.stateDB.GetState(s.addr, slot)
}

func (s Storage) Set(slot, value common.Hash) {
	s.chain.stateDB.SetState(s.addr, slot, value)
}

func (s Storage) GetUint(slot common.Hash) *uint256.Int {
	v := s.Get(slot)
	return new(uint256.Int).SetBytes32(v[:])
}

func (s Storage) SetUint(slot common.Hash, v *uint256.Int) {
	s.Set(slot, common.Hash(v.Bytes32()))
}

func (s Storage) GetUint64(slot common.Hash) uint64 {
	return s.GetUint(slot).Uint64()
}

func (s Storage) SetUint64(slot common.Hash, v uint64) {
	s.SetUint(slot, uint256.NewInt(v))
}

func (s Storage) GetAddress(slot common.Hash) common.Address {
	return common.BytesToAddress(s.Get(slot).Bytes())
}

func (s Storage) SetAddress(slot common.Hash, addr common.Address) {
	s.Set(slot, AddressKey(addr))
}

func (s Storage) GetBool(slot common.Hash) bool {
	return s.Get(slot) != (common.Hash{})
}

func (s Storage) SetBool(slot common.Hash, v bool) {
	if v {
		s.Set(slot, common.BigToHash(common.Big1))
		return
	}
	s.Set(slot, common.Hash{})
}

// ArrayLen returns the length of the dynamic array at base.
func (s Storage) ArrayLen(base common.Hash) uint64 {
	return s.GetUint64(base)
}

// ArrayGet returns element i of the dynamic array at base.
func (s Storage) ArrayGet(base common.Hash, i uint64) common.Hash {
	return s.Get(ArraySlot(base, i))
}

// ArrayPush appends v to the dynamic array at base.
func (s Storage) ArrayPush(base, v common.Hash) {
	n := s.ArrayLen(base)
	s.Set(ArraySlot(base, n), v)
	s.SetUint64(base, n+1)
}

// MapSlotBytes returns the slot of mapping[key] for a bytes or string key.
func MapSlotBytes(base common.Hash, key []byte) common.Hash {
	return crypto.Keccak256Hash(key, base.Bytes())
}

// Offset returns the slot i positions after slot, as used by struct fields.
func Offset(slot common.Hash, i uint64) common.Hash {
	v := new(uint256.Int).SetBytes32(slot[:])
	v.Add(v, uint256.NewInt(i))
	return common.Hash(v.Bytes32())
}

// MaxShortString is the longest string SetShortString can hold.
const MaxShortString = 31

// SetShortString stores s in a single slot using the compact layout for
// strings shorter than 32 bytes: data left aligned, length*2 in the last
// byte.
func (s Storage) SetShortString(slot common.Hash, str string) error {
	if len(str) > MaxShortString {
		return fmt.Errorf("string of %d bytes does not fit in one slot", len(str))
	}
	var w common.Hash
	copy(w[:], str)
	w[common.HashLength-1] = byte(len(str) * 2)
	s.Set(slot, w)
	return nil
}

func (s Storage) GetShortString(slot common.Hash) string {
	w := s.Get(slot)
	n := int(w[common.HashLength-1] / 2)
	if n > MaxShortString {
		n = MaxShortString
	}
	return string(w[:n])
}
