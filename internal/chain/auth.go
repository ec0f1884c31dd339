package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized = errors.New("unauthorized caller")
	ErrZeroAddress  = errors.New("address parameter can't be zero")
)

// Authorization is a closed set of permitted callers kept in a fixed run
// of storage slots starting at base. A slot holding the zero address is a
// retired member; retired slots are never refilled by Grant.
type Authorization struct {
	store Storage
	base  uint64
	size  uint64
}

// NewAuthorization binds a set of size members at slots base..base+size-1.
func NewAuthorization(store Storage, base, size uint64) Authorization {
	return Authorization{store: store, base: base, size: size}
}

// Init writes the initial members. It must run once, at deployment.
func (a Authorization) Init(members ...common.Address) error {
	if uint64(len(members)) != a.size {
		return fmt.Errorf("authorization expects %d members, got %d", a.size, len(members))
	}
	for i, m := range members {
		if m == (common.Address{}) {
			return ErrZeroAddress
		}
		a.store.SetAddress(Slot(a.base+uint64(i)), m)
	}
	return nil
}

// Members returns every member slot in order; retired slots are zero.
func (a Authorization) Members() []common.Address {
	out := make([]common.Address, a.size)
	for i := range out {
		out[i] = a.store.GetAddress(Slot(a.base + uint64(i)))
	}
	return out
}

// Has reports whether addr is an active member.
func (a Authorization) Has(addr common.Address) bool {
	_, ok := a.index(addr)
	return ok
}

// Require fails with ErrUnauthorized unless addr is an active member.
func (a Authorization) Require(addr common.Address) error {
	if !a.Has(addr) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, addr.Hex())
	}
	return nil
}

// Replace swaps member old for next in the same slot.
func (a Authorization) Replace(old, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	i, ok := a.index(old)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, old.Hex())
	}
	a.store.SetAddress(Slot(a.base+i), next)
	return nil
}

// Retire permanently removes addr from the set.
func (a Authorization) Retire(addr common.Address) error {
	i, ok := a.index(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, addr.Hex())
	}
	a.store.SetAddress(Slot(a.base+i), common.Address{})
	return nil
}

// Active returns the number of members that are not retired.
func (a Authorization) Active() int {
	n := 0
	for _, m := range a.Members() {
		if m != (common.Address{}) {
			n++
		}
	}
	return n
}

func (a Authorization) index(addr common.Address) (uint64, bool) {
	if addr == (common.Address{}) {
		return 0, false
	}
	for i := uint64(0); i < a.size; i++ {
		if a.store.GetAddress(Slot(a.base+i)) == addr {
			return i, true
		}
	}
	return 0, false
}
