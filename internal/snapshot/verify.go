package snapshot

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/codec"
)

// Mismatch is a key whose migrated balance differs from the snapshot.
type Mismatch struct {
	Key  codec.Key
	Want *uint256.Int
	Got  *uint256.Int
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.Key, m.Want.Dec(), m.Got.Dec())
}

// Verify compares every snapshot entry against the balance returned by
// lookup and reports the ones that differ.
func Verify(entries []codec.Entry, lookup func(codec.Key) *uint256.Int) []Mismatch {
	var out []Mismatch
	for _, e := range entries {
		got := lookup(e.Key)
		if got == nil {
			got = new(uint256.Int)
		}
		if !got.Eq(e.Amount) {
			out = append(out, Mismatch{Key: e.Key, Want: e.Amount, Got: got})
		}
	}
	return out
}
