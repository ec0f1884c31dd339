package codec

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	k, err := ParseKey(s)
	require.NoError(t, err)
	return k
}

func TestNextHash_EONEncodesKeyAsAddress(t *testing.T) {
	prev := common.HexToHash("0xabcd")
	key := mustKey(t, "0x00000000000000000000000000000000000000ff")
	amount := uint256.NewInt(23000)

	var buf bytes.Buffer
	buf.Write(prev.Bytes())
	buf.Write(make([]byte, 12))
	buf.Write(key[:])
	a := amount.Bytes32()
	buf.Write(a[:])

	assert.Equal(t, crypto.Keccak256Hash(buf.Bytes()), EON.NextHash(prev, key, amount))
}

func TestNextHash_ZENDEncodesKeyAsBytes20(t *testing.T) {
	prev := common.Hash{}
	key := mustKey(t, "0xff00000000000000000000000000000000000001")
	amount := uint256.NewInt(9000000000)

	var buf bytes.Buffer
	buf.Write(prev.Bytes())
	buf.Write(key[:])
	buf.Write(make([]byte, 12))
	a := amount.Bytes32()
	buf.Write(a[:])

	assert.Equal(t, crypto.Keccak256Hash(buf.Bytes()), ZEND.NextHash(prev, key, amount))
	assert.NotEqual(t, EON.NextHash(prev, key, amount), ZEND.NextHash(prev, key, amount))
}

func TestWordRoundTrip(t *testing.T) {
	key := mustKey(t, "0x0102030405060708090a0b0c0d0e0f1011121314")
	for _, c := range []AddressCodec{EON, ZEND} {
		assert.Equal(t, key, c.KeyFromWord(c.Word(key)), c.Name())
	}
	assert.Equal(t, common.BytesToHash(key[:]), EON.Word(key))
	assert.Equal(t, key[:], ZEND.Word(key).Bytes()[:KeyLength])
}

func TestCumulativeHash_IncrementalMatchesOnePass(t *testing.T) {
	entries := make([]Entry, 10)
	for i := range entries {
		var k Key
		k[19] = byte(i + 1)
		entries[i] = Entry{Key: k, Amount: uint256.NewInt(uint64(1000 * (i + 1)))}
	}

	for _, c := range []AddressCodec{EON, ZEND} {
		onePass := CumulativeHash(c, common.Hash{}, entries)
		partial := CumulativeHash(c, common.Hash{}, entries[:4])
		incremental := CumulativeHash(c, partial, entries[4:])
		assert.Equal(t, onePass, incremental, c.Name())

		swapped := append([]Entry(nil), entries...)
		swapped[2], swapped[3] = swapped[3], swapped[2]
		assert.NotEqual(t, onePass, CumulativeHash(c, common.Hash{}, swapped), c.Name())
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("0xEDEB4BF692A4A1BFECAD78E09BE5C946ECF6C6DA")
	require.NoError(t, err)
	assert.Equal(t, "0xedeb4bf692a4a1bfecad78e09be5c946ecf6c6da", k.Hex())
	assert.Equal(t, common.HexToAddress("0xedeb4bf692a4a1bfecad78e09be5c946ecf6c6da"), k.Address())
	assert.Equal(t, k, KeyFromAddress(k.Address()))

	for _, bad := range []string{"", "edeb4bf692a4a1bfecad78e09be5c946ecf6c6da", "0x1234", "0xzzeb4bf692a4a1bfecad78e09be5c946ecf6c6da"} {
		_, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("EON")
	require.NoError(t, err)
	assert.Equal(t, "eon", c.Name())
	c, err = ByName("zend")
	require.NoError(t, err)
	assert.Equal(t, "zend", c.Name())
	_, err = ByName("btc")
	assert.Error(t, err)
}
