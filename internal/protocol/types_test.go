package protocol

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAmount(t *testing.T) {
	cases := []struct {
		wei  *uint256.Int
		want string
	}{
		{nil, "0"},
		{uint256.NewInt(1), "0.000000000000000001"},
		{uint256.MustFromDecimal("1500000000000000000"), "1.5"},
		{uint256.MustFromDecimal("21000000000000000000000000"), "21000000"},
	}
	for _, tc := range cases {
		a := NewAmount(tc.wei, 18)
		assert.Equal(t, tc.want, a.Value)
	}
	assert.Equal(t, "1500000000000000000", NewAmount(uint256.MustFromDecimal("1500000000000000000"), 18).Wei)
}

func TestClaimP2SHRequest_JSON(t *testing.T) {
	body := `{
		"destination": "0x00000000000000000000000000000000000000de",
		"signatures": ["0x01", "0x"],
		"redeem_script": "0x5221",
		"public_keys": ["0x02aa", "0x03bb"]
	}`
	var req ClaimP2SHRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.Equal(t, common.HexToAddress("0xde"), req.Destination)
	require.Len(t, req.Signatures, 2)
	assert.Equal(t, []byte{1}, []byte(req.Signatures[0]))
	assert.Empty(t, req.Signatures[1])
	assert.Equal(t, []byte{0x52, 0x21}, []byte(req.RedeemScript))
}
