package factory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/ledger"
	"github.com/zenmigration/zenmigrate/internal/token"
	"github.com/zenmigration/zenmigrate/internal/vesting"
)

var (
	admin      = common.HexToAddress("0xad00000000000000000000000000000000000001")
	dao        = common.HexToAddress("0xda00000000000000000000000000000000000002")
	foundation = common.HexToAddress("0xf000000000000000000000000000000000000003")
	stranger   = common.HexToAddress("0x5700000000000000000000000000000000000004")
)

func deploy(t *testing.T) (*chain.Chain, *Factory, *System) {
	t.Helper()
	c, err := chain.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.SetTime(1_700_000_000)

	var f *Factory
	var sys *System
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		var err error
		if f, err = Deploy(msg, admin); err != nil {
			return err
		}
		sys, err = f.DeployMigration(msg, DefaultParams("Horizen", "ZEN", dao, foundation))
		return err
	})
	require.NoError(t, err)
	return c, f, sys
}

func entries(seed string, n int) []codec.Entry {
	out := make([]codec.Entry, n)
	for i := range out {
		var k codec.Key
		copy(k[:], crypto.Keccak256([]byte(seed), []byte{byte(i)}))
		out[i] = codec.Entry{Key: k, Amount: new(uint256.Int).Mul(uint256.NewInt(uint64(i+1)), uint256.NewInt(1e18))}
	}
	return out
}

func load(t *testing.T, c *chain.Chain, l *ledger.Ledger, es []codec.Entry) {
	t.Helper()
	h := codec.CumulativeHash(l.Codec(), common.Hash{}, es)
	_, err := c.Transact(admin, func(msg *chain.Msg) error {
		if err := l.SetCheckpoint(msg, h); err != nil {
			return err
		}
		return l.BatchInsert(msg, h, es)
	})
	require.NoError(t, err)
}

func TestDeployMigration_WiresAndRegisters(t *testing.T) {
	c, f, sys := deploy(t)

	var created int
	for _, l := range c.Logs() {
		if l.Address != f.Address() || l.Topics[0] != Events().ID("MigrationContractsCreated") {
			continue
		}
		created++
		assert.Equal(t, chain.AddressKey(sys.Addresses.Token), l.Topics[1])
		values, err := Events().Unpack("MigrationContractsCreated", l)
		require.NoError(t, err)
		assert.Equal(t, sys.Addresses.EONLedger, values["eonLedger"])
		assert.Equal(t, sys.Addresses.ZENDLedger, values["zendLedger"])
		assert.Equal(t, sys.Addresses.DAOVesting, values["daoVesting"])
		assert.Equal(t, sys.Addresses.FoundationVesting, values["foundationVesting"])
	}
	assert.Equal(t, 1, created)

	c.View(func(msg *chain.Msg) {
		assert.Equal(t, uint64(1), f.TokenCount(msg))
		symbol, err := f.TokenSymbol(msg, 0)
		require.NoError(t, err)
		assert.Equal(t, "ZEN", symbol)
		_, err = f.TokenSymbol(msg, 1)
		assert.ErrorIs(t, err, ErrUnknownToken)

		registered, err := f.Contracts(msg, "ZEN")
		require.NoError(t, err)
		assert.Equal(t, sys.Addresses, registered)
		_, err = f.Contracts(msg, "BTC")
		assert.ErrorIs(t, err, ErrUnknownToken)

		resolved, err := registered.Resolve(msg)
		require.NoError(t, err)
		assert.Same(t, sys.Token, resolved.Token)
		assert.Same(t, sys.ZEND, resolved.ZEND)

		for _, owner := range []common.Address{
			sys.EON.Owner(msg), sys.ZEND.Owner(msg), sys.DAOVesting.Owner(msg), sys.FoundationVesting.Owner(msg),
		} {
			assert.Equal(t, admin, owner)
		}
		assert.Equal(t, sys.Addresses.Token, sys.EON.Token(msg))
		assert.Equal(t, sys.Addresses.Token, sys.ZEND.Token(msg))
		assert.Equal(t, vesting.TokenBound, sys.DAOVesting.Status(msg).State)
		assert.Equal(t, []common.Address{sys.Addresses.EONLedger, sys.Addresses.ZENDLedger}, sys.Token.ActiveMinters(msg))
	})

	// Vesting ownership was transferred once already.
	_, err := c.Transact(admin, func(msg *chain.Msg) error {
		return sys.DAOVesting.TransferOwnership(msg, stranger)
	})
	assert.ErrorIs(t, err, vesting.ErrImmutableOwner)
}

func TestDeployMigration_DuplicateSymbol(t *testing.T) {
	c, f, _ := deploy(t)
	logsBefore := len(c.Logs())

	_, err := c.Transact(admin, func(msg *chain.Msg) error {
		_, err := f.DeployMigration(msg, DefaultParams("Other", "ZEN", dao, foundation))
		return err
	})
	assert.ErrorIs(t, err, ErrTokenAlreadyExists)

	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := f.DeployMigration(msg, DefaultParams("Other", "", dao, foundation))
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	// A failure after some components were created leaves nothing behind.
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := f.DeployMigration(msg, DefaultParams("Other", "OTH", dao, common.Address{}))
		return err
	})
	assert.ErrorIs(t, err, chain.ErrZeroAddress)

	assert.Len(t, c.Logs(), logsBefore)
	c.View(func(msg *chain.Msg) { assert.Equal(t, uint64(1), f.TokenCount(msg)) })

	var sys *System
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		var err error
		sys, err = f.DeployMigration(msg, DefaultParams("Other", "OTH", dao, foundation))
		return err
	})
	require.NoError(t, err)
	c.View(func(msg *chain.Msg) {
		assert.Equal(t, uint64(2), f.TokenCount(msg))
		assert.Equal(t, admin, sys.EON.Owner(msg))
	})
}

func TestDeployMigration_OnlyOwner(t *testing.T) {
	c, f, _ := deploy(t)
	logsBefore := len(c.Logs())

	_, err := c.Transact(stranger, func(msg *chain.Msg) error {
		p := DefaultParams("Horizen", "HZN", stranger, stranger)
		p.Admin = stranger
		_, err := f.DeployMigration(msg, p)
		return err
	})
	assert.ErrorIs(t, err, chain.ErrUnauthorized)

	assert.Len(t, c.Logs(), logsBefore)
	c.View(func(msg *chain.Msg) {
		assert.Equal(t, admin, f.Owner(msg))
		assert.Equal(t, uint64(1), f.TokenCount(msg))
		_, err := f.Contracts(msg, "HZN")
		assert.ErrorIs(t, err, ErrUnknownToken)
	})

	// The symbol is still available to the owner.
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := f.DeployMigration(msg, DefaultParams("Horizen", "HZN", dao, foundation))
		return err
	})
	require.NoError(t, err)
}

func TestDeploy_RequiresAdmin(t *testing.T) {
	c, err := chain.NewMemory()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := Deploy(msg, common.Address{})
		return err
	})
	assert.ErrorIs(t, err, chain.ErrZeroAddress)
}

func TestMigration_EndToEnd(t *testing.T) {
	c, _, sys := deploy(t)
	eonEntries := entries("eon", 40)
	zendEntries := entries("zend", 10)

	load(t, c, sys.EON, eonEntries)
	for {
		var more bool
		c.View(func(msg *chain.Msg) { more = sys.EON.MoreToDistribute(msg) })
		if !more {
			break
		}
		_, err := c.Transact(stranger, func(msg *chain.Msg) error {
			_, err := sys.EON.Distribute(msg, 15)
			return err
		})
		require.NoError(t, err)
	}
	c.View(func(msg *chain.Msg) { assert.False(t, sys.Token.Finalized(msg)) })

	load(t, c, sys.ZEND, zendEntries)

	migrated := new(uint256.Int)
	for _, e := range append(eonEntries, zendEntries...) {
		migrated.Add(migrated, e.Amount)
	}
	residual := new(uint256.Int).Sub(token.MaxSupply, migrated)
	shares := token.Split(residual, token.DefaultDAOPercent, token.DefaultImmediatePercent)

	c.View(func(msg *chain.Msg) {
		tok := sys.Token
		assert.True(t, tok.Finalized(msg))
		assert.Equal(t, token.MaxSupply, tok.TotalSupply(msg))
		assert.Empty(t, tok.ActiveMinters(msg))

		for _, e := range eonEntries {
			assert.Equal(t, e.Amount, tok.BalanceOf(msg, e.Key.Address()))
		}
		zendTotal := new(uint256.Int)
		for _, e := range zendEntries {
			zendTotal.Add(zendTotal, e.Amount)
		}
		assert.Equal(t, zendTotal, tok.BalanceOf(msg, sys.Addresses.ZENDLedger))

		assert.Equal(t, shares.DAOImmediate, tok.BalanceOf(msg, dao))
		assert.Equal(t, shares.FoundationImmediate, tok.BalanceOf(msg, foundation))
		assert.Equal(t, shares.DAOVested, tok.BalanceOf(msg, sys.Addresses.DAOVesting))
		assert.Equal(t, shares.FoundationVested, tok.BalanceOf(msg, sys.Addresses.FoundationVesting))
		assert.Equal(t, vesting.Active, sys.DAOVesting.Status(msg).State)
	})

	c.AdvanceTime(DefaultSchedule.IntervalLength)
	_, err := c.Transact(stranger, sys.DAOVesting.Claim)
	require.NoError(t, err)

	perInterval := new(uint256.Int).Div(shares.DAOVested, uint256.NewInt(DefaultSchedule.Intervals))
	c.View(func(msg *chain.Msg) {
		want := new(uint256.Int).Add(shares.DAOImmediate, perInterval)
		assert.Equal(t, want, sys.Token.BalanceOf(msg, dao))
	})
}
