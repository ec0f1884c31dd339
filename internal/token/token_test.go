package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/vesting"
)

var (
	admin      = common.HexToAddress("0xad00000000000000000000000000000000000001")
	eonLedger  = common.HexToAddress("0xe000000000000000000000000000000000000002")
	zendLedger = common.HexToAddress("0x2e00000000000000000000000000000000000003")
	dao        = common.HexToAddress("0xda00000000000000000000000000000000000004")
	foundation = common.HexToAddress("0xf000000000000000000000000000000000000005")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000006")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000007")
)

type fixture struct {
	chain             *chain.Chain
	token             *Token
	daoVesting        *vesting.Schedule
	foundationVesting *vesting.Schedule
}

func newFixture(t *testing.T, cap uint64) *fixture {
	t.Helper()
	c, err := chain.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	f := &fixture{chain: c}
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		var err error
		if f.daoVesting, err = vesting.Deploy(msg, dao, 3600, 12); err != nil {
			return err
		}
		if f.foundationVesting, err = vesting.Deploy(msg, foundation, 3600, 12); err != nil {
			return err
		}
		f.token, err = Deploy(msg, Config{
			Name:              "Horizen",
			Symbol:            "ZEN",
			Cap:               uint256.NewInt(cap),
			Minters:           [2]common.Address{eonLedger, zendLedger},
			DAO:               dao,
			Foundation:        foundation,
			DAOVesting:        f.daoVesting.Address(),
			FoundationVesting: f.foundationVesting.Address(),
			DAOPercent:        DefaultDAOPercent,
			ImmediatePercent:  DefaultImmediatePercent,
		})
		if err != nil {
			return err
		}
		if err := f.daoVesting.BindToken(msg, f.token.Address()); err != nil {
			return err
		}
		return f.foundationVesting.BindToken(msg, f.token.Address())
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) tx(sender common.Address, fn func(msg *chain.Msg) error) error {
	_, err := f.chain.Transact(sender, fn)
	return err
}

func (f *fixture) mint(sender, to common.Address, amount uint64) error {
	return f.tx(sender, func(msg *chain.Msg) error {
		return f.token.Mint(msg, to, uint256.NewInt(amount))
	})
}

func (f *fixture) done(sender common.Address) error {
	return f.tx(sender, f.token.NotifyMintingDone)
}

func (f *fixture) balance(addr common.Address) uint64 {
	var b uint64
	f.chain.View(func(msg *chain.Msg) { b = f.token.BalanceOf(msg, addr).Uint64() })
	return b
}

func (f *fixture) supply() uint64 {
	var s uint64
	f.chain.View(func(msg *chain.Msg) { s = f.token.TotalSupply(msg).Uint64() })
	return s
}

func TestMaxSupply(t *testing.T) {
	assert.Equal(t, "21000000000000000000000000", MaxSupply.Dec())
}

func TestMint_OnlyActiveMinters(t *testing.T) {
	f := newFixture(t, 1_000_000)

	assert.ErrorIs(t, f.mint(admin, alice, 1), ErrCallerNotMinter)
	require.NoError(t, f.mint(eonLedger, alice, 100))
	require.NoError(t, f.mint(zendLedger, bob, 50))
	assert.Equal(t, uint64(100), f.balance(alice))
	assert.Equal(t, uint64(150), f.supply())

	assert.ErrorIs(t, f.mint(eonLedger, common.Address{}, 1), chain.ErrZeroAddress)

	require.NoError(t, f.done(eonLedger))
	assert.ErrorIs(t, f.mint(eonLedger, alice, 1), ErrCallerNotMinter)
	assert.ErrorIs(t, f.done(eonLedger), ErrCallerNotMinter)

	var active []common.Address
	f.chain.View(func(msg *chain.Msg) { active = f.token.ActiveMinters(msg) })
	assert.Equal(t, []common.Address{zendLedger}, active)
}

func TestMint_NeverExceedsCap(t *testing.T) {
	f := newFixture(t, 1000)

	require.NoError(t, f.mint(eonLedger, alice, 600))
	assert.ErrorIs(t, f.mint(zendLedger, bob, 401), ErrCapExceeded)
	assert.Equal(t, uint64(600), f.supply())
	require.NoError(t, f.mint(zendLedger, bob, 400))
	assert.ErrorIs(t, f.mint(zendLedger, bob, 1), ErrCapExceeded)
	assert.Equal(t, uint64(1000), f.supply())
}

func TestFinalization_SplitsResidual(t *testing.T) {
	f := newFixture(t, 1_000_000)

	require.NoError(t, f.mint(eonLedger, alice, 100_000))
	require.NoError(t, f.mint(zendLedger, bob, 300_000))
	require.NoError(t, f.done(zendLedger))

	var finalized bool
	f.chain.View(func(msg *chain.Msg) { finalized = f.token.Finalized(msg) })
	assert.False(t, finalized)

	receipt, err := f.chain.Transact(eonLedger, f.token.NotifyMintingDone)
	require.NoError(t, err)

	// residual 600,000: DAO 450,000 (112,500 now), Foundation 150,000 (37,500 now)
	assert.Equal(t, uint64(1_000_000), f.supply())
	assert.Equal(t, uint64(112_500), f.balance(dao))
	assert.Equal(t, uint64(337_500), f.balance(f.daoVesting.Address()))
	assert.Equal(t, uint64(37_500), f.balance(foundation))
	assert.Equal(t, uint64(112_500), f.balance(f.foundationVesting.Address()))

	var finalLog map[string]any
	for _, l := range receipt.Logs {
		if l.Address == f.token.Address() && l.Topics[0] == Events().ID("SupplyFinalized") {
			finalLog, err = Events().Unpack("SupplyFinalized", l)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, finalLog)
	assert.Equal(t, "600000", finalLog["residual"].(interface{ String() string }).String())

	f.chain.View(func(msg *chain.Msg) {
		ds := f.daoVesting.Status(msg)
		assert.Equal(t, vesting.Active, ds.State)
		assert.Equal(t, uint64(337_500/12), ds.AmountPerInterval.Uint64())
		fs := f.foundationVesting.Status(msg)
		assert.Equal(t, vesting.Active, fs.State)
		assert.True(t, f.token.Finalized(msg))
	})

	assert.ErrorIs(t, f.mint(eonLedger, alice, 1), ErrCallerNotMinter)
}

func TestFinalization_RollsBackWhenVestingUnbound(t *testing.T) {
	c, err := chain.NewMemory()
	require.NoError(t, err)
	defer c.Close()

	var tok *Token
	var sched *vesting.Schedule
	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		if sched, err = vesting.Deploy(msg, dao, 10, 10); err != nil {
			return err
		}
		tok, err = Deploy(msg, Config{
			Symbol: "ZEN", Cap: uint256.NewInt(100),
			Minters: [2]common.Address{eonLedger, zendLedger},
			DAO:     dao, Foundation: foundation,
			DAOVesting: sched.Address(), FoundationVesting: sched.Address(),
			DAOPercent: 50, ImmediatePercent: 50,
		})
		return err
	})
	require.NoError(t, err)

	_, err = c.Transact(eonLedger, tok.NotifyMintingDone)
	require.NoError(t, err)
	_, err = c.Transact(zendLedger, tok.NotifyMintingDone)
	require.ErrorIs(t, err, vesting.ErrTokenNotSet)

	// The failed call left the second minter in place and nothing minted.
	c.View(func(msg *chain.Msg) {
		assert.Equal(t, []common.Address{zendLedger}, tok.ActiveMinters(msg))
		assert.True(t, tok.TotalSupply(msg).IsZero())
		assert.False(t, tok.Finalized(msg))
	})
}

func TestSplit_SumsToResidual(t *testing.T) {
	for _, residual := range []uint64{0, 1, 3, 99, 100, 101, 600_000, 1_234_567_891} {
		for _, pct := range [][2]uint64{{75, 25}, {0, 0}, {100, 100}, {33, 67}} {
			s := Split(uint256.NewInt(residual), pct[0], pct[1])
			sum := new(uint256.Int).Add(s.DAOImmediate, s.DAOVested)
			sum.Add(sum, s.FoundationImmediate)
			sum.Add(sum, s.FoundationVested)
			assert.Equal(t, residual, sum.Uint64(), "residual %d pct %v", residual, pct)
		}
	}
}

func TestERC20_TransferApprove(t *testing.T) {
	f := newFixture(t, 1_000_000)
	require.NoError(t, f.mint(eonLedger, alice, 1000))

	require.NoError(t, f.tx(alice, func(msg *chain.Msg) error {
		return f.token.Transfer(msg, bob, uint256.NewInt(300))
	}))
	assert.Equal(t, uint64(700), f.balance(alice))
	assert.Equal(t, uint64(300), f.balance(bob))

	err := f.tx(bob, func(msg *chain.Msg) error {
		return f.token.Transfer(msg, alice, uint256.NewInt(301))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, f.tx(alice, func(msg *chain.Msg) error {
		return f.token.Approve(msg, bob, uint256.NewInt(200))
	}))
	err = f.tx(bob, func(msg *chain.Msg) error {
		return f.token.TransferFrom(msg, alice, bob, uint256.NewInt(201))
	})
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	require.NoError(t, f.tx(bob, func(msg *chain.Msg) error {
		return f.token.TransferFrom(msg, alice, bob, uint256.NewInt(150))
	}))
	assert.Equal(t, uint64(550), f.balance(alice))
	assert.Equal(t, uint64(450), f.balance(bob))

	f.chain.View(func(msg *chain.Msg) {
		assert.Equal(t, uint64(50), f.token.Allowance(msg, alice, bob).Uint64())
	})
}

func TestDeploy_Validation(t *testing.T) {
	c, err := chain.NewMemory()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := Deploy(msg, Config{Symbol: "ZEN", DAOPercent: 101})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidPercent)

	_, err = c.Transact(admin, func(msg *chain.Msg) error {
		_, err := Deploy(msg, Config{Symbol: "ZEN", Minters: [2]common.Address{eonLedger, zendLedger}})
		return err
	})
	assert.ErrorIs(t, err, chain.ErrZeroAddress)
}
