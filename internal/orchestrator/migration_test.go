package orchestrator

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/factory"
	"github.com/zenmigration/zenmigrate/internal/snapshot"
	"github.com/zenmigration/zenmigrate/internal/token"
)

var (
	operator   = common.HexToAddress("0x0900000000000000000000000000000000000009")
	dao        = common.HexToAddress("0xda00000000000000000000000000000000000002")
	foundation = common.HexToAddress("0xf000000000000000000000000000000000000003")
)

func newMigration(t *testing.T, batchSize int, distributeCount uint64) *Migration {
	t.Helper()
	c, err := chain.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m, err := Deploy(c, Options{
		Params:          factory.DefaultParams("Horizen", "ZEN", dao, foundation),
		Operator:        operator,
		BatchSize:       batchSize,
		DistributeCount: distributeCount,
	})
	require.NoError(t, err)
	return m
}

func entries(seed string, n int) []codec.Entry {
	out := make([]codec.Entry, n)
	for i := range out {
		var k codec.Key
		copy(k[:], crypto.Keccak256([]byte(seed), uint256.NewInt(uint64(i)).Bytes()))
		out[i] = codec.Entry{Key: k, Amount: uint256.NewInt(uint64(i+1) * 1_000)}
	}
	snapshot.Sort(out)
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	m := newMigration(t, 500, 300)
	eon := entries("eon", 1000)
	zend := entries("zend", 10)

	report, err := m.Run(context.Background(), eon, zend)
	require.NoError(t, err)

	assert.Equal(t, snapshot.Hash(codec.EON, eon), report.EONHash)
	assert.Equal(t, snapshot.Hash(codec.ZEND, zend), report.ZENDHash)
	assert.Equal(t, uint64(1000), report.Distributed)
	assert.True(t, report.Finalized)
	assert.Equal(t, token.MaxSupply, report.TotalSupply)
	assert.Equal(t, m.System().Addresses, report.Contracts)
	assert.NotEqual(t, common.Hash{}, report.StateRoot)

	m.Chain().View(func(msg *chain.Msg) {
		assert.Equal(t, snapshot.Total(zend), m.System().Token.BalanceOf(msg, report.Contracts.ZENDLedger))
		assert.Equal(t, operator, m.System().EON.Owner(msg))
	})

	// Loading again is a no-op once the ledgers are complete.
	require.NoError(t, m.LoadAll(context.Background(), eon, zend))
}

func TestLoad_Resumes(t *testing.T) {
	m := newMigration(t, 4, 0)
	zend := entries("zend", 10)
	batches := snapshot.Batches(codec.ZEND, zend, 4)
	l := m.System().ZEND

	// An earlier run committed the checkpoint and the first batch only.
	_, err := m.Chain().Transact(operator, func(msg *chain.Msg) error {
		if err := l.SetCheckpoint(msg, snapshot.Hash(codec.ZEND, zend)); err != nil {
			return err
		}
		return l.BatchInsert(msg, batches[0].Expected, batches[0].Entries)
	})
	require.NoError(t, err)

	require.NoError(t, m.Load(context.Background(), l, zend))
	m.Chain().View(func(msg *chain.Msg) {
		assert.True(t, l.Loaded(msg))
		assert.Equal(t, uint64(10), l.EntryCount(msg))
		assert.True(t, l.MintingDone(msg))
	})
	require.NoError(t, m.Verify(nil, zend))
}

func TestLoad_Conflicts(t *testing.T) {
	m := newMigration(t, 4, 0)
	eon := entries("eon", 6)

	require.NoError(t, m.Load(context.Background(), m.System().EON, eon[:3]))
	err := m.Load(context.Background(), m.System().EON, eon)
	assert.ErrorIs(t, err, ErrCheckpointConflict)

	l := m.System().ZEND
	other := entries("other", 8)
	_, err = m.Chain().Transact(operator, func(msg *chain.Msg) error {
		if err := l.SetCheckpoint(msg, snapshot.Hash(codec.ZEND, other)); err != nil {
			return err
		}
		return l.BatchInsert(msg, codec.CumulativeHash(codec.ZEND, common.Hash{}, other[:3]), other[:3])
	})
	require.NoError(t, err)
	// Same final hash but the ledger stopped off a batch boundary.
	assert.ErrorIs(t, m.Load(context.Background(), l, other), ErrResumeMismatch)
}

func TestLoad_Cancelled(t *testing.T) {
	m := newMigration(t, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Load(ctx, m.System().EON, entries("eon", 4))
	assert.ErrorIs(t, err, context.Canceled)
	m.Chain().View(func(msg *chain.Msg) {
		_, set := m.System().EON.Checkpoint(msg)
		assert.True(t, set)
		assert.Equal(t, uint64(0), m.System().EON.EntryCount(msg))
	})
}

func TestVerify_ReportsMismatches(t *testing.T) {
	m := newMigration(t, 500, 0)
	eon := entries("eon", 5)
	require.NoError(t, m.LoadAll(context.Background(), eon, nil))
	_, err := m.Distribute(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Verify(eon, nil))

	tampered := append([]codec.Entry(nil), eon...)
	tampered[2] = codec.Entry{Key: eon[2].Key, Amount: uint256.NewInt(1)}
	assert.ErrorIs(t, m.Verify(tampered, nil), ErrVerificationFailed)
}
