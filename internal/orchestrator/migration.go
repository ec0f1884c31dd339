// Package orchestrator drives a migration from the outside: it deploys the
// contracts, uploads both snapshots in verified batches, runs the EON
// distribution to exhaustion and checks the result against the snapshots.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/factory"
	"github.com/zenmigration/zenmigrate/internal/ledger"
	"github.com/zenmigration/zenmigrate/internal/snapshot"
)

var (
	ErrCheckpointConflict = errors.New("ledger checkpoint differs from snapshot hash")
	ErrResumeMismatch     = errors.New("ledger state does not match any batch boundary of the snapshot")
	ErrVerificationFailed = errors.New("migrated balances differ from snapshot")
)

// Options configures a migration run.
type Options struct {
	Params factory.Params
	// Operator deploys the factory and sends every loader transaction.
	Operator        common.Address
	BatchSize       int
	DistributeCount uint64
}

// Migration is a deployed migration and the operator driving it.
type Migration struct {
	chain   *chain.Chain
	factory *factory.Factory
	sys     *factory.System
	opts    Options
	logger  log.Logger
}

// Deploy creates the factory and one migration on c.
func Deploy(c *chain.Chain, opts Options) (*Migration, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = ledger.DefaultBatchSize
	}
	if opts.Params.Admin == (common.Address{}) {
		opts.Params.Admin = opts.Operator
	}
	m := &Migration{chain: c, opts: opts}
	_, err := c.Transact(opts.Operator, func(msg *chain.Msg) error {
		var err error
		if m.factory, err = factory.Deploy(msg, opts.Operator); err != nil {
			return err
		}
		m.sys, err = m.factory.DeployMigration(msg, opts.Params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deploy migration: %w", err)
	}
	m.logger = log.New("component", "orchestrator", "symbol", opts.Params.Symbol)
	m.logger.Info("Migration contracts deployed", "factory", m.factory.Address(), "token", m.sys.Addresses.Token)
	return m, nil
}

func (m *Migration) Chain() *chain.Chain { return m.chain }
func (m *Migration) Factory() *factory.Factory { return m.factory }
func (m *Migration) System() *factory.System { return m.sys }

// Load commits the snapshot hash to l and uploads entries in batches. A
// load interrupted earlier resumes after the last batch the ledger holds.
func (m *Migration) Load(ctx context.Context, l *ledger.Ledger, entries []codec.Entry) error {
	logger := m.logger.New("ledger", l.Codec().Name())
	batches := snapshot.Batches(l.Codec(), entries, m.opts.BatchSize)
	target := snapshot.Hash(l.Codec(), entries)

	var checkpoint, running common.Hash
	var set, loaded bool
	m.chain.View(func(msg *chain.Msg) {
		checkpoint, set = l.Checkpoint(msg)
		running = l.CumulativeHash(msg)
		loaded = l.Loaded(msg)
	})

	if set && checkpoint != target {
		return fmt.Errorf("%w: %s has %s, snapshot hashes to %s", ErrCheckpointConflict, l.Codec().Name(), checkpoint, target)
	}
	if !set {
		if err := m.transact(func(msg *chain.Msg) error { return l.SetCheckpoint(msg, target) }); err != nil {
			return fmt.Errorf("set checkpoint: %w", err)
		}
		logger.Info("Checkpoint set", "hash", target, "entries", len(entries), "batches", len(batches))
	}
	if loaded {
		logger.Info("Ledger already loaded", "hash", running)
		return nil
	}

	start := 0
	if running != (common.Hash{}) {
		start = -1
		for i, b := range batches {
			if b.Expected == running {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return fmt.Errorf("%w: %s at %s", ErrResumeMismatch, l.Codec().Name(), running)
		}
		logger.Info("Resuming load", "batch", start, "of", len(batches))
	}

	for i := start; i < len(batches); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := batches[i]
		if err := m.transact(func(msg *chain.Msg) error { return l.BatchInsert(msg, b.Expected, b.Entries) }); err != nil {
			return fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		logger.Debug("Batch inserted", "batch", i+1, "of", len(batches), "hash", b.Expected)
	}
	logger.Info("Snapshot loaded", "entries", len(entries), "total", snapshot.Total(entries))
	return nil
}

// LoadAll loads both snapshots concurrently. Transactions are serialized
// by the chain, so the two uploads interleave batch by batch.
func (m *Migration) LoadAll(ctx context.Context, eon, zend []codec.Entry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Load(ctx, m.sys.EON, eon) })
	g.Go(func() error { return m.Load(ctx, m.sys.ZEND, zend) })
	return g.Wait()
}

// Distribute drives the EON distribution until the ledger has retired as a
// minter. It returns the number of entries processed.
func (m *Migration) Distribute(ctx context.Context) (uint64, error) {
	l := m.sys.EON
	var total uint64
	for {
		var more bool
		m.chain.View(func(msg *chain.Msg) { more = l.MoreToDistribute(msg) })
		if !more {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n uint64
		err := m.transact(func(msg *chain.Msg) error {
			var err error
			n, err = l.Distribute(msg, m.opts.DistributeCount)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("distribute: %w", err)
		}
		total += n
		m.logger.Debug("Distribution step", "processed", n, "total", total)
	}
	m.logger.Info("Distribution complete", "entries", total)
	return total, nil
}

// Verify checks EON holders' token balances and the unclaimed ZEND ledger
// balances against the snapshots.
func (m *Migration) Verify(eon, zend []codec.Entry) error {
	var eonBad, zendBad []snapshot.Mismatch
	m.chain.View(func(msg *chain.Msg) {
		eonBad = snapshot.Verify(eon, func(k codec.Key) *uint256.Int {
			return m.sys.Token.BalanceOf(msg, k.Address())
		})
		zendBad = snapshot.Verify(zend, func(k codec.Key) *uint256.Int {
			return m.sys.ZEND.BalanceOf(msg, k)
		})
	})
	for _, mm := range eonBad {
		m.logger.Error("EON balance mismatch", "key", mm.Key, "want", mm.Want, "got", mm.Got)
	}
	for _, mm := range zendBad {
		m.logger.Error("ZEND balance mismatch", "key", mm.Key, "want", mm.Want, "got", mm.Got)
	}
	if n := len(eonBad) + len(zendBad); n > 0 {
		return fmt.Errorf("%w: %d eon, %d zend", ErrVerificationFailed, len(eonBad), len(zendBad))
	}
	return nil
}

// Report summarizes a completed run.
type Report struct {
	Factory     common.Address    `json:"factory"`
	Contracts   factory.Contracts `json:"contracts"`
	EONHash     common.Hash       `json:"eonHash"`
	ZENDHash    common.Hash       `json:"zendHash"`
	Distributed uint64            `json:"distributed"`
	TotalSupply *uint256.Int      `json:"totalSupply"`
	Finalized   bool              `json:"finalized"`
	StateRoot   common.Hash       `json:"stateRoot"`
}

// Run loads both snapshots, distributes EON, verifies every balance and
// commits the state.
func (m *Migration) Run(ctx context.Context, eon, zend []codec.Entry) (*Report, error) {
	if err := m.LoadAll(ctx, eon, zend); err != nil {
		return nil, err
	}
	distributed, err := m.Distribute(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Verify(eon, zend); err != nil {
		return nil, err
	}
	root, err := m.chain.Commit()
	if err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}

	r := &Report{
		Factory:     m.factory.Address(),
		Contracts:   m.sys.Addresses,
		Distributed: distributed,
		StateRoot:   root,
	}
	m.chain.View(func(msg *chain.Msg) {
		r.EONHash = m.sys.EON.CumulativeHash(msg)
		r.ZENDHash = m.sys.ZEND.CumulativeHash(msg)
		r.TotalSupply = m.sys.Token.TotalSupply(msg)
		r.Finalized = m.sys.Token.Finalized(msg)
	})
	m.logger.Info("Migration complete", "root", root, "supply", r.TotalSupply, "finalized", r.Finalized)
	return r, nil
}

func (m *Migration) transact(fn func(msg *chain.Msg) error) error {
	_, err := m.chain.Transact(m.opts.Operator, fn)
	return err
}
