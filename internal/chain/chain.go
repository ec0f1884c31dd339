package chain

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/triedb"
)

const (
	// StoreCacheMB is the LevelDB block cache size used by Open.
	StoreCacheMB = 128

	// StoreHandles is the maximum number of open file handles used by Open.
	StoreHandles = 1024
)

var ErrClosed = errors.New("chain is closed")

// Chain is the execution runtime every migration component runs on.
// Component state lives in contract storage of a geth StateDB; every
// state transition goes through Transact and is serialized by mu.
type Chain struct {
	mu       sync.Mutex
	db       ethdb.Database
	sdb      state.Database
	stateDB  *state.StateDB
	receipts *ReceiptStore
	logs     []*types.Log

	timestamp uint64
	blockNum  uint64
	txCount   uint64
	nonces    map[common.Address]uint64
	contracts map[common.Address]any
	closed    bool

	logger log.Logger
}

// NewMemory creates a chain backed by an in-memory database.
func NewMemory() (*Chain, error) {
	return New(rawdb.NewMemoryDatabase(), types.EmptyRootHash)
}

// Open creates a chain persisted in a LevelDB directory at path, starting
// from the empty state.
func Open(path string) (*Chain, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	ldb, err := leveldb.New(path, StoreCacheMB, StoreHandles, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return New(rawdb.NewDatabase(ldb), types.EmptyRootHash)
}

// New creates a chain over db, opening the state at root.
func New(db ethdb.Database, root common.Hash) (*Chain, error) {
	tdb := triedb.NewDatabase(db, nil)
	sdb := state.NewDatabase(tdb, nil)
	stateDB, err := state.New(root, sdb)
	if err != nil {
		return nil, fmt.Errorf("failed to open state at %s: %w", root.Hex(), err)
	}
	return &Chain{
		db:        db,
		sdb:       sdb,
		stateDB:   stateDB,
		receipts:  NewReceiptStore(),
		timestamp: uint64(time.Now().Unix()),
		blockNum:  1,
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]any),
		logger:    log.New("component", "chain"),
	}, nil
}

// Time returns the current block timestamp.
func (c *Chain) Time() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// SetTime sets the timestamp seen by subsequent transactions.
func (c *Chain) SetTime(ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp = ts
}

// AdvanceTime moves the block timestamp forward by d seconds.
func (c *Chain) AdvanceTime(d uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp += d
	return c.timestamp
}

// Deploy allocates a fresh contract address for deployer and registers impl
// under it. The account gets nonce 1 so that commits keep its storage.
func (c *Chain) Deploy(deployer common.Address, impl func(addr common.Address) any) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deploy(deployer, impl)
}

func (c *Chain) deploy(deployer common.Address, impl func(addr common.Address) any) common.Address {
	nonce := c.nonces[deployer]
	c.nonces[deployer] = nonce + 1

	addr := crypto.CreateAddress(deployer, nonce)
	c.stateDB.CreateAccount(addr)
	c.stateDB.SetNonce(addr, 1, tracing.NonceChangeNewContract)
	c.contracts[addr] = impl(addr)

	c.logger.Debug("Contract deployed", "deployer", deployer, "address", addr)
	return addr
}

// Contract returns the component registered at addr, or nil.
func (c *Chain) Contract(addr common.Address) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contracts[addr]
}

// Receipt returns the receipt of a past transaction, or nil.
func (c *Chain) Receipt(hash common.Hash) *Receipt {
	return c.receipts.GetReceipt(hash)
}

// Logs returns a copy of every event emitted by committed transactions.
func (c *Chain) Logs() []*types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Log, len(c.logs))
	copy(out, c.logs)
	return out
}

// StateRoot returns the current state root without committing.
func (c *Chain) StateRoot() common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateDB.IntermediateRoot(false)
}

// Commit writes the current state to the database and returns its root.
func (c *Chain) Commit() (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return common.Hash{}, ErrClosed
	}
	root, err := c.stateDB.Commit(c.blockNum, false, false)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.sdb.TrieDB().Commit(root, false); err != nil {
		return common.Hash{}, fmt.Errorf("failed to flush trie nodes: %w", err)
	}

	// Recreate StateDB at the new root so cached tries aren't reused after commit
	stateDB, err := state.New(root, c.sdb)
	if err != nil {
		c.logger.Error("Failed to reload state", "root", root, "err", err)
		return common.Hash{}, err
	}
	c.stateDB = stateDB
	c.blockNum++
	c.logger.Info("State committed", "root", root, "block", c.blockNum-1)
	return root, nil
}

// Close releases the underlying database. It is safe to call more than once.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
