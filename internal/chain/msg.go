package chain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Msg is the context of one call into a component: who is calling and at
// which block time. Nested calls between components derive a new Msg with
// Call so that the callee sees the calling component as its sender.
type Msg struct {
	Sender common.Address
	Time   uint64

	tx *txContext
}

// txContext tracks what a single Transact did so it can be undone.
type txContext struct {
	chain    *Chain
	hash     common.Hash
	logStart int
	deployed []common.Address
	nonces   map[common.Address]uint64
}

// Call returns a Msg for an inner call made by the component at from.
func (m *Msg) Call(from common.Address) *Msg {
	return &Msg{Sender: from, Time: m.Time, tx: m.tx}
}

// Chain returns the chain the message executes on.
func (m *Msg) Chain() *Chain {
	return m.tx.chain
}

// Storage returns the storage of the contract at addr.
func (m *Msg) Storage(addr common.Address) Storage {
	return Storage{chain: m.tx.chain, addr: addr}
}

// Deploy creates a new contract owned by the message sender as deployer.
// The deployment is undone if the surrounding transaction fails.
func (m *Msg) Deploy(impl func(addr common.Address) any) common.Address {
	c := m.tx.chain
	if _, ok := m.tx.nonces[m.Sender]; !ok {
		m.tx.nonces[m.Sender] = c.nonces[m.Sender]
	}
	addr := c.deploy(m.Sender, impl)
	m.tx.deployed = append(m.tx.deployed, addr)
	return addr
}

// Emit appends an event log produced by the contract at addr.
func (m *Msg) Emit(addr common.Address, topics []common.Hash, data []byte) {
	c := m.tx.chain
	c.logs = append(c.logs, &types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: c.blockNum,
		TxHash:      m.tx.hash,
		Index:       uint(len(c.logs)),
	})
}

var ErrNoContract = errors.New("no contract at address")

// Resolve returns the component at addr as a T.
func Resolve[T any](msg *Msg, addr common.Address) (T, error) {
	var zero T
	impl := msg.tx.chain.contracts[addr]
	if impl == nil {
		return zero, fmt.Errorf("%w %s", ErrNoContract, addr.Hex())
	}
	v, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("contract %s has type %T, want %T", addr.Hex(), impl, zero)
	}
	return v, nil
}

// Transact executes fn as one atomic, serialized state transition sent by
// sender. If fn returns an error every storage write, deployment and event
// of the call is rolled back. A receipt is recorded in both cases.
func (c *Chain) Transact(sender common.Address, fn func(msg *Msg) error) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.txCount++
	tx := &txContext{
		chain:    c,
		hash:     txHash(sender, c.txCount),
		logStart: len(c.logs),
		nonces:   make(map[common.Address]uint64),
	}
	msg := &Msg{Sender: sender, Time: c.timestamp, tx: tx}

	snap := c.stateDB.Snapshot()
	err := fn(msg)

	receipt := &Receipt{
		TxHash:      tx.hash,
		BlockNumber: c.blockNum,
		Timestamp:   c.timestamp,
		From:        sender,
		Status:      ReceiptStatusSuccessful,
	}
	if err != nil {
		c.stateDB.RevertToSnapshot(snap)
		c.logs = c.logs[:tx.logStart]
		for _, addr := range tx.deployed {
			delete(c.contracts, addr)
		}
		for deployer, nonce := range tx.nonces {
			c.nonces[deployer] = nonce
		}
		receipt.Status = ReceiptStatusFailed
		receipt.Error = err.Error()
		c.logger.Debug("Transaction reverted", "tx", tx.hash, "from", sender, "err", err)
	} else {
		c.stateDB.Finalise(false)
		receipt.Logs = c.logs[tx.logStart:]
	}
	c.receipts.AddReceipt(receipt)

	return receipt, err
}

// View runs fn against the current state without the ability to roll back.
// fn must only read.
func (c *Chain) View(fn func(msg *Msg)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &Msg{Time: c.timestamp, tx: &txContext{chain: c}}
	fn(msg)
}

func txHash(sender common.Address, n uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return crypto.Keccak256Hash(sender.Bytes(), buf[:])
}
