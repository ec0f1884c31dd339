// Package ledger holds the balances of one legacy chain on the new chain.
//
// A ledger is loaded in batches by its owner. Every loaded entry is folded
// into a running keccak hash and the load closes once the running hash
// equals the checkpoint committed up front, so the loaded set is exactly
// the snapshot the checkpoint was computed from. Balances then reach their
// holders either by push (the ledger mints them out in slices) or by pull
// (the ledger takes custody of the total and holders claim with a proof).
package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
)

const (
	// DefaultBatchSize is the number of entries uploaded per BatchInsert.
	DefaultBatchSize = 500
	// DefaultDistributeCount is the slice size of one Distribute call.
	DefaultDistributeCount = 500
	// DefaultPhrase follows the token symbol in claim messages.
	DefaultPhrase = "CLAIM"
)

var (
	ErrCheckpointNotSet     = errors.New("checkpoint not set")
	ErrCheckpointAlreadySet = errors.New("checkpoint already set")
	ErrCheckpointReached    = errors.New("checkpoint already reached")
	ErrHashMismatch         = errors.New("running hash does not match expected value")
	ErrEmptyBatch           = errors.New("empty batch")
	ErrTokenAlreadySet      = errors.New("token already set")
	ErrTokenNotSet          = errors.New("token not set")
	ErrLoadNotComplete      = errors.New("load not complete")
	ErrNothingToDistribute  = errors.New("nothing to distribute")
	ErrNothingToClaim       = errors.New("nothing to claim")
	ErrUnsupported          = errors.New("operation not supported by this ledger")
)

var events = chain.MustEvents(`[
	{"type":"event","name":"CheckpointSet","inputs":[
		{"name":"checkpoint","type":"bytes32","indexed":false}]},
	{"type":"event","name":"BatchInserted","inputs":[
		{"name":"count","type":"uint256","indexed":false},
		{"name":"runningHash","type":"bytes32","indexed":false}]},
	{"type":"event","name":"LoadCompleted","inputs":[
		{"name":"entries","type":"uint256","indexed":false},
		{"name":"totalLoaded","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenBound","inputs":[
		{"name":"token","type":"address","indexed":true}]},
	{"type":"event","name":"Distributed","inputs":[
		{"name":"count","type":"uint256","indexed":false},
		{"name":"cursor","type":"uint256","indexed":false}]},
	{"type":"event","name":"Claimed","inputs":[
		{"name":"destination","type":"address","indexed":true},
		{"name":"key","type":"bytes20","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}]}
]`)

// Events exposes the ledger event ABI for log decoding.
func Events() chain.Events { return events }

const (
	slotOwner = iota
	slotRunningHash
	slotCheckpoint
	slotCheckpointSet
	slotToken
	slotKeys
	slotCursor
	slotBalances
	slotTotalLoaded
	slotMintingDone
	slotSettled
)

// Strategy is how loaded balances reach their holders.
type Strategy uint8

const (
	// Push ledgers mint every balance to its key's address via Distribute.
	Push Strategy = iota
	// Pull ledgers mint the loaded total to themselves and pay out claims.
	Pull
)

func (s Strategy) String() string {
	switch s {
	case Push:
		return "push"
	case Pull:
		return "pull"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// Token is what a ledger needs from the migrated token.
type Token interface {
	Address() common.Address
	Symbol() string
	Mint(msg *chain.Msg, to common.Address, amount *uint256.Int) error
	NotifyMintingDone(msg *chain.Msg) error
	Transfer(msg *chain.Msg, to common.Address, amount *uint256.Int) error
}

// Config holds the immutable parameters of a ledger.
type Config struct {
	Codec    codec.AddressCodec
	Strategy Strategy
	// Verifier and Phrase are used by pull ledgers only.
	Verifier claim.Verifier
	Phrase   string
}

// Ledger is a cumulative-hash-verified balance ledger.
type Ledger struct {
	addr   common.Address
	cfg    Config
	logger log.Logger
}

// Deploy creates a ledger owned by msg.Sender.
func Deploy(msg *chain.Msg, cfg Config) (*Ledger, error) {
	if cfg.Codec == nil {
		return nil, errors.New("ledger codec is required")
	}
	if cfg.Phrase == "" {
		cfg.Phrase = DefaultPhrase
	}
	if cfg.Verifier.Magic == "" {
		cfg.Verifier = claim.NewVerifier(claim.Mainnet)
	}

	var l *Ledger
	addr := msg.Deploy(func(addr common.Address) any {
		l = &Ledger{
			addr:   addr,
			cfg:    cfg,
			logger: log.New("component", "ledger", "chain", cfg.Codec.Name()),
		}
		return l
	})
	if err := l.owner(msg).Init(msg.Sender); err != nil {
		return nil, err
	}
	l.logger.Info("Ledger deployed", "address", addr, "strategy", cfg.Strategy, "owner", msg.Sender)
	return l, nil
}

func (l *Ledger) Address() common.Address   { return l.addr }
func (l *Ledger) Codec() codec.AddressCodec { return l.cfg.Codec }
func (l *Ledger) Strategy() Strategy        { return l.cfg.Strategy }
func (l *Ledger) Verifier() claim.Verifier  { return l.cfg.Verifier }

func (l *Ledger) store(msg *chain.Msg) chain.Storage {
	return msg.Storage(l.addr)
}

func (l *Ledger) owner(msg *chain.Msg) chain.Authorization {
	return chain.NewAuthorization(l.store(msg), slotOwner, 1)
}

func (l *Ledger) balanceSlot(key codec.Key) common.Hash {
	return chain.MapSlot(chain.Slot(slotBalances), l.cfg.Codec.Word(key))
}

// TransferOwnership hands the ledger to newOwner.
func (l *Ledger) TransferOwnership(msg *chain.Msg, newOwner common.Address) error {
	auth := l.owner(msg)
	if err := auth.Require(msg.Sender); err != nil {
		return err
	}
	if err := auth.Replace(msg.Sender, newOwner); err != nil {
		return err
	}
	return events.Emit(msg, l.addr, "OwnershipTransferred", msg.Sender, newOwner)
}

// SetCheckpoint commits the final cumulative hash of the snapshot. It can
// be set once, by the owner.
func (l *Ledger) SetCheckpoint(msg *chain.Msg, checkpoint common.Hash) error {
	if err := l.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	st := l.store(msg)
	if l.loaded(st) {
		return ErrCheckpointReached
	}
	if st.GetBool(chain.Slot(slotCheckpointSet)) {
		return ErrCheckpointAlreadySet
	}
	st.Set(chain.Slot(slotCheckpoint), checkpoint)
	st.SetBool(chain.Slot(slotCheckpointSet), true)
	if err := events.Emit(msg, l.addr, "CheckpointSet", checkpoint); err != nil {
		return err
	}
	l.logger.Info("Checkpoint set", "checkpoint", checkpoint)
	return l.onLoadProgress(msg)
}

// BatchInsert loads entries in order. The running hash after the batch
// must equal expected or the whole batch is rejected. A key loaded twice
// keeps the amount of its last occurrence.
func (l *Ledger) BatchInsert(msg *chain.Msg, expected common.Hash, entries []codec.Entry) error {
	if err := l.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	st := l.store(msg)
	if !st.GetBool(chain.Slot(slotCheckpointSet)) {
		return ErrCheckpointNotSet
	}
	if l.loaded(st) {
		return ErrCheckpointReached
	}
	if len(entries) == 0 {
		return ErrEmptyBatch
	}

	h := st.Get(chain.Slot(slotRunningHash))
	total := st.GetUint(chain.Slot(slotTotalLoaded))
	for _, e := range entries {
		h = l.cfg.Codec.NextHash(h, e.Key, e.Amount)
		st.SetUint(l.balanceSlot(e.Key), e.Amount)
		st.ArrayPush(chain.Slot(slotKeys), l.cfg.Codec.Word(e.Key))
		total.Add(total, e.Amount)
	}
	if h != expected {
		return fmt.Errorf("%w: got %s, expected %s", ErrHashMismatch, h.Hex(), expected.Hex())
	}
	st.Set(chain.Slot(slotRunningHash), h)
	st.SetUint(chain.Slot(slotTotalLoaded), total)

	if err := events.Emit(msg, l.addr, "BatchInserted", uint256.NewInt(uint64(len(entries))), h); err != nil {
		return err
	}
	l.logger.Debug("Batch inserted", "count", len(entries), "runningHash", h, "entries", st.ArrayLen(chain.Slot(slotKeys)))
	return l.onLoadProgress(msg)
}

// BindToken sets the token balances are paid in. Owner only, once.
func (l *Ledger) BindToken(msg *chain.Msg, token common.Address) error {
	if err := l.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	st := l.store(msg)
	if st.GetAddress(chain.Slot(slotToken)) != (common.Address{}) {
		return ErrTokenAlreadySet
	}
	if _, err := chain.Resolve[Token](msg, token); err != nil {
		return err
	}
	st.SetAddress(chain.Slot(slotToken), token)
	if err := events.Emit(msg, l.addr, "TokenBound", token); err != nil {
		return err
	}
	return l.settleCustody(msg)
}

// onLoadProgress runs after the running hash or checkpoint changed.
func (l *Ledger) onLoadProgress(msg *chain.Msg) error {
	st := l.store(msg)
	if !l.loaded(st) {
		return nil
	}
	entries := st.ArrayLen(chain.Slot(slotKeys))
	total := st.GetUint(chain.Slot(slotTotalLoaded))
	if err := events.Emit(msg, l.addr, "LoadCompleted", uint256.NewInt(entries), total); err != nil {
		return err
	}
	l.logger.Info("Load completed", "entries", entries, "total", total)
	return l.settleCustody(msg)
}

func (l *Ledger) loaded(st chain.Storage) bool {
	return st.GetBool(chain.Slot(slotCheckpointSet)) &&
		st.Get(chain.Slot(slotRunningHash)) == st.Get(chain.Slot(slotCheckpoint))
}

func (l *Ledger) token(msg *chain.Msg) (Token, error) {
	addr := l.store(msg).GetAddress(chain.Slot(slotToken))
	if addr == (common.Address{}) {
		return nil, ErrTokenNotSet
	}
	return chain.Resolve[Token](msg, addr)
}

// CumulativeHash returns the running hash of everything loaded so far.
func (l *Ledger) CumulativeHash(msg *chain.Msg) common.Hash {
	return l.store(msg).Get(chain.Slot(slotRunningHash))
}

// Checkpoint returns the committed final hash and whether it is set.
func (l *Ledger) Checkpoint(msg *chain.Msg) (common.Hash, bool) {
	st := l.store(msg)
	return st.Get(chain.Slot(slotCheckpoint)), st.GetBool(chain.Slot(slotCheckpointSet))
}

// Loaded reports whether the running hash reached the checkpoint.
func (l *Ledger) Loaded(msg *chain.Msg) bool {
	return l.loaded(l.store(msg))
}

// BalanceOf returns the unsettled balance recorded for key.
func (l *Ledger) BalanceOf(msg *chain.Msg, key codec.Key) *uint256.Int {
	return l.store(msg).GetUint(l.balanceSlot(key))
}

// EntryCount returns the number of entries loaded.
func (l *Ledger) EntryCount(msg *chain.Msg) uint64 {
	return l.store(msg).ArrayLen(chain.Slot(slotKeys))
}

// Entry returns the key of the i-th loaded entry.
func (l *Ledger) Entry(msg *chain.Msg, i uint64) codec.Key {
	return l.cfg.Codec.KeyFromWord(l.store(msg).ArrayGet(chain.Slot(slotKeys), i))
}

func (l *Ledger) TotalLoaded(msg *chain.Msg) *uint256.Int {
	return l.store(msg).GetUint(chain.Slot(slotTotalLoaded))
}

// Settled returns the amount already distributed or claimed.
func (l *Ledger) Settled(msg *chain.Msg) *uint256.Int {
	return l.store(msg).GetUint(chain.Slot(slotSettled))
}

func (l *Ledger) Token(msg *chain.Msg) common.Address {
	return l.store(msg).GetAddress(chain.Slot(slotToken))
}

func (l *Ledger) Owner(msg *chain.Msg) common.Address {
	return l.owner(msg).Members()[0]
}

// MintingDone reports whether the ledger has retired as a token minter.
func (l *Ledger) MintingDone(msg *chain.Msg) bool {
	return l.store(msg).GetBool(chain.Slot(slotMintingDone))
}

// Status is a read-only snapshot of a ledger.
type Status struct {
	Address        common.Address `json:"address"`
	Chain          string         `json:"chain"`
	Strategy       string         `json:"strategy"`
	Owner          common.Address `json:"owner"`
	Token          common.Address `json:"token"`
	CumulativeHash common.Hash    `json:"cumulativeHash"`
	Checkpoint     common.Hash    `json:"checkpoint"`
	CheckpointSet  bool           `json:"checkpointSet"`
	Loaded         bool           `json:"loaded"`
	Entries        uint64         `json:"entries"`
	Distributed    uint64         `json:"distributed"`
	TotalLoaded    *uint256.Int   `json:"totalLoaded"`
	Settled        *uint256.Int   `json:"settled"`
	MintingDone    bool           `json:"mintingDone"`
}

func (l *Ledger) Status(msg *chain.Msg) Status {
	checkpoint, set := l.Checkpoint(msg)
	return Status{
		Address:        l.addr,
		Chain:          l.cfg.Codec.Name(),
		Strategy:       l.cfg.Strategy.String(),
		Owner:          l.Owner(msg),
		Token:          l.Token(msg),
		CumulativeHash: l.CumulativeHash(msg),
		Checkpoint:     checkpoint,
		CheckpointSet:  set,
		Loaded:         l.Loaded(msg),
		Entries:        l.EntryCount(msg),
		Distributed:    l.Distributed(msg),
		TotalLoaded:    l.TotalLoaded(msg),
		Settled:        l.Settled(msg),
		MintingDone:    l.MintingDone(msg),
	}
}
