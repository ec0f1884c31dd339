// Package token implements the migrated ERC20 token: a fixed-cap supply
// that exactly two minters (the EON and ZEND ledgers) fill. Once both have
// retired, the unminted residual is split between the DAO and the
// Foundation, each share paid partly at once and partly into a vesting
// schedule.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
)

const (
	Decimals = 18

	// DefaultDAOPercent is the DAO's part of the residual supply; the
	// Foundation receives the rest.
	DefaultDAOPercent = 75
	// DefaultImmediatePercent is the part of each share paid out at once.
	DefaultImmediatePercent = 25
)

// MaxSupply is 21,000,000 tokens with 18 decimals.
var MaxSupply = new(uint256.Int).Mul(uint256.NewInt(21_000_000), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals)))

var (
	ErrCallerNotMinter       = errors.New("caller is not an active minter")
	ErrCapExceeded           = errors.New("supply cap exceeded")
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidPercent        = errors.New("percent must be within 0..100")
)

var events = chain.MustEvents(`[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"spender","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"MinterRetired","inputs":[
		{"name":"minter","type":"address","indexed":true},
		{"name":"remaining","type":"uint256","indexed":false}]},
	{"type":"event","name":"SupplyFinalized","inputs":[
		{"name":"residual","type":"uint256","indexed":false},
		{"name":"daoShare","type":"uint256","indexed":false},
		{"name":"foundationShare","type":"uint256","indexed":false}]}
]`)

// Events exposes the token's event ABI for log decoding.
func Events() chain.Events { return events }

// storage layout
const (
	slotMinters     = 0 // two slots
	slotTotalSupply = 2
	slotBalances    = 3
	slotAllowances  = 4
	slotFinalized   = 5
	numMinters      = 2
)

// Schedule is a vesting contract the token starts at finalization.
type Schedule interface {
	Start(msg *chain.Msg, totalAmount *uint256.Int) error
}

// Config holds the deployment parameters of a token.
type Config struct {
	Name   string
	Symbol string
	// Cap defaults to MaxSupply.
	Cap *uint256.Int

	Minters           [numMinters]common.Address
	DAO               common.Address
	Foundation        common.Address
	DAOVesting        common.Address
	FoundationVesting common.Address

	DAOPercent       uint64
	ImmediatePercent uint64
}

// Token is a capped ERC20 with two one-shot minters.
type Token struct {
	addr   common.Address
	cfg    Config
	logger log.Logger
}

// Deploy creates a token contract with msg.Sender as deployer.
func Deploy(msg *chain.Msg, cfg Config) (*Token, error) {
	if cfg.Cap == nil {
		cfg.Cap = new(uint256.Int).Set(MaxSupply)
	}
	if cfg.DAOPercent > 100 || cfg.ImmediatePercent > 100 {
		return nil, ErrInvalidPercent
	}
	for _, a := range []common.Address{cfg.DAO, cfg.Foundation, cfg.DAOVesting, cfg.FoundationVesting} {
		if a == (common.Address{}) {
			return nil, chain.ErrZeroAddress
		}
	}

	var t *Token
	addr := msg.Deploy(func(addr common.Address) any {
		t = &Token{addr: addr, cfg: cfg, logger: log.New("component", "token", "symbol", cfg.Symbol)}
		return t
	})
	if err := t.minters(msg).Init(cfg.Minters[:]...); err != nil {
		return nil, err
	}
	t.logger.Info("Token deployed", "address", addr, "cap", cfg.Cap)
	return t, nil
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Name() string            { return t.cfg.Name }
func (t *Token) Symbol() string          { return t.cfg.Symbol }
func (t *Token) Decimals() uint8         { return Decimals }
func (t *Token) Cap() *uint256.Int       { return new(uint256.Int).Set(t.cfg.Cap) }
func (t *Token) Config() Config          { return t.cfg }

func (t *Token) store(msg *chain.Msg) chain.Storage {
	return msg.Storage(t.addr)
}

func (t *Token) minters(msg *chain.Msg) chain.Authorization {
	return chain.NewAuthorization(t.store(msg), slotMinters, numMinters)
}

func balanceSlot(holder common.Address) common.Hash {
	return chain.MapSlot(chain.Slot(slotBalances), chain.AddressKey(holder))
}

func allowanceSlot(owner, spender common.Address) common.Hash {
	inner := chain.MapSlot(chain.Slot(slotAllowances), chain.AddressKey(owner))
	return chain.MapSlot(inner, chain.AddressKey(spender))
}

func (t *Token) TotalSupply(msg *chain.Msg) *uint256.Int {
	return t.store(msg).GetUint(chain.Slot(slotTotalSupply))
}

func (t *Token) BalanceOf(msg *chain.Msg, holder common.Address) *uint256.Int {
	return t.store(msg).GetUint(balanceSlot(holder))
}

func (t *Token) Allowance(msg *chain.Msg, owner, spender common.Address) *uint256.Int {
	return t.store(msg).GetUint(allowanceSlot(owner, spender))
}

// ActiveMinters returns the minters that have not retired yet.
func (t *Token) ActiveMinters(msg *chain.Msg) []common.Address {
	var out []common.Address
	for _, m := range t.minters(msg).Members() {
		if m != (common.Address{}) {
			out = append(out, m)
		}
	}
	return out
}

// Finalized reports whether the residual supply has been distributed.
func (t *Token) Finalized(msg *chain.Msg) bool {
	return t.store(msg).GetBool(chain.Slot(slotFinalized))
}

func (t *Token) Transfer(msg *chain.Msg, to common.Address, amount *uint256.Int) error {
	return t.transfer(msg, msg.Sender, to, amount)
}

func (t *Token) Approve(msg *chain.Msg, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	t.store(msg).SetUint(allowanceSlot(msg.Sender, spender), amount)
	return events.Emit(msg, t.addr, "Approval", msg.Sender, spender, amount)
}

func (t *Token) TransferFrom(msg *chain.Msg, from, to common.Address, amount *uint256.Int) error {
	st := t.store(msg)
	slot := allowanceSlot(from, msg.Sender)
	allowed := st.GetUint(slot)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s allowed %s, need %s", ErrInsufficientAllowance, msg.Sender.Hex(), allowed, amount)
	}
	st.SetUint(slot, new(uint256.Int).Sub(allowed, amount))
	return t.transfer(msg, from, to, amount)
}

func (t *Token) transfer(msg *chain.Msg, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	st := t.store(msg)
	fromBal := st.GetUint(balanceSlot(from))
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	st.SetUint(balanceSlot(from), new(uint256.Int).Sub(fromBal, amount))
	toBal := st.GetUint(balanceSlot(to))
	st.SetUint(balanceSlot(to), toBal.Add(toBal, amount))
	return events.Emit(msg, t.addr, "Transfer", from, to, amount)
}

// Mint creates amount new tokens for to. Only an active minter may mint
// and the total supply never exceeds the cap.
func (t *Token) Mint(msg *chain.Msg, to common.Address, amount *uint256.Int) error {
	if !t.minters(msg).Has(msg.Sender) {
		return fmt.Errorf("%w: %s", ErrCallerNotMinter, msg.Sender.Hex())
	}
	return t.mint(msg, to, amount)
}

func (t *Token) mint(msg *chain.Msg, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	st := t.store(msg)
	supply, overflow := new(uint256.Int).AddOverflow(st.GetUint(chain.Slot(slotTotalSupply)), amount)
	if overflow || supply.Gt(t.cfg.Cap) {
		return fmt.Errorf("%w: minting %s would exceed %s", ErrCapExceeded, amount, t.cfg.Cap)
	}
	st.SetUint(chain.Slot(slotTotalSupply), supply)
	bal := st.GetUint(balanceSlot(to))
	st.SetUint(balanceSlot(to), bal.Add(bal, amount))
	return events.Emit(msg, t.addr, "Transfer", common.Address{}, to, amount)
}

// NotifyMintingDone permanently retires the calling minter. When the last
// minter retires the residual supply is distributed.
func (t *Token) NotifyMintingDone(msg *chain.Msg) error {
	auth := t.minters(msg)
	if err := auth.Retire(msg.Sender); err != nil {
		return fmt.Errorf("%w: %s", ErrCallerNotMinter, msg.Sender.Hex())
	}
	remaining := auth.Active()
	if err := events.Emit(msg, t.addr, "MinterRetired", msg.Sender, uint256.NewInt(uint64(remaining))); err != nil {
		return err
	}
	t.logger.Info("Minter retired", "minter", msg.Sender, "remaining", remaining)
	if remaining > 0 {
		return nil
	}
	return t.finalize(msg)
}

// Shares is how a residual supply is divided.
type Shares struct {
	Residual            *uint256.Int
	DAOImmediate        *uint256.Int
	DAOVested           *uint256.Int
	FoundationImmediate *uint256.Int
	FoundationVested    *uint256.Int
}

// Split divides residual by the configured percentages. The four parts
// always sum to residual.
func Split(residual *uint256.Int, daoPercent, immediatePercent uint64) Shares {
	hundred := uint256.NewInt(100)
	dao := new(uint256.Int).Mul(residual, uint256.NewInt(daoPercent))
	dao.Div(dao, hundred)
	foundation := new(uint256.Int).Sub(residual, dao)

	part := func(share *uint256.Int) (*uint256.Int, *uint256.Int) {
		now := new(uint256.Int).Mul(share, uint256.NewInt(immediatePercent))
		now.Div(now, hundred)
		return now, new(uint256.Int).Sub(share, now)
	}
	s := Shares{Residual: new(uint256.Int).Set(residual)}
	s.DAOImmediate, s.DAOVested = part(dao)
	s.FoundationImmediate, s.FoundationVested = part(foundation)
	return s
}

func (t *Token) finalize(msg *chain.Msg) error {
	st := t.store(msg)
	if st.GetBool(chain.Slot(slotFinalized)) {
		return nil
	}
	st.SetBool(chain.Slot(slotFinalized), true)

	residual := new(uint256.Int).Sub(t.cfg.Cap, t.TotalSupply(msg))
	s := Split(residual, t.cfg.DAOPercent, t.cfg.ImmediatePercent)

	payouts := []struct {
		to     common.Address
		amount *uint256.Int
	}{
		{t.cfg.DAO, s.DAOImmediate},
		{t.cfg.DAOVesting, s.DAOVested},
		{t.cfg.Foundation, s.FoundationImmediate},
		{t.cfg.FoundationVesting, s.FoundationVested},
	}
	for _, p := range payouts {
		if err := t.mint(msg, p.to, p.amount); err != nil {
			return err
		}
	}

	for _, v := range []struct {
		addr   common.Address
		amount *uint256.Int
	}{{t.cfg.DAOVesting, s.DAOVested}, {t.cfg.FoundationVesting, s.FoundationVested}} {
		schedule, err := chain.Resolve[Schedule](msg, v.addr)
		if err != nil {
			return fmt.Errorf("vesting %s: %w", v.addr.Hex(), err)
		}
		if err := schedule.Start(msg.Call(t.addr), v.amount); err != nil {
			return fmt.Errorf("failed to start vesting %s: %w", v.addr.Hex(), err)
		}
	}

	daoShare := new(uint256.Int).Add(s.DAOImmediate, s.DAOVested)
	foundationShare := new(uint256.Int).Add(s.FoundationImmediate, s.FoundationVested)
	t.logger.Info("Supply finalized", "residual", residual, "dao", daoShare, "foundation", foundationShare)
	return events.Emit(msg, t.addr, "SupplyFinalized", residual, daoShare, foundationShare)
}
