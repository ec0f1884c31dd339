// Package factory wires a complete migration (token, both ledgers and the
// two vesting schedules) in one transaction and keeps a registry of the
// migrations it created, keyed by token symbol.
package factory

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/ledger"
	"github.com/zenmigration/zenmigrate/internal/token"
	"github.com/zenmigration/zenmigrate/internal/vesting"
)

var (
	ErrTokenAlreadyExists = errors.New("token already exists")
	ErrInvalidSymbol      = errors.New("invalid token symbol")
	ErrUnknownToken       = errors.New("unknown token")
)

var events = chain.MustEvents(`[
	{"type":"event","name":"MigrationContractsCreated","inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"eonLedger","type":"address","indexed":false},
		{"name":"zendLedger","type":"address","indexed":false},
		{"name":"daoVesting","type":"address","indexed":false},
		{"name":"foundationVesting","type":"address","indexed":false}]}
]`)

// Events exposes the factory event ABI for log decoding.
func Events() chain.Events { return events }

const (
	slotSymbols  = 0
	slotRegistry = 1
	slotOwner    = 2
)

// registry record fields, consecutive slots from the mapping slot
const (
	fieldToken = iota
	fieldEONLedger
	fieldZENDLedger
	fieldDAOVesting
	fieldFoundationVesting
)

// Schedule is the length and count of vesting intervals.
type Schedule struct {
	IntervalLength uint64 `json:"intervalLength" toml:"interval_length"`
	Intervals      uint64 `json:"intervals" toml:"intervals"`
}

// DefaultSchedule vests monthly over four years.
var DefaultSchedule = Schedule{IntervalLength: 30 * 24 * 3600, Intervals: 48}

// Params configures one migration.
type Params struct {
	Name   string
	Symbol string
	// Admin receives ownership of ledgers and schedules. Defaults to the
	// caller.
	Admin common.Address

	DAO                common.Address
	Foundation         common.Address
	DAOSchedule        Schedule
	FoundationSchedule Schedule
	DAOPercent         uint64
	ImmediatePercent   uint64
	// Cap defaults to token.MaxSupply.
	Cap *uint256.Int

	Network claim.Network
	Phrase  string
}

// DefaultParams returns the parameters of a standard migration.
func DefaultParams(name, symbol string, dao, foundation common.Address) Params {
	return Params{
		Name:               name,
		Symbol:             symbol,
		DAO:                dao,
		Foundation:         foundation,
		DAOSchedule:        DefaultSchedule,
		FoundationSchedule: DefaultSchedule,
		DAOPercent:         token.DefaultDAOPercent,
		ImmediatePercent:   token.DefaultImmediatePercent,
		Network:            claim.Mainnet,
		Phrase:             ledger.DefaultPhrase,
	}
}

// Contracts are the addresses of one migration.
type Contracts struct {
	Token             common.Address `json:"token"`
	EONLedger         common.Address `json:"eonLedger"`
	ZENDLedger        common.Address `json:"zendLedger"`
	DAOVesting        common.Address `json:"daoVesting"`
	FoundationVesting common.Address `json:"foundationVesting"`
}

// System holds the components of one migration.
type System struct {
	Addresses         Contracts
	Token             *token.Token
	EON               *ledger.Ledger
	ZEND              *ledger.Ledger
	DAOVesting        *vesting.Schedule
	FoundationVesting *vesting.Schedule
}

// Resolve looks up the components at c.
func (c Contracts) Resolve(msg *chain.Msg) (*System, error) {
	s := &System{Addresses: c}
	var err error
	if s.Token, err = chain.Resolve[*token.Token](msg, c.Token); err != nil {
		return nil, err
	}
	if s.EON, err = chain.Resolve[*ledger.Ledger](msg, c.EONLedger); err != nil {
		return nil, err
	}
	if s.ZEND, err = chain.Resolve[*ledger.Ledger](msg, c.ZENDLedger); err != nil {
		return nil, err
	}
	if s.DAOVesting, err = chain.Resolve[*vesting.Schedule](msg, c.DAOVesting); err != nil {
		return nil, err
	}
	if s.FoundationVesting, err = chain.Resolve[*vesting.Schedule](msg, c.FoundationVesting); err != nil {
		return nil, err
	}
	return s, nil
}

// Factory is the migration factory contract.
type Factory struct {
	addr   common.Address
	logger log.Logger
}

// Deploy creates a factory contract. Only admin may create migrations on it.
func Deploy(msg *chain.Msg, admin common.Address) (*Factory, error) {
	if admin == (common.Address{}) {
		return nil, chain.ErrZeroAddress
	}
	var f *Factory
	msg.Deploy(func(addr common.Address) any {
		f = &Factory{addr: addr, logger: log.New("component", "factory", "address", addr)}
		return f
	})
	if err := f.owner(msg).Init(admin); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) Address() common.Address { return f.addr }

func (f *Factory) owner(msg *chain.Msg) chain.Authorization {
	return chain.NewAuthorization(msg.Storage(f.addr), slotOwner, 1)
}

// Owner returns the account allowed to create migrations.
func (f *Factory) Owner(msg *chain.Msg) common.Address {
	return f.owner(msg).Members()[0]
}

func registrySlot(symbol string) common.Hash {
	return chain.MapSlotBytes(chain.Slot(slotRegistry), []byte(symbol))
}

// DeployMigration creates and wires every component of a migration. The
// factory owns the components while binding them to the token and then
// hands ownership to the admin.
func (f *Factory) DeployMigration(msg *chain.Msg, p Params) (*System, error) {
	if err := f.owner(msg).Require(msg.Sender); err != nil {
		return nil, err
	}
	if p.Symbol == "" || len(p.Symbol) > chain.MaxShortString {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, p.Symbol)
	}
	st := msg.Storage(f.addr)
	base := registrySlot(p.Symbol)
	if st.GetAddress(chain.Offset(base, fieldToken)) != (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrTokenAlreadyExists, p.Symbol)
	}
	if p.Admin == (common.Address{}) {
		p.Admin = msg.Sender
	}
	if p.Network.Name == "" {
		p.Network = claim.Mainnet
	}

	inner := msg.Call(f.addr)
	sys := &System{}
	var err error
	if sys.DAOVesting, err = vesting.Deploy(inner, p.DAO, p.DAOSchedule.IntervalLength, p.DAOSchedule.Intervals); err != nil {
		return nil, fmt.Errorf("dao vesting: %w", err)
	}
	if sys.FoundationVesting, err = vesting.Deploy(inner, p.Foundation, p.FoundationSchedule.IntervalLength, p.FoundationSchedule.Intervals); err != nil {
		return nil, fmt.Errorf("foundation vesting: %w", err)
	}
	if sys.EON, err = ledger.Deploy(inner, ledger.Config{Codec: codec.EON, Strategy: ledger.Push}); err != nil {
		return nil, fmt.Errorf("eon ledger: %w", err)
	}
	sys.ZEND, err = ledger.Deploy(inner, ledger.Config{
		Codec:    codec.ZEND,
		Strategy: ledger.Pull,
		Verifier: claim.NewVerifier(p.Network),
		Phrase:   p.Phrase,
	})
	if err != nil {
		return nil, fmt.Errorf("zend ledger: %w", err)
	}
	sys.Token, err = token.Deploy(inner, token.Config{
		Name:              p.Name,
		Symbol:            p.Symbol,
		Cap:               p.Cap,
		Minters:           [2]common.Address{sys.EON.Address(), sys.ZEND.Address()},
		DAO:               p.DAO,
		Foundation:        p.Foundation,
		DAOVesting:        sys.DAOVesting.Address(),
		FoundationVesting: sys.FoundationVesting.Address(),
		DAOPercent:        p.DAOPercent,
		ImmediatePercent:  p.ImmediatePercent,
	})
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	tokenAddr := sys.Token.Address()
	for _, c := range []interface {
		BindToken(*chain.Msg, common.Address) error
		TransferOwnership(*chain.Msg, common.Address) error
	}{sys.EON, sys.ZEND, sys.DAOVesting, sys.FoundationVesting} {
		if err := c.BindToken(inner, tokenAddr); err != nil {
			return nil, err
		}
		if err := c.TransferOwnership(inner, p.Admin); err != nil {
			return nil, err
		}
	}

	sys.Addresses = Contracts{
		Token:             tokenAddr,
		EONLedger:         sys.EON.Address(),
		ZENDLedger:        sys.ZEND.Address(),
		DAOVesting:        sys.DAOVesting.Address(),
		FoundationVesting: sys.FoundationVesting.Address(),
	}
	st.SetAddress(chain.Offset(base, fieldToken), sys.Addresses.Token)
	st.SetAddress(chain.Offset(base, fieldEONLedger), sys.Addresses.EONLedger)
	st.SetAddress(chain.Offset(base, fieldZENDLedger), sys.Addresses.ZENDLedger)
	st.SetAddress(chain.Offset(base, fieldDAOVesting), sys.Addresses.DAOVesting)
	st.SetAddress(chain.Offset(base, fieldFoundationVesting), sys.Addresses.FoundationVesting)

	n := st.ArrayLen(chain.Slot(slotSymbols))
	if err := st.SetShortString(chain.ArraySlot(chain.Slot(slotSymbols), n), p.Symbol); err != nil {
		return nil, err
	}
	st.SetUint64(chain.Slot(slotSymbols), n+1)

	if err := events.Emit(msg, f.addr, "MigrationContractsCreated",
		sys.Addresses.Token, sys.Addresses.EONLedger, sys.Addresses.ZENDLedger,
		sys.Addresses.DAOVesting, sys.Addresses.FoundationVesting); err != nil {
		return nil, err
	}
	f.logger.Info("Migration deployed", "symbol", p.Symbol, "token", tokenAddr,
		"eon", sys.EON.Address(), "zend", sys.ZEND.Address(), "admin", p.Admin)
	return sys, nil
}

// TokenCount returns the number of migrations created.
func (f *Factory) TokenCount(msg *chain.Msg) uint64 {
	return msg.Storage(f.addr).ArrayLen(chain.Slot(slotSymbols))
}

// TokenSymbol returns the symbol of the i-th migration.
func (f *Factory) TokenSymbol(msg *chain.Msg, i uint64) (string, error) {
	st := msg.Storage(f.addr)
	if i >= st.ArrayLen(chain.Slot(slotSymbols)) {
		return "", fmt.Errorf("%w: index %d", ErrUnknownToken, i)
	}
	return st.GetShortString(chain.ArraySlot(chain.Slot(slotSymbols), i)), nil
}

// Contracts returns the addresses registered for symbol.
func (f *Factory) Contracts(msg *chain.Msg, symbol string) (Contracts, error) {
	st := msg.Storage(f.addr)
	base := registrySlot(symbol)
	c := Contracts{
		Token:             st.GetAddress(chain.Offset(base, fieldToken)),
		EONLedger:         st.GetAddress(chain.Offset(base, fieldEONLedger)),
		ZENDLedger:        st.GetAddress(chain.Offset(base, fieldZENDLedger)),
		DAOVesting:        st.GetAddress(chain.Offset(base, fieldDAOVesting)),
		FoundationVesting: st.GetAddress(chain.Offset(base, fieldFoundationVesting)),
	}
	if c.Token == (common.Address{}) {
		return Contracts{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return c, nil
}
