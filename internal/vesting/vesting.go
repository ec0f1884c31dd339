// Package vesting releases a token allocation to a beneficiary in equal
// installments, one per elapsed interval.
package vesting

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
)

var (
	ErrInvalidTimes          = errors.New("interval length must be positive")
	ErrInvalidNumOfIntervals = errors.New("number of intervals must be positive")
	ErrTokenAlreadySet       = errors.New("token already set")
	ErrTokenNotSet           = errors.New("token not set")
	ErrAlreadyStarted        = errors.New("vesting already started")
	ErrNotStarted            = errors.New("vesting not started")
	ErrClaimCompleted        = errors.New("all intervals already claimed")
	ErrNothingToClaim        = errors.New("nothing to claim")
	ErrImmutableOwner        = errors.New("ownership already transferred")
)

var events = chain.MustEvents(`[
	{"type":"event","name":"Started","inputs":[
		{"name":"totalAmount","type":"uint256","indexed":false},
		{"name":"amountPerInterval","type":"uint256","indexed":false},
		{"name":"startTimestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"Claimed","inputs":[
		{"name":"beneficiary","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"intervals","type":"uint256","indexed":false}]},
	{"type":"event","name":"ChangedBeneficiary","inputs":[
		{"name":"newBeneficiary","type":"address","indexed":true},
		{"name":"oldBeneficiary","type":"address","indexed":true}]},
	{"type":"event","name":"ChangedVestingParams","inputs":[
		{"name":"newIntervalLength","type":"uint256","indexed":false},
		{"name":"newNumOfIntervals","type":"uint256","indexed":false},
		{"name":"oldIntervalLength","type":"uint256","indexed":false},
		{"name":"oldNumOfIntervals","type":"uint256","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}]}
]`)

// Events exposes the schedule's event ABI for log decoding.
func Events() chain.Events { return events }

const (
	slotOwner = iota
	slotOwnerTransferred
	slotToken
	slotBeneficiary
	slotIntervalLength
	slotTotalIntervals
	slotAmountPerInterval
	slotStartTimestamp
	slotIntervalsClaimed
	slotStarted
)

// State is the lifecycle stage of a schedule.
type State string

const (
	Uninitialized State = "uninitialized"
	TokenBound    State = "token-bound"
	Active        State = "active"
	Completed     State = "completed"
)

// Token is what a schedule needs from the vested token.
type Token interface {
	Transfer(msg *chain.Msg, to common.Address, amount *uint256.Int) error
	BalanceOf(msg *chain.Msg, holder common.Address) *uint256.Int
}

// Schedule is a vesting contract.
type Schedule struct {
	addr   common.Address
	logger log.Logger
}

// Deploy creates a schedule owned by msg.Sender.
func Deploy(msg *chain.Msg, beneficiary common.Address, intervalLength, totalIntervals uint64) (*Schedule, error) {
	if beneficiary == (common.Address{}) {
		return nil, chain.ErrZeroAddress
	}
	if intervalLength == 0 {
		return nil, ErrInvalidTimes
	}
	if totalIntervals == 0 {
		return nil, ErrInvalidNumOfIntervals
	}

	var s *Schedule
	msg.Deploy(func(addr common.Address) any {
		s = &Schedule{addr: addr, logger: log.New("component", "vesting", "address", addr)}
		return s
	})
	st := s.store(msg)
	if err := s.owner(msg).Init(msg.Sender); err != nil {
		return nil, err
	}
	st.SetAddress(chain.Slot(slotBeneficiary), beneficiary)
	st.SetUint64(chain.Slot(slotIntervalLength), intervalLength)
	st.SetUint64(chain.Slot(slotTotalIntervals), totalIntervals)
	s.logger.Debug("Vesting deployed", "beneficiary", beneficiary, "interval", intervalLength, "intervals", totalIntervals)
	return s, nil
}

func (s *Schedule) Address() common.Address { return s.addr }

func (s *Schedule) store(msg *chain.Msg) chain.Storage {
	return msg.Storage(s.addr)
}

func (s *Schedule) owner(msg *chain.Msg) chain.Authorization {
	return chain.NewAuthorization(s.store(msg), slotOwner, 1)
}

func (s *Schedule) Owner(msg *chain.Msg) common.Address {
	return s.owner(msg).Members()[0]
}

func (s *Schedule) Token(msg *chain.Msg) common.Address {
	return s.store(msg).GetAddress(chain.Slot(slotToken))
}

func (s *Schedule) Beneficiary(msg *chain.Msg) common.Address {
	return s.store(msg).GetAddress(chain.Slot(slotBeneficiary))
}

// BindToken sets the vested token. Owner only, once.
func (s *Schedule) BindToken(msg *chain.Msg, token common.Address) error {
	if err := s.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	st := s.store(msg)
	if st.GetAddress(chain.Slot(slotToken)) != (common.Address{}) {
		return ErrTokenAlreadySet
	}
	st.SetAddress(chain.Slot(slotToken), token)
	return nil
}

// Start begins vesting totalAmount, which the token has already credited
// to the schedule. Only the bound token may start a schedule.
func (s *Schedule) Start(msg *chain.Msg, totalAmount *uint256.Int) error {
	st := s.store(msg)
	token := st.GetAddress(chain.Slot(slotToken))
	if token == (common.Address{}) {
		return ErrTokenNotSet
	}
	if msg.Sender != token {
		return fmt.Errorf("%w: %s is not the vested token", chain.ErrUnauthorized, msg.Sender.Hex())
	}
	if st.GetBool(chain.Slot(slotStarted)) {
		return ErrAlreadyStarted
	}
	per := new(uint256.Int).Div(totalAmount, uint256.NewInt(st.GetUint64(chain.Slot(slotTotalIntervals))))
	st.SetBool(chain.Slot(slotStarted), true)
	st.SetUint(chain.Slot(slotAmountPerInterval), per)
	st.SetUint64(chain.Slot(slotStartTimestamp), msg.Time)
	st.SetUint64(chain.Slot(slotIntervalsClaimed), 0)

	s.logger.Info("Vesting started", "amount", totalAmount, "perInterval", per, "start", msg.Time)
	return events.Emit(msg, s.addr, "Started", totalAmount, per, uint256.NewInt(msg.Time))
}

// claimableIntervals returns how many elapsed intervals are still unpaid.
func (s *Schedule) claimableIntervals(msg *chain.Msg) uint64 {
	st := s.store(msg)
	if !st.GetBool(chain.Slot(slotStarted)) {
		return 0
	}
	start := st.GetUint64(chain.Slot(slotStartTimestamp))
	if msg.Time <= start {
		return 0
	}
	total := st.GetUint64(chain.Slot(slotTotalIntervals))
	elapsed := (msg.Time - start) / st.GetUint64(chain.Slot(slotIntervalLength))
	if elapsed > total {
		elapsed = total
	}
	claimed := st.GetUint64(chain.Slot(slotIntervalsClaimed))
	if elapsed <= claimed {
		return 0
	}
	return elapsed - claimed
}

// Claimable returns the amount Claim would pay at msg.Time.
func (s *Schedule) Claimable(msg *chain.Msg) *uint256.Int {
	n := s.claimableIntervals(msg)
	per := s.store(msg).GetUint(chain.Slot(slotAmountPerInterval))
	return per.Mul(per, uint256.NewInt(n))
}

// Claim pays every elapsed, unpaid interval to the current beneficiary.
// Anyone may trigger it.
func (s *Schedule) Claim(msg *chain.Msg) error {
	st := s.store(msg)
	tokenAddr := st.GetAddress(chain.Slot(slotToken))
	if tokenAddr == (common.Address{}) {
		return ErrTokenNotSet
	}
	if !st.GetBool(chain.Slot(slotStarted)) {
		return ErrNotStarted
	}
	if s.completed(st) {
		return ErrClaimCompleted
	}
	n := s.claimableIntervals(msg)
	if n == 0 {
		return ErrNothingToClaim
	}

	amount := s.Claimable(msg)
	if amount.IsZero() {
		return ErrNothingToClaim
	}
	claimed := st.GetUint64(chain.Slot(slotIntervalsClaimed)) + n
	st.SetUint64(chain.Slot(slotIntervalsClaimed), claimed)

	token, err := chain.Resolve[Token](msg, tokenAddr)
	if err != nil {
		return err
	}
	beneficiary := st.GetAddress(chain.Slot(slotBeneficiary))
	if err := token.Transfer(msg.Call(s.addr), beneficiary, amount); err != nil {
		return fmt.Errorf("vesting payout failed: %w", err)
	}
	s.logger.Info("Vesting claimed", "beneficiary", beneficiary, "amount", amount, "intervals", n, "claimed", claimed)
	return events.Emit(msg, s.addr, "Claimed", beneficiary, amount, uint256.NewInt(n))
}

func (s *Schedule) completed(st chain.Storage) bool {
	return st.GetBool(chain.Slot(slotStarted)) &&
		st.GetUint64(chain.Slot(slotIntervalsClaimed)) >= st.GetUint64(chain.Slot(slotTotalIntervals))
}

// ChangeBeneficiary redirects future payouts. Unclaimed intervals go to
// the new beneficiary.
func (s *Schedule) ChangeBeneficiary(msg *chain.Msg, beneficiary common.Address) error {
	if err := s.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	if beneficiary == (common.Address{}) {
		return chain.ErrZeroAddress
	}
	st := s.store(msg)
	if s.completed(st) {
		return ErrClaimCompleted
	}
	old := st.GetAddress(chain.Slot(slotBeneficiary))
	st.SetAddress(chain.Slot(slotBeneficiary), beneficiary)
	return events.Emit(msg, s.addr, "ChangedBeneficiary", beneficiary, old)
}

// ChangeVestingParams replaces the interval length and count. On an
// active schedule the remaining token balance, including intervals that
// elapsed but were not claimed, is re-vested from msg.Time.
func (s *Schedule) ChangeVestingParams(msg *chain.Msg, intervalLength, totalIntervals uint64) error {
	if err := s.owner(msg).Require(msg.Sender); err != nil {
		return err
	}
	if intervalLength == 0 {
		return ErrInvalidTimes
	}
	if totalIntervals == 0 {
		return ErrInvalidNumOfIntervals
	}
	st := s.store(msg)
	if s.completed(st) {
		return ErrClaimCompleted
	}

	oldLength := st.GetUint64(chain.Slot(slotIntervalLength))
	oldIntervals := st.GetUint64(chain.Slot(slotTotalIntervals))
	st.SetUint64(chain.Slot(slotIntervalLength), intervalLength)
	st.SetUint64(chain.Slot(slotTotalIntervals), totalIntervals)

	if st.GetBool(chain.Slot(slotStarted)) {
		token, err := chain.Resolve[Token](msg, st.GetAddress(chain.Slot(slotToken)))
		if err != nil {
			return err
		}
		balance := token.BalanceOf(msg, s.addr)
		st.SetUint(chain.Slot(slotAmountPerInterval), balance.Div(balance, uint256.NewInt(totalIntervals)))
		st.SetUint64(chain.Slot(slotStartTimestamp), msg.Time)
		st.SetUint64(chain.Slot(slotIntervalsClaimed), 0)
	}
	return events.Emit(msg, s.addr, "ChangedVestingParams",
		uint256.NewInt(intervalLength), uint256.NewInt(totalIntervals),
		uint256.NewInt(oldLength), uint256.NewInt(oldIntervals))
}

// TransferOwnership hands the schedule to newOwner. It can be used once.
func (s *Schedule) TransferOwnership(msg *chain.Msg, newOwner common.Address) error {
	auth := s.owner(msg)
	if err := auth.Require(msg.Sender); err != nil {
		return err
	}
	st := s.store(msg)
	if st.GetBool(chain.Slot(slotOwnerTransferred)) {
		return ErrImmutableOwner
	}
	if err := auth.Replace(msg.Sender, newOwner); err != nil {
		return err
	}
	st.SetBool(chain.Slot(slotOwnerTransferred), true)
	return events.Emit(msg, s.addr, "OwnershipTransferred", msg.Sender, newOwner)
}

// Status is a read-only snapshot of a schedule.
type Status struct {
	Address           common.Address `json:"address"`
	State             State          `json:"state"`
	Owner             common.Address `json:"owner"`
	Token             common.Address `json:"token"`
	Beneficiary       common.Address `json:"beneficiary"`
	IntervalLength    uint64         `json:"intervalLength"`
	TotalIntervals    uint64         `json:"totalIntervals"`
	AmountPerInterval *uint256.Int   `json:"amountPerInterval"`
	StartTimestamp    uint64         `json:"startTimestamp"`
	IntervalsClaimed  uint64         `json:"intervalsClaimed"`
	Claimable         *uint256.Int   `json:"claimable"`
}

func (s *Schedule) Status(msg *chain.Msg) Status {
	st := s.store(msg)
	status := Status{
		Address:           s.addr,
		Owner:             s.Owner(msg),
		Token:             st.GetAddress(chain.Slot(slotToken)),
		Beneficiary:       st.GetAddress(chain.Slot(slotBeneficiary)),
		IntervalLength:    st.GetUint64(chain.Slot(slotIntervalLength)),
		TotalIntervals:    st.GetUint64(chain.Slot(slotTotalIntervals)),
		AmountPerInterval: st.GetUint(chain.Slot(slotAmountPerInterval)),
		StartTimestamp:    st.GetUint64(chain.Slot(slotStartTimestamp)),
		IntervalsClaimed:  st.GetUint64(chain.Slot(slotIntervalsClaimed)),
		Claimable:         s.Claimable(msg),
	}
	switch {
	case s.completed(st):
		status.State = Completed
	case st.GetBool(chain.Slot(slotStarted)):
		status.State = Active
	case status.Token != (common.Address{}):
		status.State = TokenBound
	default:
		status.State = Uninitialized
	}
	return status
}
