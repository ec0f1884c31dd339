package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Events is the set of events a component can emit, declared in ABI JSON.
type Events struct {
	abi abi.ABI
}

// MustEvents parses an ABI JSON event list. It panics on malformed input
// and is meant for package-level declarations.
func MustEvents(def string) Events {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid event ABI: %v", err))
	}
	return Events{abi: parsed}
}

// ID returns topic0 of the named event.
func (e Events) ID(name string) common.Hash {
	return e.abi.Events[name].ID
}

// Emit encodes args (in declaration order) and records the event on msg.
// *uint256.Int arguments are converted to *big.Int.
func (e Events) Emit(msg *Msg, addr common.Address, name string, args ...any) error {
	ev, ok := e.abi.Events[name]
	if !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	if len(args) != len(ev.Inputs) {
		return fmt.Errorf("event %s expects %d arguments, got %d", name, len(ev.Inputs), len(args))
	}

	topics := []common.Hash{ev.ID}
	var data []any
	for i, input := range ev.Inputs {
		arg := normalize(args[i])
		if !input.Indexed {
			data = append(data, arg)
			continue
		}
		t, err := abi.MakeTopics([]any{arg})
		if err != nil {
			return fmt.Errorf("failed to encode topic %s.%s: %w", name, input.Name, err)
		}
		topics = append(topics, t[0][0])
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	msg.Emit(addr, topics, packed)
	return nil
}

// Unpack decodes the non-indexed data of log into a name → value map.
func (e Events) Unpack(name string, log *types.Log) (map[string]any, error) {
	ev, ok := e.abi.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, fmt.Errorf("log is not a %s event", name)
	}
	out := make(map[string]any)
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, log.Data); err != nil {
		return nil, err
	}
	return out, nil
}

func normalize(arg any) any {
	if v, ok := arg.(*uint256.Int); ok {
		return v.ToBig()
	}
	return arg
}
