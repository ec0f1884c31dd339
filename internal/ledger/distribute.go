package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
)

// Distributed returns the distribution cursor: how many loaded entries a
// push ledger has already processed.
func (l *Ledger) Distributed(msg *chain.Msg) uint64 {
	return l.store(msg).GetUint64(chain.Slot(slotCursor))
}

// MoreToDistribute reports whether Distribute still has work to do. It
// stays true after the last entry is minted until the call that retires
// the ledger as a minter.
func (l *Ledger) MoreToDistribute(msg *chain.Msg) bool {
	if l.cfg.Strategy != Push {
		return false
	}
	st := l.store(msg)
	return st.GetUint64(chain.Slot(slotCursor)) < st.ArrayLen(chain.Slot(slotKeys)) ||
		!st.GetBool(chain.Slot(slotMintingDone))
}

// Distribute mints up to maxCount of the next loaded balances to their
// owners, settling each. The call that exhausts the entries retires the
// ledger as a token minter. Anyone may drive distribution. A maxCount of
// zero uses DefaultDistributeCount.
func (l *Ledger) Distribute(msg *chain.Msg, maxCount uint64) (uint64, error) {
	if l.cfg.Strategy != Push {
		return 0, ErrNothingToDistribute
	}
	token, err := l.token(msg)
	if err != nil {
		return 0, err
	}
	st := l.store(msg)
	if !l.loaded(st) {
		return 0, ErrLoadNotComplete
	}
	if st.GetBool(chain.Slot(slotMintingDone)) {
		return 0, ErrNothingToDistribute
	}
	if maxCount == 0 {
		maxCount = DefaultDistributeCount
	}

	cursor := st.GetUint64(chain.Slot(slotCursor))
	end := min(cursor+maxCount, st.ArrayLen(chain.Slot(slotKeys)))
	settled := st.GetUint(chain.Slot(slotSettled))
	inner := msg.Call(l.addr)

	for i := cursor; i < end; i++ {
		key := l.cfg.Codec.KeyFromWord(st.ArrayGet(chain.Slot(slotKeys), i))
		slot := l.balanceSlot(key)
		amount := st.GetUint(slot)
		if amount.IsZero() {
			continue
		}
		st.SetUint(slot, new(uint256.Int))
		if err := token.Mint(inner, key.Address(), amount); err != nil {
			return 0, fmt.Errorf("mint to %s: %w", key, err)
		}
		settled.Add(settled, amount)
	}
	st.SetUint64(chain.Slot(slotCursor), end)
	st.SetUint(chain.Slot(slotSettled), settled)

	count := end - cursor
	if err := events.Emit(msg, l.addr, "Distributed", uint256.NewInt(count), uint256.NewInt(end)); err != nil {
		return 0, err
	}
	l.logger.Debug("Distributed", "count", count, "cursor", end)

	if end == st.ArrayLen(chain.Slot(slotKeys)) {
		if err := l.retireMinter(msg, token); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// settleCustody takes custody of the loaded total on a pull ledger once it
// is both fully loaded and bound to a token.
func (l *Ledger) settleCustody(msg *chain.Msg) error {
	if l.cfg.Strategy != Pull {
		return nil
	}
	st := l.store(msg)
	if !l.loaded(st) || st.GetBool(chain.Slot(slotMintingDone)) {
		return nil
	}
	if st.GetAddress(chain.Slot(slotToken)) == (common.Address{}) {
		return nil
	}
	token, err := l.token(msg)
	if err != nil {
		return err
	}
	total := st.GetUint(chain.Slot(slotTotalLoaded))
	if !total.IsZero() {
		if err := token.Mint(msg.Call(l.addr), l.addr, total); err != nil {
			return fmt.Errorf("custody mint: %w", err)
		}
	}
	l.logger.Info("Custody taken", "total", total)
	return l.retireMinter(msg, token)
}

func (l *Ledger) retireMinter(msg *chain.Msg, token Token) error {
	l.store(msg).SetBool(chain.Slot(slotMintingDone), true)
	if err := token.NotifyMintingDone(msg.Call(l.addr)); err != nil {
		return fmt.Errorf("notify minting done: %w", err)
	}
	l.logger.Info("Minting done", "token", token.Address())
	return nil
}
