package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/chain"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
)

// ClaimPrefix returns the prefix of claim messages: the token symbol
// followed by the ledger phrase.
func (l *Ledger) ClaimPrefix(msg *chain.Msg) (string, error) {
	token, err := l.token(msg)
	if err != nil {
		return "", err
	}
	return token.Symbol() + l.cfg.Phrase, nil
}

// ClaimP2PKH pays the balance of the P2PKH key that signed the claim
// message for destination.
func (l *Ledger) ClaimP2PKH(msg *chain.Msg, destination common.Address, sig, pubkey []byte) (*uint256.Int, error) {
	prefix, err := l.claimable(msg, destination)
	if err != nil {
		return nil, err
	}
	key, err := l.cfg.Verifier.RecoverP2PKH(claim.ClaimMessage(prefix, destination), sig, pubkey)
	if err != nil {
		return nil, err
	}
	return l.payout(msg, key, destination)
}

// ClaimP2SH pays the balance of a multisig redeem script once enough of
// its keys signed the claim message for destination.
func (l *Ledger) ClaimP2SH(msg *chain.Msg, destination common.Address, sigs [][]byte, redeemScript []byte, pubkeys [][]byte) (*uint256.Int, error) {
	prefix, err := l.claimable(msg, destination)
	if err != nil {
		return nil, err
	}
	message := l.cfg.Verifier.MultisigClaimMessage(prefix, redeemScript, destination)
	key, err := l.cfg.Verifier.RecoverP2SH(message, sigs, redeemScript, pubkeys)
	if err != nil {
		return nil, err
	}
	return l.payout(msg, key, destination)
}

// ClaimDirect pays the caller the balance recorded under the key derived
// from its own address.
func (l *Ledger) ClaimDirect(msg *chain.Msg) (*uint256.Int, error) {
	if _, err := l.claimable(msg, msg.Sender); err != nil {
		return nil, err
	}
	return l.payout(msg, claim.DirectKey(msg.Sender), msg.Sender)
}

func (l *Ledger) claimable(msg *chain.Msg, destination common.Address) (string, error) {
	if l.cfg.Strategy != Pull {
		return "", ErrUnsupported
	}
	if destination == (common.Address{}) {
		return "", chain.ErrZeroAddress
	}
	prefix, err := l.ClaimPrefix(msg)
	if err != nil {
		return "", err
	}
	if !l.store(msg).GetBool(chain.Slot(slotMintingDone)) {
		return "", ErrLoadNotComplete
	}
	return prefix, nil
}

// payout settles key. A zero balance, a key never loaded and a key already
// claimed are indistinguishable.
func (l *Ledger) payout(msg *chain.Msg, key codec.Key, destination common.Address) (*uint256.Int, error) {
	st := l.store(msg)
	slot := l.balanceSlot(key)
	amount := st.GetUint(slot)
	if amount.IsZero() {
		return nil, ErrNothingToClaim
	}
	st.SetUint(slot, new(uint256.Int))
	settled := st.GetUint(chain.Slot(slotSettled))
	st.SetUint(chain.Slot(slotSettled), settled.Add(settled, amount))

	token, err := l.token(msg)
	if err != nil {
		return nil, err
	}
	if err := token.Transfer(msg.Call(l.addr), destination, amount); err != nil {
		return nil, fmt.Errorf("claim transfer: %w", err)
	}
	if err := events.Emit(msg, l.addr, "Claimed", destination, [codec.KeyLength]byte(key), amount); err != nil {
		return nil, err
	}
	l.logger.Info("Balance claimed", "key", key, "destination", destination, "amount", amount)
	return amount, nil
}
