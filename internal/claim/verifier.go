// Package claim proves ownership of ZEND balances without revealing keys.
//
// Everything here is pure: inputs are bytes, outputs are the derived 20-byte
// ledger key. Message signing follows zend's signmessage convention
// (double SHA-256 over the var-string encoded magic and message, 65-byte
// compact recoverable signatures) and addresses are hash160 digests of a
// public key, a multisig redeem script or an EVM address.
package claim

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/ripemd160"

	"github.com/zenmigration/zenmigrate/internal/codec"
)

// DefaultMagic is the message magic of zend's signmessage RPC.
const DefaultMagic = "Zcash Signed Message:\n"

// MultisigSlots is the fixed number of signer slots of a P2SH claim.
const MultisigSlots = 3

var (
	ErrInvalidSignature            = errors.New("invalid signature")
	ErrInvalidPublicKey            = errors.New("invalid public key")
	ErrInvalidSignatureArrayLength = errors.New("invalid signature array length")
	ErrInsufficientSignatures      = errors.New("insufficient signatures")
	ErrInvalidRedeemScript         = errors.New("invalid multisig redeem script")
)

// Verifier recovers signers of claim messages for one network.
type Verifier struct {
	Magic   string
	Network Network
}

// NewVerifier returns a verifier using zend's message magic.
func NewVerifier(network Network) Verifier {
	return Verifier{Magic: DefaultMagic, Network: network}
}

// ClaimMessage is the message a P2PKH holder signs to claim to destination.
func ClaimMessage(prefix string, destination common.Address) string {
	return prefix + destination.Hex()
}

// MultisigClaimMessage is the message each multisig signer signs. It binds
// the multisig address derived from redeemScript as well as destination.
func (v Verifier) MultisigClaimMessage(prefix string, redeemScript []byte, destination common.Address) string {
	addr := v.Network.EncodeAddress(v.Network.P2SH, Hash160(redeemScript))
	return prefix + addr + destination.Hex()
}

// MessageHash returns sha256d(varstr(magic) ‖ varstr(message)).
func (v Verifier) MessageHash(message string) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarString(&buf, 0, v.Magic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a 65-byte compact signature of message. compressed
// selects which public key encoding the signature commits to.
func (v Verifier) SignMessage(key *btcec.PrivateKey, message string, compressed bool) ([]byte, error) {
	return ecdsa.SignCompact(key, v.MessageHash(message), compressed), nil
}

// RecoverP2PKH checks that sig over message was made by pubkey and returns
// the P2PKH key of the encoding (compressed or not) the signature selects.
// pubkey may be 33-byte compressed, 65-byte uncompressed or 64-byte X‖Y.
func (v Verifier) RecoverP2PKH(message string, sig, pubkey []byte) (codec.Key, error) {
	pub, err := ParsePublicKey(pubkey)
	if err != nil {
		return codec.Key{}, err
	}
	recovered, compressed, err := v.recover(message, sig)
	if err != nil {
		return codec.Key{}, err
	}
	if !recovered.IsEqual(pub) {
		return codec.Key{}, fmt.Errorf("%w: signer does not match public key", ErrInvalidSignature)
	}
	if compressed {
		return Hash160(recovered.SerializeCompressed()), nil
	}
	return Hash160(recovered.SerializeUncompressed()), nil
}

// RecoverP2SH checks an m-of-n multisig claim. sigs and pubkeys are paired
// slot by slot and must both have MultisigSlots entries; empty signature
// slots are skipped. Each distinct script key with a valid signature counts
// once toward the script's threshold. It returns the P2SH key of
// redeemScript.
func (v Verifier) RecoverP2SH(message string, sigs [][]byte, redeemScript []byte, pubkeys [][]byte) (codec.Key, error) {
	if len(sigs) != MultisigSlots || len(pubkeys) != MultisigSlots {
		return codec.Key{}, fmt.Errorf("%w: got %d signatures and %d public keys, want %d",
			ErrInvalidSignatureArrayLength, len(sigs), len(pubkeys), MultisigSlots)
	}

	scriptKeys, required, err := ParseMultisigScript(redeemScript)
	if err != nil {
		return codec.Key{}, err
	}

	keys := make([]*btcec.PublicKey, MultisigSlots)
	for i, raw := range pubkeys {
		if len(raw) == 0 {
			continue
		}
		if keys[i], err = ParsePublicKey(raw); err != nil {
			return codec.Key{}, fmt.Errorf("slot %d: %w", i, err)
		}
	}

	signers := make(map[string]struct{})
	for i, sig := range sigs {
		if len(sig) == 0 || keys[i] == nil || !containsKey(scriptKeys, keys[i]) {
			continue
		}
		recovered, _, err := v.recover(message, sig)
		if err != nil || !recovered.IsEqual(keys[i]) {
			continue
		}
		signers[string(recovered.SerializeCompressed())] = struct{}{}
	}

	if len(signers) < required {
		return codec.Key{}, fmt.Errorf("%w: %d valid of %d required", ErrInsufficientSignatures, len(signers), required)
	}
	return Hash160(redeemScript), nil
}

// DirectKey is the legacy key a new-chain address was mapped to for direct
// transfers: hash160 of the 20 address bytes.
func DirectKey(base common.Address) codec.Key {
	return Hash160(base.Bytes())
}

// Hash160 returns RIPEMD160(SHA256(b)).
func Hash160(b []byte) codec.Key {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	var k codec.Key
	copy(k[:], h.Sum(nil))
	return k
}

// ParsePublicKey parses a secp256k1 public key in compressed, uncompressed
// or raw 64-byte X‖Y form.
func ParsePublicKey(raw []byte) (*btcec.PublicKey, error) {
	if len(raw) == 64 {
		raw = append([]byte{0x04}, raw...)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// ParseMultisigScript returns the public keys and the signature threshold
// of an OP_m <keys> OP_n OP_CHECKMULTISIG redeem script.
func ParseMultisigScript(script []byte) ([]*btcec.PublicKey, int, error) {
	ok, err := txscript.IsMultisigScript(script)
	if err != nil || !ok {
		return nil, 0, ErrInvalidRedeemScript
	}
	_, required, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRedeemScript, err)
	}
	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRedeemScript, err)
	}
	keys := make([]*btcec.PublicKey, 0, len(pushes))
	for _, p := range pushes {
		pub, err := btcec.ParsePubKey(p)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRedeemScript, err)
		}
		keys = append(keys, pub)
	}
	return keys, required, nil
}

// BuildMultisigScript assembles an m-of-n redeem script over keys, each
// serialized compressed.
func BuildMultisigScript(required int, keys ...*btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder().AddInt64(int64(required))
	for _, k := range keys {
		b.AddData(k.SerializeCompressed())
	}
	return b.AddInt64(int64(len(keys))).AddOp(txscript.OP_CHECKMULTISIG).Script()
}

func (v Verifier) recover(message string, sig []byte) (*btcec.PublicKey, bool, error) {
	if len(sig) != 65 {
		return nil, false, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	pub, compressed, err := ecdsa.RecoverCompact(sig, v.MessageHash(message))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub, compressed, nil
}

func containsKey(keys []*btcec.PublicKey, k *btcec.PublicKey) bool {
	for _, s := range keys {
		if s.IsEqual(k) {
			return true
		}
	}
	return false
}
