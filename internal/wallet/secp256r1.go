// ABOUTME: Passkey member keys for the wallet program
// ABOUTME: Compressed secp256r1 public keys plus DER signature normalization

package wallet

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/revibase/passkey-popup/internal/chain"
)

// CompressedPubkeyLength is the byte length of a compressed secp256r1 point.
const CompressedPubkeyLength = 33

// ErrInvalidPubkey indicates a value that is not a compressed secp256r1 key.
var ErrInvalidPubkey = errors.New("invalid secp256r1 public key")

// ErrInvalidSignature indicates a DER signature that could not be normalized.
var ErrInvalidSignature = errors.New("invalid DER signature")

// p256Order is the order of the secp256r1 group, used for low-S enforcement.
var p256Order, _ = new(big.Int).SetString(
	"ffffffff00000000ffffffffffffffffbce6faada7179e84f3b9cac2fc632551", 16)

var p256HalfOrder = new(big.Int).Rsh(p256Order, 1)

// VerifyArgs carries the on-chain verification material for one passkey
// assertion: the client data and authenticator data the signature covers,
// the slot anchor the challenge was derived from, and the normalized
// signature itself.
type VerifyArgs struct {
	ClientDataJSON []byte
	AuthData       []byte
	SlotNumber     uint64
	SlotHash       [32]byte
	Signature      [64]byte
	DomainConfig   chain.Address
}

// Secp256r1Key is a wallet member identified by a compressed secp256r1
// public key, optionally carrying the verification args proving a fresh
// assertion by that key.
type Secp256r1Key struct {
	raw    [CompressedPubkeyLength]byte
	Verify *VerifyArgs
}

// NewSecp256r1Key parses a base58-encoded compressed public key.
func NewSecp256r1Key(publicKey string, verify *VerifyArgs) (*Secp256r1Key, error) {
	raw, err := base58.Decode(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(raw) != CompressedPubkeyLength {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPubkey, len(raw), CompressedPubkeyLength)
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return nil, fmt.Errorf("%w: bad compression prefix 0x%02x", ErrInvalidPubkey, raw[0])
	}

	key := &Secp256r1Key{Verify: verify}
	copy(key.raw[:], raw)
	return key, nil
}

// Bytes returns the 33-byte compressed point.
func (k *Secp256r1Key) Bytes() []byte {
	out := make([]byte, CompressedPubkeyLength)
	copy(out, k.raw[:])
	return out
}

// String returns the base58 text form.
func (k *Secp256r1Key) String() string {
	return base58.Encode(k.raw[:])
}

type derSignature struct {
	R *big.Int
	S *big.Int
}

// ConvertSignatureDERToRS converts an ASN.1 DER ECDSA signature, as produced
// by WebAuthn authenticators, into the fixed 64-byte r||s form the chain
// verifies. S values above half the group order are replaced by order-s so
// the signature is not malleable.
func ConvertSignatureDERToRS(der []byte) ([64]byte, error) {
	var out [64]byte

	var sig derSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(rest) != 0 {
		return out, fmt.Errorf("%w: trailing bytes", ErrInvalidSignature)
	}
	if sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return out, fmt.Errorf("%w: non-positive component", ErrInvalidSignature)
	}
	if sig.R.Cmp(p256Order) >= 0 || sig.S.Cmp(p256Order) >= 0 {
		return out, fmt.Errorf("%w: component exceeds group order", ErrInvalidSignature)
	}

	s := sig.S
	if s.Cmp(p256HalfOrder) > 0 {
		s = new(big.Int).Sub(p256Order, s)
	}

	sig.R.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}
