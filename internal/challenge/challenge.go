// ABOUTME: Derives replay-resistant WebAuthn challenges from pending transactions
// ABOUTME: Binds each ceremony to an action, target, payload digest, and recent slot hash

package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr-tron/base58"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/txparse"
)

// ErrChainRead indicates the slot-hashes sysvar could not be fetched.
var ErrChainRead = errors.New("unable to fetch slot sysvar")

// Offsets into the SlotHashes sysvar account data. The first 8 bytes are the
// entry count; the newest entry's slot and hash follow.
const (
	slotNumberOffset = 8
	slotHashOffset   = 16
	slotHashEnd      = 48
)

// Challenge is the signing material for one transaction ceremony.
// It is derived fresh per attempt and must never be cached: the referenced
// slot hash rotates, and reuse would defeat the replay protection.
type Challenge struct {
	// SlotNumber is the decimal slot the hash was taken from.
	SlotNumber string

	// SlotHash is the base58-encoded 32-byte slot hash.
	SlotHash string

	// Bytes is the 32-byte digest the authenticator signs over.
	Bytes [32]byte
}

// AccountFetcher is the chain read the builder depends on.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, addr chain.Address, commitment chain.Commitment) ([]byte, error)
}

// Builder derives transaction challenges from live chain state.
type Builder struct {
	rpc    AccountFetcher
	logger *slog.Logger
}

// NewBuilder creates a Builder reading slot hashes through rpc.
func NewBuilder(rpc AccountFetcher, logger *slog.Logger) *Builder {
	return &Builder{rpc: rpc, logger: logger}
}

// Build derives the challenge for one pending transaction.
//
// The digest input is the exact concatenation
//
//	UTF8(actionType) || base58decode(target) || messageDigest || slotHash
//
// where messageDigest is SHA256(messageBytes) for every action except
// "close", which contributes its raw bytes. A close payload is a short fixed
// address, not arbitrary content; the verifying program expects it unhashed.
// The ordering is a wire contract shared with that program.
func (b *Builder) Build(ctx context.Context, actionType txparse.ActionKind, target chain.Address, messageBytes []byte) (*Challenge, error) {
	data, err := b.rpc.GetAccountInfo(ctx, chain.SlotHashesSysvar, chain.CommitmentProcessed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainRead, err)
	}
	if len(data) < slotHashEnd {
		return nil, fmt.Errorf("%w: sysvar data truncated to %d bytes", ErrChainRead, len(data))
	}

	slotNumber := binary.LittleEndian.Uint64(data[slotNumberOffset:slotHashOffset])
	slotHash := data[slotHashOffset:slotHashEnd]

	targetBytes, err := target.Bytes()
	if err != nil {
		return nil, err
	}

	messageDigest := Digest(actionType, messageBytes)

	h := sha256.New()
	h.Write([]byte(actionType))
	h.Write(targetBytes)
	h.Write(messageDigest)
	h.Write(slotHash)

	var ch Challenge
	ch.SlotNumber = fmt.Sprintf("%d", slotNumber)
	ch.SlotHash = base58.Encode(slotHash)
	copy(ch.Bytes[:], h.Sum(nil))

	b.logger.Debug("challenge built",
		"action_type", actionType,
		"target", target,
		"slot", ch.SlotNumber,
	)
	return &ch, nil
}

// Digest returns the message contribution to the challenge input:
// raw bytes for close actions, SHA256 otherwise.
func Digest(actionType txparse.ActionKind, messageBytes []byte) []byte {
	if actionType == txparse.KindClose {
		return messageBytes
	}
	sum := sha256.Sum256(messageBytes)
	return sum[:]
}

// ForMessage returns the challenge bytes for a plain message payload: the raw
// UTF-8 bytes, un-hashed and with no slot binding. Message ceremonies prove
// intent over the literal text rather than a transaction.
func ForMessage(text string) []byte {
	return []byte(text)
}
