// ABOUTME: Fixed binary layout decoder for native and token transfer intents
// ABOUTME: Little-endian u64 amount followed by destination and mint addresses

package txparse

import (
	"encoding/binary"
	"fmt"

	"github.com/revibase/passkey-popup/internal/chain"
)

// Intent binary layout offsets.
const (
	intentAmountEnd      = 8
	intentDestinationEnd = 40
	intentMintEnd        = 72
)

// IntentPayload is a decoded transfer request awaiting approval.
type IntentPayload struct {
	Amount      uint64
	Destination chain.Address
	Mint        chain.Address
}

// DecodeIntent decodes the fixed transfer-intent layout: bytes [0,8) are the
// little-endian amount, [8,40) the destination address, [40,72) the mint.
//
// Native intents have no mint account on chain, so the native branch ignores
// any trailing bytes and reports the well-known native-mint sentinel; a
// 40-byte body is legal. Token intents require the full 72 bytes.
func DecodeIntent(data []byte, isNative bool) (*IntentPayload, error) {
	minLen := intentMintEnd
	if isNative {
		minLen = intentDestinationEnd
	}
	if len(data) < minLen {
		return nil, fmt.Errorf("%w: intent body is %d bytes, want at least %d", ErrDecode, len(data), minLen)
	}

	amount := binary.LittleEndian.Uint64(data[:intentAmountEnd])

	destination, err := chain.AddressFromBytes(data[intentAmountEnd:intentDestinationEnd])
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrDecode, err)
	}

	mint := chain.NativeMint
	if !isNative {
		mint, err = chain.AddressFromBytes(data[intentDestinationEnd:intentMintEnd])
		if err != nil {
			return nil, fmt.Errorf("%w: mint: %v", ErrDecode, err)
		}
	}

	return &IntentPayload{
		Amount:      amount,
		Destination: destination,
		Mint:        mint,
	}, nil
}

// EncodeIntent is the inverse of DecodeIntent, used by tests and tooling.
func EncodeIntent(p *IntentPayload, isNative bool) ([]byte, error) {
	out := make([]byte, 0, intentMintEnd)
	out = binary.LittleEndian.AppendUint64(out, p.Amount)

	dest, err := p.Destination.Bytes()
	if err != nil {
		return nil, err
	}
	out = append(out, dest...)

	if !isNative {
		mint, err := p.Mint.Bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, mint...)
	}
	return out, nil
}
