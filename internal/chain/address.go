// ABOUTME: Base58 address type shared by the chain, challenge, and wallet packages
// ABOUTME: Validates 32-byte account addresses and converts between text and raw forms

package chain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the raw byte length of an on-chain account address.
const AddressLength = 32

// ErrInvalidAddress indicates a string that is not a base58-encoded 32-byte address.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a base58-encoded 32-byte account address.
type Address string

// Well-known addresses.
const (
	// SlotHashesSysvar holds the recent slot hashes used as anti-replay nonces.
	SlotHashesSysvar Address = "SysvarS1otHashes111111111111111111111111111"

	// NativeMint is the sentinel mint address for native-asset transfers.
	NativeMint Address = "So11111111111111111111111111111111111111112"

	// SystemProgram is the system program address (all zero bytes).
	SystemProgram Address = "11111111111111111111111111111111"
)

// ParseAddress validates s as a base58-encoded 32-byte address.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AddressLength {
		return "", fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidAddress, len(raw), AddressLength)
	}
	return Address(s), nil
}

// AddressFromBytes encodes raw as a base58 address.
func AddressFromBytes(raw []byte) (Address, error) {
	if len(raw) != AddressLength {
		return "", fmt.Errorf("%w: %d bytes, want %d", ErrInvalidAddress, len(raw), AddressLength)
	}
	return Address(base58.Encode(raw)), nil
}

// MustAddress parses s and panics on failure. For package-level constants only.
func MustAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns the decoded 32-byte form of the address.
func (a Address) Bytes() ([]byte, error) {
	raw, err := base58.Decode(string(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AddressLength {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidAddress, len(raw), AddressLength)
	}
	return raw, nil
}

// String returns the base58 text form.
func (a Address) String() string {
	return string(a)
}
