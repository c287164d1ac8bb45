// ABOUTME: Program-derived address derivation for the on-chain wallet program
// ABOUTME: Covers settings accounts keyed by create key and domain config accounts

package wallet

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/revibase/passkey-popup/internal/chain"
)

// ProgramID is the on-chain wallet program address.
const ProgramID chain.Address = "8B4vWqp93LNgrGi7qZfe6DGg9zuHCFWDmmPaBjosnV4V"

// PDA seed literals used by the wallet program.
const (
	settingsSeed     = "multi_wallet"
	domainConfigSeed = "domain_config"

	pdaMarker = "ProgramDerivedAddress"
)

// ErrNoValidBump indicates no off-curve address exists for the given seeds.
// Statistically unreachable for real inputs.
var ErrNoValidBump = errors.New("no valid bump seed found")

// SettingsAddress derives the wallet settings account for a create key.
// The derivation is deterministic, so a settings address can be computed
// before the account exists on chain.
func SettingsAddress(createKey [32]byte) (chain.Address, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(settingsSeed), createKey[:]}, ProgramID)
}

// DomainConfigAddress derives the domain config account for a relying
// party, keyed by the SHA-256 hash of the rpId as it appears in
// authenticator data.
func DomainConfigAddress(rpIDHash [32]byte) (chain.Address, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(domainConfigSeed), rpIDHash[:]}, ProgramID)
}

// FindProgramAddress probes bump seeds from 255 downward until the derived
// hash falls off the ed25519 curve, making the address unsignable by any
// private key.
func FindProgramAddress(seeds [][]byte, program chain.Address) (chain.Address, uint8, error) {
	programBytes, err := program.Bytes()
	if err != nil {
		return "", 0, fmt.Errorf("program address: %w", err)
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(programBytes)
		h.Write([]byte(pdaMarker))

		candidate := h.Sum(nil)
		if !onCurve(candidate) {
			addr, err := chain.AddressFromBytes(candidate)
			if err != nil {
				return "", 0, err
			}
			return addr, uint8(bump), nil
		}
	}
	return "", 0, ErrNoValidBump
}

// onCurve reports whether raw is a valid ed25519 curve point.
func onCurve(raw []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
