// ABOUTME: Create-wallet instruction assembly and transaction message compilation
// ABOUTME: Produces wire bytes ready for payer signing and submission

package wallet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"

	"github.com/revibase/passkey-popup/internal/chain"
)

// ErrMissingVerifyArgs indicates a create-wallet build without assertion proof.
var ErrMissingVerifyArgs = errors.New("initial member has no verify args")

// AccountMeta names one account an instruction touches.
type AccountMeta struct {
	Address  chain.Address
	Signer   bool
	Writable bool
}

// Instruction is one program invocation before message compilation.
type Instruction struct {
	Program  chain.Address
	Accounts []AccountMeta
	Data     []byte
}

// CreateWalletParams carries everything needed to assemble the create-wallet
// transaction. The initial member must carry verify args from a fresh
// assertion over the add-member challenge.
type CreateWalletParams struct {
	CreateKey       [32]byte
	FeePayer        chain.Address
	InitialMember   *Secp256r1Key
	RecentBlockhash string
}

// BuildCreateWallet assembles the create-wallet instruction and compiles it
// into a transaction message with the payer as fee payer. The returned wire
// bytes are what the payer service signs and submits.
func BuildCreateWallet(params CreateWalletParams) ([]byte, error) {
	ix, err := createWalletInstruction(params)
	if err != nil {
		return nil, err
	}
	return CompileMessage(params.FeePayer, params.RecentBlockhash, []Instruction{*ix})
}

func createWalletInstruction(params CreateWalletParams) (*Instruction, error) {
	if params.InitialMember == nil || params.InitialMember.Verify == nil {
		return nil, ErrMissingVerifyArgs
	}

	settings, _, err := SettingsAddress(params.CreateKey)
	if err != nil {
		return nil, fmt.Errorf("deriving settings address: %w", err)
	}

	data, err := encodeCreateWalletData(params.CreateKey, params.InitialMember)
	if err != nil {
		return nil, err
	}

	return &Instruction{
		Program: ProgramID,
		Accounts: []AccountMeta{
			{Address: params.FeePayer, Signer: true, Writable: true},
			{Address: settings, Writable: true},
			{Address: params.InitialMember.Verify.DomainConfig},
			{Address: chain.SystemProgram},
		},
		Data: data,
	}, nil
}

// encodeCreateWalletData lays out the instruction payload: discriminator,
// create key, compressed member key, then the assertion proof with its
// variable-length fields u32-length-prefixed.
func encodeCreateWalletData(createKey [32]byte, member *Secp256r1Key) ([]byte, error) {
	verify := member.Verify

	disc := sha256.Sum256([]byte("global:create_wallet"))
	data := append([]byte{}, disc[:8]...)
	data = append(data, createKey[:]...)
	data = append(data, member.Bytes()...)

	data = appendPrefixed(data, verify.ClientDataJSON)
	data = binary.LittleEndian.AppendUint64(data, verify.SlotNumber)
	data = append(data, verify.SlotHash[:]...)
	data = appendPrefixed(data, verify.AuthData)
	data = append(data, verify.Signature[:]...)
	return data, nil
}

func appendPrefixed(data, field []byte) []byte {
	data = binary.LittleEndian.AppendUint32(data, uint32(len(field)))
	return append(data, field...)
}

// CompileMessage flattens instructions into the transaction message wire
// format: signer accounts first, then writable non-signers, then readonly,
// with each instruction referencing accounts by index.
func CompileMessage(feePayer chain.Address, recentBlockhash string, instructions []Instruction) ([]byte, error) {
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, fmt.Errorf("invalid recent blockhash %q", recentBlockhash)
	}

	metas := map[chain.Address]*AccountMeta{
		feePayer: {Address: feePayer, Signer: true, Writable: true},
	}
	for _, ix := range instructions {
		for _, acct := range ix.Accounts {
			merged, ok := metas[acct.Address]
			if !ok {
				m := acct
				metas[acct.Address] = &m
				continue
			}
			merged.Signer = merged.Signer || acct.Signer
			merged.Writable = merged.Writable || acct.Writable
		}
		if _, ok := metas[ix.Program]; !ok {
			metas[ix.Program] = &AccountMeta{Address: ix.Program}
		}
	}

	ordered := make([]*AccountMeta, 0, len(metas))
	for _, m := range metas {
		ordered = append(ordered, m)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Address == feePayer || b.Address == feePayer {
			return a.Address == feePayer
		}
		if a.Signer != b.Signer {
			return a.Signer
		}
		if a.Writable != b.Writable {
			return a.Writable
		}
		return a.Address < b.Address
	})

	index := make(map[chain.Address]int, len(ordered))
	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for i, m := range ordered {
		index[m.Address] = i
		if m.Signer {
			numSigners++
			if !m.Writable {
				numReadonlySigned++
			}
		} else if !m.Writable {
			numReadonlyUnsigned++
		}
	}

	msg := []byte{uint8(numSigners), uint8(numReadonlySigned), uint8(numReadonlyUnsigned)}
	msg = appendShortVecLen(msg, len(ordered))
	for _, m := range ordered {
		raw, err := m.Address.Bytes()
		if err != nil {
			return nil, err
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, blockhash...)

	msg = appendShortVecLen(msg, len(instructions))
	for _, ix := range instructions {
		msg = append(msg, uint8(index[ix.Program]))
		msg = appendShortVecLen(msg, len(ix.Accounts))
		for _, acct := range ix.Accounts {
			msg = append(msg, uint8(index[acct.Address]))
		}
		msg = appendShortVecLen(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}
	return msg, nil
}

// AssembleTransaction prepends base58-decoded signatures to a compiled
// message, producing the full wire transaction for submission.
func AssembleTransaction(message []byte, signatures []string) ([]byte, error) {
	tx := appendShortVecLen(nil, len(signatures))
	for _, sig := range signatures {
		raw, err := base58.Decode(sig)
		if err != nil || len(raw) != 64 {
			return nil, fmt.Errorf("invalid transaction signature %q", sig)
		}
		tx = append(tx, raw...)
	}
	return append(tx, message...), nil
}

// appendShortVecLen writes n in the compact-u16 base-128 encoding.
func appendShortVecLen(data []byte, n int) []byte {
	v := uint16(n)
	for {
		b := uint8(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(data, b)
		}
		data = append(data, b|0x80)
	}
}
