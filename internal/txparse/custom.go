// ABOUTME: Generic decoder for custom transaction message bodies
// ABOUTME: Compact-u16 framed header, account keys, blockhash, and instruction list

package txparse

import (
	"fmt"

	"github.com/revibase/passkey-popup/internal/chain"
)

// CustomMessage is the structured form of a generic transaction message,
// used for every action kind without a dedicated decoder.
type CustomMessage struct {
	NumSigners          uint8
	NumReadonlySigned   uint8
	NumReadonlyUnsigned uint8
	AccountKeys         []chain.Address
	RecentBlockhash     [32]byte
	Instructions        []Instruction
}

// Instruction is one decoded instruction within a custom message.
type Instruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Program resolves the instruction's program address from the message keys.
func (m *CustomMessage) Program(ix Instruction) (chain.Address, error) {
	if int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
		return "", fmt.Errorf("%w: program index %d out of range", ErrDecode, ix.ProgramIDIndex)
	}
	return m.AccountKeys[ix.ProgramIDIndex], nil
}

// DecodeCustomMessage decodes the compact transaction message layout:
// 3-byte header, compact-u16 array of 32-byte account keys, 32-byte recent
// blockhash, compact-u16 array of instructions.
func DecodeCustomMessage(data []byte) (*CustomMessage, error) {
	r := &byteReader{data: data}

	header, err := r.bytes(3)
	if err != nil {
		return nil, err
	}

	msg := &CustomMessage{
		NumSigners:          header[0],
		NumReadonlySigned:   header[1],
		NumReadonlyUnsigned: header[2],
	}

	numKeys, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	msg.AccountKeys = make([]chain.Address, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		raw, err := r.bytes(chain.AddressLength)
		if err != nil {
			return nil, err
		}
		addr, err := chain.AddressFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: account key %d: %v", ErrDecode, i, err)
		}
		msg.AccountKeys = append(msg.AccountKeys, addr)
	}

	blockhash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(msg.RecentBlockhash[:], blockhash)

	numInstructions, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	msg.Instructions = make([]Instruction, 0, numInstructions)
	for i := 0; i < numInstructions; i++ {
		ix, err := decodeInstruction(r)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", ErrDecode, i, err)
		}
		msg.Instructions = append(msg.Instructions, *ix)
	}

	return msg, nil
}

func decodeInstruction(r *byteReader) (*Instruction, error) {
	programIndex, err := r.byte()
	if err != nil {
		return nil, err
	}

	numAccounts, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	accounts, err := r.bytes(numAccounts)
	if err != nil {
		return nil, err
	}

	dataLen, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	data, err := r.bytes(dataLen)
	if err != nil {
		return nil, err
	}

	ix := &Instruction{
		ProgramIDIndex: programIndex,
		AccountIndexes: append([]uint8(nil), accounts...),
		Data:           append([]byte(nil), data...),
	}
	return ix, nil
}

// byteReader is a bounds-checked cursor over opener-controlled bytes.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrDecode, r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrDecode, n, r.pos, len(r.data)-r.pos)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// compactU16 decodes the shortvec length encoding: little-endian base-128
// with a continuation bit, at most 3 bytes.
func (r *byteReader) compactU16() (int, error) {
	var value int
	for shift := 0; shift < 21; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			if value > 0xffff {
				return 0, fmt.Errorf("%w: compact-u16 overflow", ErrDecode)
			}
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: compact-u16 too long", ErrDecode)
}
