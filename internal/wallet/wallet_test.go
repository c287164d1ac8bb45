// ABOUTME: Tests for PDA derivation, secp256r1 keys, and message compilation
// ABOUTME: Verifies the compiled wire bytes against the shared message decoder

package wallet

import (
	"bytes"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/txparse"
)

func testCreateKey(seed byte) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = seed
	}
	return key
}

func TestSettingsAddress_Deterministic(t *testing.T) {
	a1, bump1, err := SettingsAddress(testCreateKey(7))
	require.NoError(t, err)
	a2, bump2, err := SettingsAddress(testCreateKey(7))
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, bump1, bump2)

	raw, err := a1.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, chain.AddressLength)
}

func TestSettingsAddress_VariesByCreateKey(t *testing.T) {
	a1, _, err := SettingsAddress(testCreateKey(1))
	require.NoError(t, err)
	a2, _, err := SettingsAddress(testCreateKey(2))
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func TestFindProgramAddress_MatchesManualDerivation(t *testing.T) {
	seeds := [][]byte{[]byte("probe"), {1, 2, 3}}
	addr, bump, err := FindProgramAddress(seeds, ProgramID)
	require.NoError(t, err)

	programBytes, err := ProgramID.Bytes()
	require.NoError(t, err)

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(programBytes)
	h.Write([]byte("ProgramDerivedAddress"))
	expected, err := chain.AddressFromBytes(h.Sum(nil))
	require.NoError(t, err)

	assert.Equal(t, expected, addr)

	rawAddr, err := addr.Bytes()
	require.NoError(t, err)
	assert.False(t, onCurve(rawAddr))
}

func TestDomainConfigAddress_VariesByHash(t *testing.T) {
	a1, _, err := DomainConfigAddress(sha256.Sum256([]byte("app.example.com")))
	require.NoError(t, err)
	a2, _, err := DomainConfigAddress(sha256.Sum256([]byte("other.example.com")))
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func testCompressedKey(t *testing.T) string {
	t.Helper()
	raw := append([]byte{0x02}, bytes.Repeat([]byte{0xab}, 32)...)
	return base58.Encode(raw)
}

func TestNewSecp256r1Key(t *testing.T) {
	encoded := testCompressedKey(t)
	key, err := NewSecp256r1Key(encoded, nil)
	require.NoError(t, err)
	assert.Equal(t, encoded, key.String())
	assert.Len(t, key.Bytes(), CompressedPubkeyLength)
}

func TestNewSecp256r1Key_Invalid(t *testing.T) {
	_, err := NewSecp256r1Key(base58.Encode(bytes.Repeat([]byte{1}, 32)), nil)
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	_, err = NewSecp256r1Key(base58.Encode(append([]byte{0x04}, bytes.Repeat([]byte{1}, 32)...)), nil)
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	_, err = NewSecp256r1Key("not base58 !!!", nil)
	assert.ErrorIs(t, err, ErrInvalidPubkey)
}

func derSig(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	der, err := asn1.Marshal(struct {
		R *big.Int
		S *big.Int
	}{r, s})
	require.NoError(t, err)
	return der
}

func TestConvertSignatureDERToRS_LowS(t *testing.T) {
	r := big.NewInt(12345)
	s := big.NewInt(67890)

	out, err := ConvertSignatureDERToRS(derSig(t, r, s))
	require.NoError(t, err)

	var wantR, wantS [32]byte
	r.FillBytes(wantR[:])
	s.FillBytes(wantS[:])
	assert.Equal(t, wantR[:], out[:32])
	assert.Equal(t, wantS[:], out[32:])
}

func TestConvertSignatureDERToRS_NormalizesHighS(t *testing.T) {
	r := big.NewInt(1)
	highS := new(big.Int).Sub(p256Order, big.NewInt(5))

	out, err := ConvertSignatureDERToRS(derSig(t, r, highS))
	require.NoError(t, err)

	var wantS [32]byte
	big.NewInt(5).FillBytes(wantS[:])
	assert.Equal(t, wantS[:], out[32:])
}

func TestConvertSignatureDERToRS_Invalid(t *testing.T) {
	_, err := ConvertSignatureDERToRS([]byte{0x30, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ConvertSignatureDERToRS(append(derSig(t, big.NewInt(1), big.NewInt(1)), 0x00))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ConvertSignatureDERToRS(derSig(t, big.NewInt(0), big.NewInt(1)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ConvertSignatureDERToRS(derSig(t, big.NewInt(1), p256Order))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBuildCreateWallet(t *testing.T) {
	feePayerRaw := bytes.Repeat([]byte{0x11}, 32)
	feePayer, err := chain.AddressFromBytes(feePayerRaw)
	require.NoError(t, err)
	blockhash := base58.Encode(bytes.Repeat([]byte{0x22}, 32))

	domainConfig, _, err := DomainConfigAddress(sha256.Sum256([]byte("app.example.com")))
	require.NoError(t, err)

	member, err := NewSecp256r1Key(testCompressedKey(t), &VerifyArgs{
		ClientDataJSON: []byte(`{"type":"webauthn.get"}`),
		AuthData:       bytes.Repeat([]byte{0x33}, 37),
		SlotNumber:     42,
		SlotHash:       sha256.Sum256([]byte("slot")),
		Signature:      [64]byte{0x44},
		DomainConfig:   domainConfig,
	})
	require.NoError(t, err)

	createKey := testCreateKey(9)
	wire, err := BuildCreateWallet(CreateWalletParams{
		CreateKey:       createKey,
		FeePayer:        feePayer,
		InitialMember:   member,
		RecentBlockhash: blockhash,
	})
	require.NoError(t, err)

	msg, err := txparse.DecodeCustomMessage(wire)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), msg.NumSigners)
	assert.Equal(t, uint8(0), msg.NumReadonlySigned)
	assert.Equal(t, feePayer, msg.AccountKeys[0])
	assert.Equal(t, blockhash, base58.Encode(msg.RecentBlockhash[:]))
	assert.Contains(t, msg.AccountKeys, chain.SystemProgram)
	assert.Contains(t, msg.AccountKeys, ProgramID)

	settings, _, err := SettingsAddress(createKey)
	require.NoError(t, err)
	assert.Contains(t, msg.AccountKeys, settings)

	require.Len(t, msg.Instructions, 1)
	program, err := msg.Program(msg.Instructions[0])
	require.NoError(t, err)
	assert.Equal(t, ProgramID, program)

	disc := sha256.Sum256([]byte("global:create_wallet"))
	assert.Equal(t, disc[:8], msg.Instructions[0].Data[:8])
	assert.Equal(t, createKey[:], msg.Instructions[0].Data[8:40])
}

func TestBuildCreateWallet_RequiresVerifyArgs(t *testing.T) {
	member, err := NewSecp256r1Key(testCompressedKey(t), nil)
	require.NoError(t, err)

	_, err = BuildCreateWallet(CreateWalletParams{
		CreateKey:       testCreateKey(1),
		FeePayer:        chain.MustAddress(base58.Encode(bytes.Repeat([]byte{1}, 32))),
		InitialMember:   member,
		RecentBlockhash: base58.Encode(bytes.Repeat([]byte{2}, 32)),
	})
	assert.ErrorIs(t, err, ErrMissingVerifyArgs)
}
