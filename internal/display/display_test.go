// ABOUTME: Tests for the display section renderer
// ABOUTME: Amount formatting, per-kind sections, and metadata degradation

package display

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/popup"
	"github.com/revibase/passkey-popup/internal/txparse"
)

const testTarget = chain.Address("8B4vWqp93LNgrGi7qZfe6DGg9zuHCFWDmmPaBjosnV4V")

func testRenderer(assets AssetResolver) *Renderer {
	return NewRenderer(assets, nil, slog.New(slog.DiscardHandler))
}

// fakeAssets scripts metadata lookups.
type fakeAssets struct {
	asset *chain.Asset
	err   error
}

func (f *fakeAssets) GetAsset(context.Context, string) (*chain.Asset, error) {
	return f.asset, f.err
}

func (f *fakeAssets) Proxify(imageURL string) string {
	return "https://proxy.example.com?image=" + imageURL
}

// fakeNames scripts recipient lookups.
type fakeNames struct {
	record *passkeydb.Passkey
	err    error
}

func (f *fakeNames) ByPublicKey(context.Context, string) (*passkeydb.Passkey, error) {
	return f.record, f.err
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   uint64
		decimals int
		want     string
	}{
		{5_000_000_000, 9, "5"},
		{5_500_000_000, 9, "5.5"},
		{1, 9, "0.000000001"},
		{123, 0, "123"},
		{1_000_001, 6, "1.000001"},
		{0, 9, "0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.amount, tc.decimals), "amount %d decimals %d", tc.amount, tc.decimals)
	}
}

func TestSections_NilData(t *testing.T) {
	sections, err := testRenderer(nil).Sections(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestSections_Message(t *testing.T) {
	sections, err := testRenderer(nil).Sections(context.Background(), popup.MessageData{Text: "sign me"}, nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Message Details", sections[0].Title)
	assert.Equal(t, []string{"sign me"}, sections[0].Lines)
}

func parsedTransaction(kind txparse.ActionKind, body txparse.Body) popup.TransactionData {
	return popup.TransactionData{
		Parsed: &txparse.ParsedTransaction{
			ActionType:    kind,
			TargetAddress: testTarget,
			Label:         txparse.LabelFor(kind),
			Decoded:       body,
		},
	}
}

func TestSections_AddNewMember(t *testing.T) {
	data := parsedTransaction(txparse.KindAddNewMember, txparse.TextBody{Text: "app.example.com"})

	sections, err := testRenderer(nil).Sections(context.Background(), data, nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, txparse.SeveritySecondary, sections[0].Severity)
	assert.Contains(t, sections[0].Lines[1], "app.example.com")
}

func TestSections_Close(t *testing.T) {
	notice := "Closing transaction " + string(testTarget) + " to reclaim rent fees."
	data := parsedTransaction(txparse.KindClose, txparse.TextBody{Text: notice})

	sections, err := testRenderer(nil).Sections(context.Background(), data, nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, txparse.SeverityDestructive, sections[0].Severity)
	assert.Contains(t, sections[0].Lines[0], "permanently close")
	assert.Equal(t, notice, sections[0].Lines[1])
}

func TestSections_ConfigActions(t *testing.T) {
	data := parsedTransaction(txparse.KindChangeConfig, txparse.ConfigBody{
		Actions: []txparse.ConfigAction{
			txparse.NewSetThreshold(2),
			txparse.NewAddMembers([]txparse.Member{{Permissions: 7}}),
		},
	})

	sections, err := testRenderer(nil).Sections(context.Background(), data, nil)
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, "Configuration Actions (2)", sections[0].Title)
	assert.Equal(t, "SetThreshold", sections[1].Title)
	assert.Equal(t, "Setting threshold to 2", sections[1].Lines[0])
	assert.Equal(t, "AddMembers", sections[2].Title)
	assert.Equal(t, "Adding 1 member", sections[2].Lines[0])
}

func intentData(native bool) popup.TransactionData {
	kind := txparse.KindTokenTransferIntent
	mint := chain.Address("FqUwnBMN1shpeqKVm7W5fN73tvrjVr19TQFFgkoFFzhq")
	if native {
		kind = txparse.KindNativeTransferIntent
		mint = chain.NativeMint
	}
	return parsedTransaction(kind, txparse.IntentBody{
		Native: native,
		Intent: txparse.IntentPayload{
			Amount:      5_000_000_000,
			Destination: chain.Address("2yeKnh4vA5Tih3k7mF4kBpSCnEecpgbHUF7AohQo9LYB"),
			Mint:        mint,
		},
	})
}

func TestSections_NativeIntentWithoutResolver(t *testing.T) {
	sections, err := testRenderer(nil).Sections(context.Background(), intentData(true), nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Amount: 5", sections[0].Lines[0])
	assert.Empty(t, sections[0].Image)
}

func TestSections_IntentWithMetadata(t *testing.T) {
	assets := &fakeAssets{asset: &chain.Asset{
		Symbol:   "USDC",
		Decimals: 6,
		Image:    "https://cdn.example.com/usdc.png",
	}}

	sections, err := testRenderer(assets).Sections(context.Background(), intentData(false), nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Amount: 5000 USDC", sections[0].Lines[0])
	assert.Equal(t, "https://proxy.example.com?image=https://cdn.example.com/usdc.png", sections[0].Image)
}

func TestSections_IntentLookupFailureDegrades(t *testing.T) {
	assets := &fakeAssets{err: errors.New("das unavailable")}

	sections, err := testRenderer(assets).Sections(context.Background(), intentData(true), nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Amount: 5", sections[0].Lines[0])
}

func TestSections_IntentRecipientResolved(t *testing.T) {
	names := &fakeNames{record: &passkeydb.Passkey{Username: "bob"}}
	renderer := NewRenderer(nil, names, slog.New(slog.DiscardHandler))
	info := &popup.AdditionalInfo{Recipient: "BobPubkey111"}

	sections, err := renderer.Sections(context.Background(), intentData(true), info)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Lines, "Recipient: bob")
}

func TestSections_IntentRecipientLookupFailureDegrades(t *testing.T) {
	names := &fakeNames{err: errors.New("db unavailable")}
	renderer := NewRenderer(nil, names, slog.New(slog.DiscardHandler))
	info := &popup.AdditionalInfo{Recipient: "BobPubkey111"}

	sections, err := renderer.Sections(context.Background(), intentData(true), info)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	for _, line := range sections[0].Lines {
		assert.NotContains(t, line, "Recipient:")
	}
}

func TestSections_CustomInstructionDump(t *testing.T) {
	data := parsedTransaction(txparse.KindVote, txparse.CustomBody{
		Message: txparse.CustomMessage{
			NumSigners:  1,
			AccountKeys: []chain.Address{testTarget, chain.SystemProgram},
			Instructions: []txparse.Instruction{
				{ProgramIDIndex: 1, AccountIndexes: []uint8{0}, Data: []byte{1, 2, 3}},
			},
		},
	})

	sections, err := testRenderer(nil).Sections(context.Background(), data, nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Approve Transaction", sections[0].Badge)
	assert.Contains(t, sections[0].Lines[2], string(chain.SystemProgram))
	assert.Contains(t, sections[0].Lines[2], "3 data bytes")
}

func TestSections_UnparsedTransaction(t *testing.T) {
	_, err := testRenderer(nil).Sections(context.Background(), popup.TransactionData{}, nil)
	assert.Error(t, err)
}
