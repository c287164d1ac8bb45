// ABOUTME: Turns parsed popup data into renderable text sections
// ABOUTME: Pure over parsed payloads except the optional token metadata lookup

package display

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/popup"
	"github.com/revibase/passkey-popup/internal/txparse"
)

// AssetResolver looks up token metadata for transfer cards. Lookups are
// best-effort: a nil asset renders the card without metadata.
type AssetResolver interface {
	GetAsset(ctx context.Context, id string) (*chain.Asset, error)
	Proxify(imageURL string) string
}

// NameResolver resolves a recipient public key to its registered passkey
// record so transfer cards can show a username next to the destination.
type NameResolver interface {
	ByPublicKey(ctx context.Context, publicKey string) (*passkeydb.Passkey, error)
}

// Section is one renderable block of the approval screen.
type Section struct {
	Title    string
	Badge    string
	Severity txparse.Severity
	Lines    []string

	// Image is the proxied asset image URL for transfer cards, when known.
	Image string
}

// Renderer builds sections from popup data. assets and names may be nil to
// skip the corresponding lookups entirely.
type Renderer struct {
	assets AssetResolver
	names  NameResolver
	logger *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(assets AssetResolver, names NameResolver, logger *slog.Logger) *Renderer {
	return &Renderer{assets: assets, names: names, logger: logger}
}

// Sections renders the pending action. A nil data yields no sections. info
// carries the opener's extras; its recipient key enriches transfer cards.
func (r *Renderer) Sections(ctx context.Context, data popup.Data, info *popup.AdditionalInfo) ([]Section, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil

	case popup.MessageData:
		return []Section{{
			Title: "Message Details",
			Lines: []string{d.Text},
		}}, nil

	case popup.TransactionData:
		if d.Parsed == nil {
			return nil, fmt.Errorf("transaction payload was not parsed")
		}
		return r.transactionSections(ctx, d.Parsed, info)

	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}
}

func (r *Renderer) transactionSections(ctx context.Context, parsed *txparse.ParsedTransaction, info *popup.AdditionalInfo) ([]Section, error) {
	switch body := parsed.Decoded.(type) {
	case txparse.TextBody:
		return r.textSections(parsed, body), nil

	case txparse.ConfigBody:
		return configSections(parsed.Label, body.Actions), nil

	case txparse.IntentBody:
		return []Section{r.intentSection(ctx, parsed.Label, body, info)}, nil

	case txparse.CustomBody:
		return customSections(parsed.Label, body.Message)

	default:
		return nil, fmt.Errorf("unsupported transaction body %T", parsed.Decoded)
	}
}

func (r *Renderer) textSections(parsed *txparse.ParsedTransaction, body txparse.TextBody) []Section {
	if parsed.ActionType == txparse.KindAddNewMember {
		return []Section{{
			Title:    parsed.Label.Text,
			Badge:    parsed.Label.Text,
			Severity: parsed.Label.Severity,
			Lines: []string{
				fmt.Sprintf("A new passkey member will be added to wallet %s.", parsed.TargetAddress),
				fmt.Sprintf("Approve only if you initiated this from %s.", body.Text),
			},
		}}
	}

	// close: destructive notice plus the rendered transaction details
	return []Section{{
		Title:    parsed.Label.Text,
		Badge:    parsed.Label.Text,
		Severity: parsed.Label.Severity,
		Lines: []string{
			"This action will permanently close the transaction and it cannot be reopened.",
			body.Text,
		},
	}}
}

func configSections(label txparse.Label, actions []txparse.ConfigAction) []Section {
	sections := []Section{{
		Title:    fmt.Sprintf("Configuration Actions (%d)", len(actions)),
		Badge:    label.Text,
		Severity: label.Severity,
	}}
	for _, action := range actions {
		sections = append(sections, configActionSection(action))
	}
	return sections
}

func configActionSection(action txparse.ConfigAction) Section {
	switch action.Kind() {
	case txparse.ConfigEditPermissions:
		return Section{
			Title: "EditPermissions",
			Lines: append(
				[]string{fmt.Sprintf("Editing permissions for %s", countMembers(len(action.EditPermissions.Members)))},
				memberLines(action.EditPermissions.Members)...,
			),
		}
	case txparse.ConfigAddMembers:
		return Section{
			Title: "AddMembers",
			Lines: append(
				[]string{fmt.Sprintf("Adding %s", countMembers(len(action.AddMembers.Members)))},
				memberLines(action.AddMembers.Members)...,
			),
		}
	case txparse.ConfigRemoveMembers:
		lines := []string{fmt.Sprintf("Removing %s", countMembers(len(action.RemoveMembers.Keys)))}
		for _, key := range action.RemoveMembers.Keys {
			lines = append(lines, base58.Encode(key[:]))
		}
		return Section{Title: "RemoveMembers", Lines: lines}
	case txparse.ConfigSetThreshold:
		return Section{
			Title: "SetThreshold",
			Lines: []string{
				fmt.Sprintf("Setting threshold to %d", action.SetThreshold.Threshold),
				"This is the minimum number of signatures required to approve transactions.",
			},
		}
	case txparse.ConfigSetTimeLock:
		return Section{
			Title: "SetTimeLock",
			Lines: []string{fmt.Sprintf("Setting time lock to %d seconds", action.SetTimeLock.Seconds)},
		}
	case txparse.ConfigSetRentCollector:
		line := "Clearing the rent collector"
		if action.SetRentCollector.Collector != nil {
			line = fmt.Sprintf("Setting rent collector to %s", base58.Encode(action.SetRentCollector.Collector[:]))
		}
		return Section{Title: "SetRentCollector", Lines: []string{line}}
	default:
		return Section{Title: "Configuration action", Lines: []string{string(action.Kind())}}
	}
}

func countMembers(n int) string {
	if n == 1 {
		return "1 member"
	}
	return fmt.Sprintf("%d members", n)
}

func memberLines(members []txparse.Member) []string {
	lines := make([]string, 0, len(members))
	for _, m := range members {
		lines = append(lines, fmt.Sprintf("%s (permissions %d)", base58.Encode(m.Pubkey[:]), m.Permissions))
	}
	return lines
}

// intentSection renders a transfer card. Token metadata and the recipient
// username are looked up when resolvers are configured; lookup failures
// degrade to the raw addresses.
func (r *Renderer) intentSection(ctx context.Context, label txparse.Label, body txparse.IntentBody, info *popup.AdditionalInfo) Section {
	section := Section{
		Title:    label.Text,
		Badge:    label.Text,
		Severity: label.Severity,
	}

	decimals := 0
	symbol := ""
	if body.Native {
		decimals = 9
	}
	if r.assets != nil {
		asset, err := r.assets.GetAsset(ctx, string(body.Intent.Mint))
		if err != nil {
			r.logger.Warn("asset lookup failed", "mint", body.Intent.Mint, "error", err)
		} else if asset != nil {
			decimals = asset.Decimals
			symbol = asset.Symbol
			if asset.Image != "" {
				section.Image = r.assets.Proxify(asset.Image)
			}
		}
	}

	amount := FormatAmount(body.Intent.Amount, decimals)
	if symbol != "" {
		amount += " " + symbol
	}
	section.Lines = []string{
		fmt.Sprintf("Amount: %s", amount),
		fmt.Sprintf("To: %s", body.Intent.Destination),
		fmt.Sprintf("Mint: %s", body.Intent.Mint),
	}
	if name := r.recipientName(ctx, info); name != "" {
		section.Lines = append(section.Lines, fmt.Sprintf("Recipient: %s", name))
	}
	return section
}

// recipientName resolves the opener-supplied recipient key to a registered
// username. Unregistered or unresolvable recipients leave the card with the
// bare destination address.
func (r *Renderer) recipientName(ctx context.Context, info *popup.AdditionalInfo) string {
	if r.names == nil || info == nil || info.Recipient == "" {
		return ""
	}
	record, err := r.names.ByPublicKey(ctx, info.Recipient)
	if err != nil {
		r.logger.Debug("recipient lookup failed", "recipient", info.Recipient, "error", err)
		return ""
	}
	return record.Username
}

func customSections(label txparse.Label, msg txparse.CustomMessage) ([]Section, error) {
	section := Section{
		Title:    label.Text,
		Badge:    label.Text,
		Severity: label.Severity,
		Lines: []string{
			fmt.Sprintf("Accounts: %d", len(msg.AccountKeys)),
			fmt.Sprintf("Instructions: %d", len(msg.Instructions)),
		},
	}

	for i, ix := range msg.Instructions {
		program, err := msg.Program(ix)
		if err != nil {
			return nil, err
		}
		section.Lines = append(section.Lines,
			fmt.Sprintf("#%d program %s, %d accounts, %d data bytes", i+1, program, len(ix.AccountIndexes), len(ix.Data)))
	}
	return []Section{section}, nil
}

// FormatAmount renders a raw token amount at the given decimals, trimming
// trailing zeros: 5000000000 at 9 decimals renders as "5".
func FormatAmount(amount uint64, decimals int) string {
	if decimals <= 0 {
		return fmt.Sprintf("%d", amount)
	}

	text := fmt.Sprintf("%0*d", decimals+1, amount)
	whole, frac := text[:len(text)-decimals], text[len(text)-decimals:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
