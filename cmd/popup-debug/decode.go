// ABOUTME: Implements the decode subcommand
// ABOUTME: Parses a transaction envelope and prints its display sections

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/revibase/passkey-popup/internal/display"
	"github.com/revibase/passkey-popup/internal/popup"
	"github.com/revibase/passkey-popup/internal/txparse"
)

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode",
		Usage: "Decode a transaction envelope into the cards the popup would show",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "envelope",
				Usage: "Envelope as JSON or base64url (reads stdin when omitted)",
			},
			&cli.StringFlag{
				Name:  "redirect",
				Usage: "Redirect URL of the requesting site",
				Value: "https://localhost",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
		},
		Action: runDecodeCommand,
	}
}

func runDecodeCommand(ctx context.Context, cmd *cli.Command) error {
	envelope := cmd.String("envelope")
	if envelope == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read envelope from stdin: %w", err)
		}
		envelope = string(raw)
	}

	parsed, err := txparse.Parse(envelope, cmd.String("redirect"))
	if err != nil {
		return err
	}

	// Asset lookups need a live RPC endpoint; the offline renderer falls
	// back to mint addresses and raw amounts.
	renderer := display.NewRenderer(nil, nil, slog.New(slog.DiscardHandler))
	sections, err := renderer.Sections(ctx, popup.TransactionData{Payload: envelope, Parsed: parsed}, nil)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out, err := json.MarshalIndent(map[string]any{
			"actionType": parsed.ActionType,
			"target":     parsed.TargetAddress,
			"label":      parsed.Label,
			"sections":   sections,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	printParsed(parsed, sections)
	return nil
}

func printParsed(parsed *txparse.ParsedTransaction, sections []display.Section) {
	heading := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	heading.Printf("%s\n", parsed.Label.Text)
	dim.Printf("action %s  target %s  %d message bytes\n",
		parsed.ActionType, parsed.TargetAddress, len(parsed.MessageBytes))

	for _, section := range sections {
		fmt.Println()
		heading.Printf("%s", section.Title)
		if section.Badge != "" {
			badgeColor(section.Severity).Printf("  [%s]", section.Badge)
		}
		fmt.Println()
		for _, line := range section.Lines {
			fmt.Printf("  %s\n", line)
		}
		if section.Image != "" {
			dim.Printf("  image: %s\n", section.Image)
		}
	}
}

func badgeColor(severity txparse.Severity) *color.Color {
	switch severity {
	case txparse.SeverityDestructive:
		return color.New(color.FgRed, color.Bold)
	case txparse.SeveritySecondary:
		return color.New(color.FgYellow)
	case txparse.SeverityOutline:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgGreen)
	}
}
