// ABOUTME: Implements the challenge subcommand
// ABOUTME: Derives the digest an authenticator signs for a pending transaction

package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/txparse"
)

func challengeCommand() *cli.Command {
	return &cli.Command{
		Name:  "challenge",
		Usage: "Derive the signing challenge for a transaction",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "action",
				Usage: "Transaction action type (e.g. vote, close, add_new_member)",
				Value: string(txparse.KindVote),
			},
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Base58 transaction address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Base64-encoded transaction message bytes",
			},
			&cli.StringFlag{
				Name:  "rpc",
				Usage: "JSON-RPC endpoint to fetch the live slot hash from",
			},
			&cli.StringFlag{
				Name:  "sysvar-file",
				Usage: "File holding raw SlotHashes sysvar data instead of a live fetch",
			},
		},
		Action: runChallengeCommand,
	}
}

func runChallengeCommand(ctx context.Context, cmd *cli.Command) error {
	rpcURL := cmd.String("rpc")
	sysvarFile := cmd.String("sysvar-file")
	if rpcURL == "" && sysvarFile == "" {
		return fmt.Errorf("either --rpc or --sysvar-file must be provided")
	}
	if rpcURL != "" && sysvarFile != "" {
		return fmt.Errorf("only one of --rpc or --sysvar-file should be provided")
	}

	target, err := chain.ParseAddress(cmd.String("target"))
	if err != nil {
		return err
	}

	var messageBytes []byte
	if raw := cmd.String("message"); raw != "" {
		messageBytes, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("failed to decode --message: %w", err)
		}
	}

	logger := slog.New(slog.DiscardHandler)
	var fetcher challenge.AccountFetcher
	if rpcURL != "" {
		fetcher = chain.NewClient(rpcURL, "", logger)
	} else {
		fetcher = sysvarFileFetcher(sysvarFile)
	}

	ch, err := challenge.NewBuilder(fetcher, logger).Build(ctx,
		txparse.ActionKind(cmd.String("action")), target, messageBytes)
	if err != nil {
		return err
	}

	heading := color.New(color.FgCyan, color.Bold)
	heading.Println("Challenge")
	fmt.Printf("  slot:      %s\n", ch.SlotNumber)
	fmt.Printf("  slot hash: %s\n", ch.SlotHash)
	fmt.Printf("  digest:    %s\n", hex.EncodeToString(ch.Bytes[:]))
	fmt.Printf("  base64url: %s\n", base64.RawURLEncoding.EncodeToString(ch.Bytes[:]))
	return nil
}

// sysvarFileFetcher serves SlotHashes sysvar data from a local fixture so
// challenges can be reproduced without a validator. The file holds the raw
// account bytes, optionally base64-encoded.
type sysvarFileFetcher string

func (f sysvarFileFetcher) GetAccountInfo(context.Context, chain.Address, chain.Commitment) ([]byte, error) {
	raw, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw))); err == nil {
		return decoded, nil
	}
	return raw, nil
}
