// ABOUTME: Developer CLI for inspecting popup payloads offline
// ABOUTME: Decodes transaction envelopes and derives signing challenges

package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "popup-debug",
		Usage: "Inspect wallet popup payloads without a browser",
		Commands: []*cli.Command{
			decodeCommand(),
			challengeCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
