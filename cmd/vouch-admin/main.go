// ABOUTME: Entry point for vouch-admin, the administrator CLI for a vouch-ledger database
// ABOUTME: Wires signal handling around the cobra command tree in internal/cli

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/vouch-ledger/internal/cli"
)

// version is overridden with -ldflags "-X main.version=..." in release builds.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := cli.NewRootCommand()
	root.Version = version
	root.SilenceErrors = true
	if err := root.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
