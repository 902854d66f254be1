// Transponder - store-and-forward voice mailboxes
//
// This is the main entry point. Each appliance runs one process that
// drives a strip of button/light stations: hold to record a message for
// every other station, enter a tap PIN to hear what was left for you.
//
// Commands:
//
//	serve    - run the stations (default)
//	buttons  - log button presses to find which pin a button is wired to
//	token    - mint an operator API token
//	version  - print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/transponder/internal/ota"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	switch {
	case errors.Is(err, errRestartRequested):
		// The supervisor restarts us on this status to pick up the new release.
		os.Exit(ota.ExitRestart)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
