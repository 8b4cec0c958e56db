package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "yrelay",
		Short: "A WebSocket relay for collaborative documents",
		Long: `yrelay relays CRDT document updates and awareness state between
WebSocket clients grouped into rooms.

Each room holds one authoritative in-memory document. Clients join a room
by connecting to /ws/{room}, exchange state vectors, and receive every
update other members make.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
