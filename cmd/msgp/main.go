package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "msgp",
		Short: "Group chat over the msgp text protocol",
		Long: `msgp is a small multi-user chat system.

The server tracks users, groups, membership and history, fans messages out
to users and groups over a line-oriented TCP protocol, and exposes the same
registry over an HTTP/JSON façade. The client opens an interactive prompt
for joining groups and exchanging messages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		clientCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
