package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orris-inc/roster/internal/interfaces/cli/migrate"
	"github.com/orris-inc/roster/internal/interfaces/cli/server"
	"github.com/orris-inc/roster/internal/interfaces/cli/sweep"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roster",
		Short: "Roster - real-time presence tracking",
		Long:  `Roster tracks who is online over WebSocket heartbeats, with built-in server, migration and sweep commands.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
		sweep.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
