package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/TernFolbaek/anthra-sync/cmd/anthra-sync/internal/auth"
	"github.com/TernFolbaek/anthra-sync/cmd/anthra-sync/internal/version"
	"github.com/TernFolbaek/anthra-sync/cmd/anthra-sync/internal/watch"
)

func NewAnthraSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "anthra-sync",
		Short:   "anthra conversation client: live message sync from the terminal",
		Example: "anthra-sync watch",
	}

	cmd.AddCommand(
		watch.NewWatchCommand(),
		auth.NewAuthCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewAnthraSyncCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
