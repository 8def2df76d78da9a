package watch

import (
	"github.com/spf13/cobra"
)

func NewWatchCommand() *cobra.Command {
	var debug bool
	var user string

	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Open an interactive conversation view",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return watchCmd(debug, user)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Your user id (for direct conversations)")

	return cmd
}
