package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinger-io/thinger-ota/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "thinger-ota", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
