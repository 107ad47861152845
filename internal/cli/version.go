package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/grotto/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the grotto build",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Current().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
