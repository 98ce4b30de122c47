package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the application version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of n2kharness",
		Long: `Print the harness version. Attach it to bug reports together with the
n2kafka build the scenarios ran against.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "n2kharness version %s\n", rootCmd.Version)
		},
	}
}
