package cmd

import (
	"fmt"

	"n2kharness/internal/harness"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Check scenario files without starting a gateway",
		Long: `Validate parses scenario files and reports structural errors such as
unknown fields, conflicting message options, invalid log patterns, broker
matchers or statistics queries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := harness.NewTestScenarioLoaderWithLogger(false, harness.NewSilentLogger(verbose, false))
			scenarios, err := loader.LoadScenarios(args...)
			if err != nil {
				return setupErrorf("failed to load scenarios: %w", err)
			}

			results := harness.ValidateScenarios(scenarios)
			fmt.Fprint(cmd.OutOrStdout(), harness.FormatValidationResults(results, verbose))
			if !results.Valid() {
				return setupErrorf("%d scenario(s) are invalid", results.TotalScenarios-results.ValidScenarios)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "List every scenario, not only invalid ones")
	return cmd
}
