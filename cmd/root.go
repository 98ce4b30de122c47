package cmd

import (
	"errors"
	"fmt"
	"os"

	"n2kharness/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeScenarioFailed indicates that at least one scenario or a
	// session check failed.
	ExitCodeScenarioFailed = 2
	// ExitCodeSetup indicates the harness could not start: unreadable
	// config, invalid scenario files or an unreachable broker.
	ExitCodeSetup = 3
)

// ScenarioFailureError is returned by run when the suite did not pass.
type ScenarioFailureError struct {
	Failed int
	Total  int
	// Session is set when only the drain or diagnostics checks failed.
	Session bool
}

func (e *ScenarioFailureError) Error() string {
	if e.Session && e.Failed == 0 {
		return "session checks failed"
	}
	return fmt.Sprintf("%d of %d scenarios failed", e.Failed, e.Total)
}

// SetupError wraps anything that kept the harness from running scenarios.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return e.Err.Error()
}

func (e *SetupError) Unwrap() error { return e.Err }

func setupErrorf(format string, args ...interface{}) error {
	return &SetupError{Err: fmt.Errorf(format, args...)}
}

var logFormat string

// rootCmd represents the base command for the n2kharness application.
var rootCmd = &cobra.Command{
	Use:   "n2kharness",
	Short: "Black-box integration tests for the n2kafka gateway",
	Long: `n2kharness starts the n2kafka HTTP to Kafka gateway once per scenario,
replays the scenario's HTTP interactions against it and checks the status
codes, the gateway's log output and the messages that reached Kafka.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelWarn
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = logging.LevelDebug
		}
		switch logging.Format(logFormat) {
		case logging.FormatText:
			logging.InitForCLI(level, cmd.ErrOrStderr())
		case logging.FormatJSON:
			logging.InitForCI(level, cmd.ErrOrStderr())
		default:
			return fmt.Errorf("invalid log format %q, must be text or json", logFormat)
		}
		return nil
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "n2kharness version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var failure *ScenarioFailureError
	if errors.As(err, &failure) {
		return ExitCodeScenarioFailed
	}

	var setup *SetupError
	if errors.As(err, &setup) {
		return ExitCodeSetup
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatText), "Harness log format (text, json)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
}
