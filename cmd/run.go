package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"n2kharness/internal/config"
	"n2kharness/internal/harness"
	"n2kharness/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 300 * time.Millisecond

type runOptions struct {
	configPath    string
	child         string
	brokers       string
	parallel      int
	failFast      bool
	scenario      string
	tags          []string
	reportPath    string
	reporter      string
	verbose       bool
	debug         bool
	keepArtifacts bool
	watch         bool
	timeout       time.Duration
}

// completeReporterFlag provides shell completion for the reporter flag
func completeReporterFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{harness.ReporterText, harness.ReporterQuiet, harness.ReporterJSON}, cobra.ShellCompDirectiveDefault
}

func newRunCmd() *cobra.Command {
	return newRunCmdWithOptions(&runOptions{})
}

func newRunCmdWithOptions(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run gateway scenarios",
		Long: `Run starts a fresh gateway for every selected scenario, sends the
scenario's messages and checks its expectations. Paths are scenario files or
directories; the default is ./scenarios.

The gateway is started with the configured child command, so a memory
checker can wrap it:

  n2kharness run --child "valgrind --tool=helgrind --xml=yes --xml-file=helgrind.xml ./n2kafka"

Findings the checker writes are merged across scenarios into the file named
by --xml-file.

Example usage:
  n2kharness run                              # Run all scenarios
  n2kharness run scenarios/0003_tls.yaml      # Run one file
  n2kharness run --scenario=http2k-chunks     # Run one scenario by name
  n2kharness run --tag=tls --verbose          # Run tagged scenarios with details
  n2kharness run --parallel=4 --fail-fast     # Four gateways at once, stop on failure
  n2kharness run --watch                      # Re-run when a scenario file changes

Exit codes: 0 all passed, 1 general error, 2 scenario failures,
3 setup error.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.parallel < 1 || opts.parallel > 50 {
				return fmt.Errorf("parallel workers must be between 1 and 50, got %d", opts.parallel)
			}
			switch opts.reporter {
			case harness.ReporterText, harness.ReporterQuiet, harness.ReporterJSON:
			default:
				return fmt.Errorf("invalid reporter %q", opts.reporter)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the harness configuration file")
	cmd.Flags().StringVar(&opts.child, "child", "", "Command line the gateway is started with")
	cmd.Flags().StringVar(&opts.brokers, "brokers", "", "Comma separated Kafka brokers the harness consumes from")

	cmd.Flags().IntVar(&opts.parallel, "parallel", 1, "Number of scenarios run at once (1-50)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop after the first failing scenario")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-scenario timeout (default from config)")

	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Run a single scenario by name")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Run scenarios carrying any of these tags")

	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Directory receiving a detailed JSON report")
	cmd.Flags().StringVar(&opts.reporter, "reporter", harness.ReporterText, "Console output (text, quiet, json)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print every message and expectation")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.Flags().BoolVar(&opts.keepArtifacts, "keep-artifacts", false, "Keep generated gateway config files")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run scenarios whenever a scenario file changes")

	_ = cmd.RegisterFlagCompletionFunc("reporter", completeReporterFlag)
	cmd.MarkFlagsMutuallyExclusive("watch", "fail-fast")

	return cmd
}

// loadHarnessConfig layers the run flags over the file and environment
// configuration.
func loadHarnessConfig(cmd *cobra.Command, opts *runOptions) (config.HarnessConfig, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return config.HarnessConfig{}, &SetupError{Err: err}
	}

	if cmd.Flags().Changed("child") {
		cfg.Child = opts.child
	}
	if cmd.Flags().Changed("brokers") {
		cfg.Broker.Brokers = nil
		for _, b := range strings.Split(opts.brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Broker.Brokers = append(cfg.Broker.Brokers, b)
			}
		}
	}
	if cmd.Flags().Changed("keep-artifacts") {
		cfg.KeepArtifacts = opts.keepArtifacts
	}
	if opts.timeout > 0 {
		cfg.Timeouts.Scenario = opts.timeout
	}

	if err := cfg.Validate(); err != nil {
		return config.HarnessConfig{}, &SetupError{Err: err}
	}
	return cfg, nil
}

func testConfiguration(cfg config.HarnessConfig, opts *runOptions, paths []string) harness.TestConfiguration {
	tc := harness.DefaultTestConfiguration()
	tc.Timeout = cfg.Timeouts.Scenario
	tc.Parallel = opts.parallel
	tc.FailFast = opts.failFast
	tc.Verbose = opts.verbose
	tc.Debug = opts.debug
	tc.Scenario = opts.scenario
	tc.Tags = opts.tags
	tc.ReportPath = opts.reportPath
	if len(paths) > 0 {
		tc.ScenarioPaths = paths
	}
	return tc
}

func runScenarios(cmd *cobra.Command, opts *runOptions, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nReceived interrupt signal, stopping scenarios...")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := loadHarnessConfig(cmd, opts)
	if err != nil {
		return err
	}
	testConfig := testConfiguration(cfg, opts, args)
	if err := harness.ValidateConfiguration(testConfig); err != nil {
		return err
	}

	if !opts.watch {
		return runOnce(ctx, cmd.OutOrStdout(), cfg, opts, testConfig)
	}
	return watchScenarios(ctx, cmd.OutOrStdout(), testConfig.ScenarioPaths, func() {
		if err := runOnce(ctx, cmd.OutOrStdout(), cfg, opts, testConfig); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "⚠️  %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n👀 Watching %s for changes...\n", strings.Join(testConfig.ScenarioPaths, ", "))
	})
}

// runOnce loads, validates and runs the selected scenarios as one
// session.
func runOnce(ctx context.Context, out io.Writer, cfg config.HarnessConfig, opts *runOptions, testConfig harness.TestConfiguration) error {
	logger := harness.NewStdoutLogger(opts.verbose, opts.debug)
	loader := harness.NewTestScenarioLoaderWithLogger(opts.debug, logger)

	scenarios, err := loader.LoadScenarios(testConfig.ScenarioPaths...)
	if err != nil {
		return setupErrorf("failed to load scenarios: %w", err)
	}
	if validation := harness.ValidateScenarios(scenarios); !validation.Valid() {
		fmt.Fprint(out, harness.FormatValidationResults(validation, opts.verbose))
		return setupErrorf("%d scenario(s) are invalid", validation.TotalScenarios-validation.ValidScenarios)
	}

	selected := loader.FilterScenarios(scenarios, testConfig)
	if len(selected) == 0 {
		fmt.Fprintf(out, "⚠️  No scenarios selected from %s\n", strings.Join(testConfig.ScenarioPaths, ", "))
		return nil
	}

	framework, err := harness.NewTestFramework(cfg, harness.FrameworkOptions{
		Verbose:       opts.verbose,
		Debug:         opts.debug,
		ReportPath:    opts.reportPath,
		Reporter:      opts.reporter,
		ConnectBroker: harness.ScenariosNeedBroker(selected),
	})
	if err != nil {
		return &SetupError{Err: err}
	}
	defer func() {
		if err := framework.Cleanup(); err != nil {
			logging.Warn("CLI", "cleanup: %v", err)
		}
	}()

	result, err := framework.Runner.Run(ctx, testConfig, selected)
	if err != nil {
		return fmt.Errorf("scenario execution failed: %w", err)
	}
	if !result.Succeeded() {
		return &ScenarioFailureError{
			Failed:  result.FailedScenarios + result.ErrorScenarios,
			Total:   result.TotalScenarios,
			Session: result.DrainError != "" || result.DiagnosticsError != "",
		}
	}
	return nil
}

// watchTargets returns the directories to watch for paths. Files are
// watched through their directory so editors that replace the file on save
// keep triggering events.
func watchTargets(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
		if !info.IsDir() {
			add(filepath.Dir(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}
	return dirs, nil
}

// watchScenarios calls run once and then again after every change to a
// scenario file, until ctx is done.
func watchScenarios(ctx context.Context, out io.Writer, paths []string, run func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return setupErrorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dirs, err := watchTargets(paths)
	if err != nil {
		return &SetupError{Err: err}
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return setupErrorf("watching %s: %w", dir, err)
		}
	}

	run()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !harness.IsScenarioFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.Debug("CLI", "scenario change: %s", event)
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("CLI", "file watcher: %v", err)
		case <-debounce:
			debounce = nil
			fmt.Fprintf(out, "\n🔁 Scenario files changed, running again\n")
			run()
		}
	}
}
