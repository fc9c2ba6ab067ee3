package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/types"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "voratiq",
	Short: "Competing coding agents, blindly reviewed",
	Long: `voratiq orchestrates multiple autonomous coding agents against the
same task, then blindly reviews and optionally applies the best result.

Core Commands:
  init         Scaffold .voratiq/ in the current repository
  spec         Draft a specification with a single agent
  run          Compete agents against a spec
  review       Blindly review a completed run
  apply        Apply one agent's captured diff to the working tree
  auto         run + review + apply in one go

Housekeeping:
  list         Show recent sessions
  prune        Mark sessions pruned and optionally delete artifacts

Every agent runs sandboxed: its own workspace worktree, a staged HOME with
only the credentials it needs, and a watchdog that kills it on silence,
wall-clock overrun, fatal output patterns, or repeated sandbox denials.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, rendering any error as a headline plus
// optional hint lines with exit code 1. Buffered session records are
// flushed unconditionally on the way out, success or failure, so no
// deferred-flush window can outlive the process.
func Execute() {
	err := rootCmd.Execute()
	flushOpenStores()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

// errorHint maps known error kinds to a one-line remedy shown under the
// headline. Unknown errors get no hint.
func errorHint(err error) string {
	var (
		baseMismatch *types.BaseMismatchError
		configErr    *types.ConfigError
		wdErr        *types.WatchdogTriggeredError
		parseErr     *types.ParseError
	)
	switch {
	case errors.As(err, &baseMismatch):
		return "HEAD moved since the run; re-run, or pass --ignore-base-mismatch to apply anyway"
	case errors.As(err, &configErr):
		return "run `voratiq init` to scaffold missing configuration, then edit .voratiq/*.yaml"
	case errors.As(err, &wdErr):
		return fmt.Sprintf("the agent was terminated by the %s watchdog; see its stderr.log artifact", wdErr.Trigger)
	case errors.As(err, &parseErr):
		return fmt.Sprintf("the file at %s is corrupt; restore it from version control or prune the session", parseErr.Path)
	case errors.Is(err, types.ErrNoEligibleCandidates):
		return "only agents with a captured diff can be reviewed; check `voratiq list`"
	case errors.Is(err, types.ErrSessionNotFound):
		return "check `voratiq list` for known session ids"
	case errors.Is(err, types.ErrLeakageValidationFailed):
		return "a reviewer-visible file would have exposed a real agent identity; the review was stopped before launch"
	}
	return ""
}
