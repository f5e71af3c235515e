// Package cli implements the mediasync command-line interface.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driving"
	"github.com/custodia-labs/mediasync-cli/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// ErrPartialRun marks a sync run that completed with item failures.
// main maps it to a distinct exit code.
var ErrPartialRun = errors.New("sync completed with failures")

// Services wired in by main before Execute. Commands check for nil and
// fail with a "not configured" error rather than panic.
var (
	syncRunner       driving.SyncRunner
	scopeStore       driven.ScopeStore
	sourceFactory    driven.SourceFactory
	schedulerService driving.Scheduler
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "mediasync",
	Short: "Incremental media sync pipeline",
	Long: `mediasync discovers media items in configured sources, enriches them
with AI analysis, and indexes the results into a search sink.
Processing state is kept locally so repeated runs only touch what changed.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Services bundles everything the CLI needs from main.
type Services struct {
	SyncRunner    driving.SyncRunner
	ScopeStore    driven.ScopeStore
	SourceFactory driven.SourceFactory
	Scheduler     driving.Scheduler
}

// SetServices wires core services into the CLI commands.
func SetServices(s Services) {
	syncRunner = s.SyncRunner
	scopeStore = s.ScopeStore
	sourceFactory = s.SourceFactory
	schedulerService = s.Scheduler
}

// SetVersion overrides the reported version.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command and returns its error.
func Execute() error {
	return rootCmd.Execute()
}
