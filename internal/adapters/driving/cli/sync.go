package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driving"
)

var syncForceFull bool

var syncCmd = &cobra.Command{
	Use:   "sync [scope-id]",
	Short: "Synchronise media from configured scopes",
	Long: `Runs an incremental sync for a scope.
If a scope ID is provided, only that scope is synchronised.
Otherwise, all scopes are synchronised in turn.

Exit codes: 0 on success, 1 when the run completed with item
failures, 2 when the run could not start or aborted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSyncCmd,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForceFull, "force-full", false, "ignore the scope cursor and re-discover everything")
	rootCmd.AddCommand(syncCmd)
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	if syncRunner == nil {
		return errors.New("sync service not configured")
	}

	ctx := context.Background()
	opts := driving.RunOptions{ForceFullSync: syncForceFull}

	if len(args) > 0 {
		scopeID := args[0]
		cmd.Printf("Synchronising scope: %s...\n", scopeID)

		summary, err := syncWithProgress(ctx, cmd, syncRunner, scopeID, opts)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		printSummary(cmd, summary)
		if summary.Failed > 0 {
			return fmt.Errorf("scope %s: %d items failed: %w", scopeID, summary.Failed, ErrPartialRun)
		}
		return nil
	}

	cmd.Println("Synchronising all scopes...")

	summaries, err := syncRunner.RunAll(ctx, opts)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	failed := 0
	for i := range summaries {
		printSummary(cmd, &summaries[i])
		failed += summaries[i].Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d items failed: %w", failed, ErrPartialRun)
	}
	return nil
}

// syncWithProgress runs the sync while polling status for progress updates.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	runner driving.SyncRunner,
	scopeID string,
	opts driving.RunOptions,
) (*domain.SyncRunSummary, error) {
	type result struct {
		summary *domain.SyncRunSummary
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		summary, err := runner.Run(ctx, scopeID, opts)
		resCh <- result{summary, err}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case res := <-resCh:
			return res.summary, res.err
		case <-ticker.C:
			// Best effort - status errors are ignored.
			status, err := runner.Status(ctx, scopeID)
			if err == nil && status != nil && status.ItemsProcessed > lastCount {
				cmd.Printf("\rProcessing... %d items", status.ItemsProcessed)
				lastCount = status.ItemsProcessed
			}
		}
	}
}

func printSummary(cmd *cobra.Command, s *domain.SyncRunSummary) {
	cmd.Printf("Scope %s: %d discovered, %d indexed, %d skipped (%d unchanged, %d rejected), %d failed in %s\n",
		s.ScopeID, s.Discovered, s.Indexed, s.Skipped, s.Unchanged, s.PolicyRejected, s.Failed,
		s.Duration.Round(time.Millisecond))
}
