package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

var (
	scopeAddName   string
	scopeAddConfig []string
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Manage sync scopes",
	Long:  `Add, list, or remove sync scopes. A scope binds one source container to the pipeline.`,
}

var scopeAddCmd = &cobra.Command{
	Use:   "add [source-type]",
	Short: "Add a new sync scope",
	Args:  cobra.ExactArgs(1),
	RunE:  runScopeAdd,
}

var scopeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured scopes",
	Args:  cobra.NoArgs,
	RunE:  runScopeList,
}

var scopeRemoveCmd = &cobra.Command{
	Use:   "remove [scope-id]",
	Short: "Remove a scope and its processing records",
	Args:  cobra.ExactArgs(1),
	RunE:  runScopeRemove,
}

func init() {
	scopeAddCmd.Flags().StringVar(&scopeAddName, "name", "", "human-readable scope name")
	scopeAddCmd.Flags().StringArrayVar(&scopeAddConfig, "config", nil, "source configuration as key=value (repeatable)")
	scopeCmd.AddCommand(scopeAddCmd)
	scopeCmd.AddCommand(scopeListCmd)
	scopeCmd.AddCommand(scopeRemoveCmd)
	rootCmd.AddCommand(scopeCmd)
}

func runScopeAdd(cmd *cobra.Command, args []string) error {
	if scopeStore == nil || sourceFactory == nil {
		return errors.New("scope services not configured")
	}

	sourceType := args[0]
	config, err := parseConfigPairs(scopeAddConfig)
	if err != nil {
		return err
	}

	name := scopeAddName
	if name == "" {
		name = sourceType
	}

	now := time.Now()
	scope := domain.SyncScope{
		ID:         uuid.NewString(),
		Name:       name,
		SourceType: sourceType,
		Config:     config,
		Status:     domain.ScopeIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ctx := context.Background()

	// Building and validating the source up front catches bad types and
	// bad configuration before anything is persisted.
	source, err := sourceFactory.Create(ctx, scope)
	if err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}
	defer func() { _ = source.Close() }()

	if err := source.Validate(ctx); err != nil {
		return fmt.Errorf("source validation failed: %w", err)
	}

	if err := scopeStore.Save(ctx, scope); err != nil {
		return fmt.Errorf("failed to save scope: %w", err)
	}

	cmd.Printf("Added scope %s (%s)\n", scope.ID, scope.Name)
	return nil
}

func runScopeList(cmd *cobra.Command, _ []string) error {
	if scopeStore == nil {
		return errors.New("scope services not configured")
	}

	scopes, err := scopeStore.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list scopes: %w", err)
	}

	if len(scopes) == 0 {
		cmd.Println("No scopes configured.")
		return nil
	}

	for i := range scopes {
		s := &scopes[i]
		lastSync := "never"
		if !s.LastSync.IsZero() {
			lastSync = s.LastSync.Format(time.RFC3339)
		}
		cmd.Printf("%s  %-12s %-20s %-8s last sync: %s\n", s.ID, s.SourceType, s.Name, s.Status, lastSync)
		cmd.Printf("  indexed: %d  skipped: %d  failed: %d\n", s.TotalIndexed, s.TotalSkipped, s.TotalFailed)
	}
	return nil
}

func runScopeRemove(cmd *cobra.Command, args []string) error {
	if scopeStore == nil {
		return errors.New("scope services not configured")
	}

	scopeID := args[0]
	if err := scopeStore.Delete(context.Background(), scopeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("scope %s not found", scopeID)
		}
		return fmt.Errorf("failed to remove scope: %w", err)
	}

	cmd.Printf("Removed scope %s\n", scopeID)
	return nil
}

// parseConfigPairs turns repeated key=value flags into a config map.
func parseConfigPairs(pairs []string) (map[string]string, error) {
	config := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config pair %q, expected key=value", pair)
		}
		config[key] = value
	}
	return config, nil
}
