// Command mediasync is an incremental media sync pipeline: it discovers
// media items in configured sources, enriches them with AI analysis, and
// indexes the results into a search sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/config/file"
	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/enrich/anthropic"
	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/sink/vertex"
	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/mediasync-cli/internal/adapters/driving/cli"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/figma"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/filesystem"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/google"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/google/drive"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/google/gmail"
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/core/services"
	"github.com/custodia-labs/mediasync-cli/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)

	if err := run(); err != nil {
		if errors.Is(err, cli.ErrPartialRun) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run() error {
	cfg, err := file.NewConfigStore("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := sqlite.NewStore(cfg.GetString("storage.data_dir"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	factory := buildSourceFactory(cfg)

	svc := cli.Services{
		ScopeStore:    store.ScopeStore(),
		SourceFactory: factory,
	}

	// The pipeline needs an enricher and a sink. Without their config the
	// scope and version commands still work; sync reports not configured.
	enricher := buildEnricher(cfg)
	sink := buildSink(cfg)
	if enricher != nil && sink != nil {
		policy := services.NewDefaultPolicy(cfg.GetFloat("policy.min_confidence"))
		runner := services.NewOrchestrator(
			store.ScopeStore(),
			store.StateStore(),
			factory,
			enricher,
			policy,
			sink,
			cfg.GetInt("sync.batch_size"),
			cfg.GetInt("sync.max_concurrent"),
		)
		svc.SyncRunner = runner
		svc.Scheduler = services.NewScheduler(schedulerConfig(cfg), store.SchedulerStore(), runner)
	}

	cli.SetServices(svc)
	return cli.Execute()
}

// buildSourceFactory registers all supported source types.
func buildSourceFactory(cfg *file.ConfigStore) *services.SourceFactory {
	factory := services.NewSourceFactory()
	factory.Register("filesystem", filesystem.NewFromScope)
	factory.Register("figma", figma.NewFromScope)

	factory.Register("drive", func(ctx context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
		ts, err := googleTokenSource(cfg)
		if err != nil {
			return nil, err
		}
		svc, err := google.NewDriveService(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to create drive service: %w", err)
		}
		return drive.NewSource(svc, drive.ParseConfig(scope)), nil
	})

	factory.Register("gmail", func(ctx context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
		ts, err := googleTokenSource(cfg)
		if err != nil {
			return nil, err
		}
		svc, err := google.NewGmailService(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to create gmail service: %w", err)
		}
		return gmail.NewSource(svc, gmail.ParseConfig(scope)), nil
	})

	return factory
}

// googleTokenSource builds a static token source from config.
// Interactive OAuth flows are out of scope; tokens are provisioned
// externally and stored in the config file.
func googleTokenSource(cfg *file.ConfigStore) (oauth2.TokenSource, error) {
	accessToken := cfg.GetString("google.access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("google.access_token not set in config: %w", domain.ErrConfiguration)
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}), nil
}

func buildEnricher(cfg *file.ConfigStore) driven.Enricher {
	apiKey := cfg.GetString("anthropic.api_key")
	if apiKey == "" {
		logger.Debug("anthropic.api_key not set, sync disabled")
		return nil
	}

	enricher, err := anthropic.NewEnricher(anthropic.Config{
		APIKey:            apiKey,
		BaseURL:           cfg.GetString("anthropic.base_url"),
		Model:             cfg.GetString("anthropic.model"),
		RequestsPerSecond: cfg.GetFloat("anthropic.requests_per_second"),
	})
	if err != nil {
		logger.Warn("failed to create enricher: %v", err)
		return nil
	}
	return enricher
}

func buildSink(cfg *file.ConfigStore) driven.IndexSink {
	endpoint := cfg.GetString("vertex.endpoint")
	accessToken := cfg.GetString("vertex.access_token")
	if endpoint == "" || accessToken == "" {
		logger.Debug("vertex endpoint or token not set, sync disabled")
		return nil
	}

	sink, err := vertex.NewSink(vertex.Config{
		Endpoint:    endpoint,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	})
	if err != nil {
		logger.Warn("failed to create sink: %v", err)
		return nil
	}
	return sink
}

// schedulerConfig reads scheduler settings from config, falling back to
// defaults for anything unset.
func schedulerConfig(cfg *file.ConfigStore) domain.SchedulerConfig {
	config := domain.DefaultSchedulerConfig()
	if cfg.GetBool("scheduler.disabled") {
		config.Enabled = false
	}
	if interval := cfg.GetInt("scheduler.sync_interval_minutes"); interval > 0 {
		config.TaskConfigs[domain.TaskIDScopeSync] = domain.TaskConfig{
			Enabled:  true,
			Interval: time.Duration(interval) * time.Minute,
		}
	}
	return config
}
