package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"certgate/internal/arbiter"
	"certgate/internal/config"
	"certgate/internal/gateway"
	"certgate/internal/health"
	"certgate/internal/logging"
	"certgate/internal/pipeline"
	"certgate/internal/provider"
	"certgate/internal/review"
	"certgate/internal/store"
)

var (
	configPath string
	verbose    bool

	// exitCode is set by commands that finish cleanly but need a nonzero
	// exit (certify on rejection). Deferred cleanup must run before the
	// process exits, so commands never call os.Exit themselves.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "certgate",
	Short: "certgate - provider failover and certification gateway",
	Long: `certgate routes a generation request across interchangeable LLM
providers with quota-aware failover, then certifies the output through a
parallel multi-reviewer quorum and a binding arbiter before release.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "certgate.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(certifyCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the certgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("certgate 0.3.0")
	},
}

// app bundles everything a command needs after wiring.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	audit    *store.Audit // nil when auditing is disabled
}

func (a *app) close() {
	if a.audit != nil {
		_ = a.audit.Close()
	}
}

// buildApp wires the pipeline from configuration: health store, provider
// clients, failover gateway, reviewer pool, arbiter, and audit store.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Init(logging.Options{Level: level, Development: cfg.Logging.Development}); err != nil {
		return nil, err
	}

	limits := make(map[string]health.Limits, len(cfg.Providers))
	identities := make([]provider.Identity, 0, len(cfg.Providers))
	clients := make(map[string]provider.Client, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		limits[pc.Name] = pc.Limits()
		identities = append(identities, pc.Identity())
		client, err := provider.NewClient(ctx, pc.Client.ToProvider(pc.Name))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		clients[pc.Name] = client
	}

	healthStore := health.NewStore(limits)
	selector := gateway.NewSelector(identities, healthStore)
	gw := gateway.New(selector, healthStore, clients, gateway.Config{
		TransientRetries: cfg.Pipeline.TransientRetries,
		CallTimeout:      cfg.Pipeline.CallTimeoutDuration(),
	})

	reviewers := make([]review.Reviewer, 0, len(cfg.Reviewers))
	for _, rc := range cfg.Reviewers {
		client, err := provider.NewClient(ctx, rc.Client.ToProvider(rc.ID))
		if err != nil {
			return nil, fmt.Errorf("reviewer %s: %w", rc.ID, err)
		}
		reviewers = append(reviewers, review.Reviewer{ID: rc.ID, Client: client})
	}
	pool := review.NewPool(reviewers, review.PoolConfig{
		ReviewTimeout: cfg.Pipeline.ReviewTimeoutDuration(),
	})

	arbiterClient, err := provider.NewClient(ctx, cfg.Arbiter.Client.ToProvider(cfg.Arbiter.ID))
	if err != nil {
		return nil, fmt.Errorf("arbiter %s: %w", cfg.Arbiter.ID, err)
	}
	gate := arbiter.NewGate(cfg.Arbiter.ID, arbiterClient, cfg.Arbiter.AdjudicationTimeout())

	var audit *store.Audit
	if cfg.Store.Enabled {
		audit, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
	}

	var auditor pipeline.Auditor
	if audit != nil {
		auditor = audit
	}
	pipe := pipeline.New(gw, pool, gate, healthStore, auditor, pipeline.Config{
		SkipArbiterOnFailedQuorum: cfg.Pipeline.SkipArbiterOnFailedQuorum,
		Deadline:                  cfg.Pipeline.DeadlineDuration(),
	})

	return &app{cfg: cfg, pipeline: pipe, audit: audit}, nil
}

// pipelineConfigFrom converts yaml tunables for hot reload.
func pipelineConfigFrom(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SkipArbiterOnFailedQuorum: cfg.Pipeline.SkipArbiterOnFailedQuorum,
		Deadline:                  cfg.Pipeline.DeadlineDuration(),
	}
}

// shortTime renders a timestamp for tables, "-" for zero.
func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
