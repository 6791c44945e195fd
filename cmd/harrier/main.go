// Harrier - Corridor-adaptive fraud scoring for cross-border payments.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corridorsec/harrier/internal/api"
	"github.com/corridorsec/harrier/internal/bus"
	"github.com/corridorsec/harrier/internal/cache"
	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/features"
	"github.com/corridorsec/harrier/internal/history"
	"github.com/corridorsec/harrier/internal/infra"
	"github.com/corridorsec/harrier/internal/monitor"
	"github.com/corridorsec/harrier/internal/policy"
	"github.com/corridorsec/harrier/internal/profile"
	"github.com/corridorsec/harrier/internal/repository"
	"github.com/corridorsec/harrier/internal/scoring"
	"github.com/corridorsec/harrier/internal/weights"
	"github.com/corridorsec/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for distributed mode via environment
	if os.Getenv("HARRIER_MODE") == "distributed" {
		cfg = domain.ProConfig()
		slog.Info("running in distributed mode")
	}

	if url := os.Getenv("HARRIER_SENDER_HISTORY_URL"); url != "" {
		cfg.Collaborators.SenderHistoryURL = url
	}
	if url := os.Getenv("HARRIER_INFRA_FEED_URL"); url != "" {
		cfg.Collaborators.InfraFeedURL = url
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load profile snapshot from storage
	profiles, err := profile.Load(ctx, repo, cfg.Scoring.SimilarityFloor)
	if err != nil {
		slog.Error("failed to load profile snapshot", "error", err)
		os.Exit(1)
	}

	// Sender history: remote service when configured, repository mirror
	// otherwise
	var historySvc domain.SenderHistoryService
	if cfg.Collaborators.SenderHistoryURL != "" {
		historySvc = history.NewHTTPService(cfg.Collaborators.SenderHistoryURL, cfg.Collaborators)
		slog.Info("sender history service initialized", "mode", "http")
	} else {
		historySvc = history.NewRepositoryService(repo)
		slog.Info("sender history service initialized", "mode", "repository")
	}

	// Velocity counters live in the cache
	velocityCounter := history.NewVelocityCounter(cacheImpl)

	// Feature extractor
	extractor := features.New(historySvc, velocityCounter.Count, cfg.Scoring.Defaults, cfg.Scoring.LookupTimeout)

	// Infrastructure health monitor
	var feed domain.InfrastructureStatusFeed
	if cfg.Collaborators.InfraFeedURL != "" {
		feed = infra.NewHTTPFeed(cfg.Collaborators.InfraFeedURL, cfg.Collaborators)
		slog.Info("infrastructure feed initialized", "mode", "http")
	} else {
		feed = infra.StaticFeed{}
		slog.Info("infrastructure feed initialized", "mode", "static")
	}
	infraMonitor := infra.New(feed, cacheImpl, cfg.Scoring)

	// Policy override engine
	policies, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	if err := policies.Reload(ctx, repo); err != nil {
		slog.Warn("failed to load policy rules, starting with none", "error", err)
	}
	slog.Info("policy engine initialized", "rules_count", policies.RuleCount())

	// Scoring engine
	adjuster := weights.New(cfg.Scoring.BaseWeights)
	baselines := repository.NewBaselineStore(repo)
	engine := scoring.New(profiles, extractor, adjuster, infraMonitor, baselines, cfg.Scoring, policies)
	slog.Info("scoring engine initialized", "corridors", len(profiles.Corridors()))

	// Monitoring sinks
	sink := monitor.NewMultiSink(
		monitor.NewPrometheusSink(),
		monitor.NewBusSink(busImpl),
	)

	// Async scoring worker
	var asyncWorker *worker.Worker
	if cfg.EventBus.Type == "nats" || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.New(busImpl, repo, engine, velocityCounter, sink)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, engine, profiles, policies, repo, cacheImpl, busImpl, sink, velocityCounter, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║   Corridor-Adaptive Fraud Scoring         ║")
	fmt.Println("  ║   Every corridor has its own normal.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                        - Score a transaction")
	fmt.Println("    POST /score/async                  - Queue a transaction for scoring")
	fmt.Println("    GET  /results/{id}                 - Get score result by ID")
	fmt.Println("    GET  /profiles                     - List corridor profiles")
	fmt.Println("    GET  /profiles/{corridor}          - Resolve a corridor profile")
	fmt.Println("    GET  /profiles/{corridor}/versions - Profile version history")
	fmt.Println("    POST /profiles                     - Publish a profile version")
	fmt.Println("    POST /profiles/reload              - Reload the profile snapshot")
	fmt.Println("    GET  /policies                     - List policy override rules")
	fmt.Println("    POST /policies                     - Create a policy override rule")
	fmt.Println("    POST /policies/reload              - Hot-reload policy rules")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
