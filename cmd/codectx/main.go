// Command codectx serves semantic code search over git repositories through
// the MCP tool protocol, on stdio and/or HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codectx-dev/codectx/internal/collection"
	"github.com/codectx-dev/codectx/internal/config"
	"github.com/codectx-dev/codectx/internal/embedding"
	"github.com/codectx-dev/codectx/internal/gitutil"
	"github.com/codectx-dev/codectx/internal/identity"
	"github.com/codectx-dev/codectx/internal/indexer"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/registry"
	"github.com/codectx-dev/codectx/internal/search"
	"github.com/codectx-dev/codectx/internal/server"
	"github.com/codectx-dev/codectx/internal/snapshot"
	"github.com/codectx-dev/codectx/internal/splitter"
	"github.com/codectx-dev/codectx/internal/syncer"
	"github.com/codectx-dev/codectx/internal/tools"
	"github.com/codectx-dev/codectx/internal/version"
	"github.com/codectx-dev/codectx/internal/vectorstore"
)

const (
	exitRuntimeError = 1
	exitConfigError  = 2
)

func main() {
	var (
		flagTransport string
		flagPort      int
		flagConfig    string
		flagLogLevel  string
		flagLogFile   string
	)

	root := &cobra.Command{
		Use:     "codectx",
		Short:   "Semantic code search MCP server",
		Version: version.Get(),
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional convenience, real config comes from the
			// environment
			_ = godotenv.Load()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = config.Transport(flagTransport)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = flagPort
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-file") {
				cfg.LogFile = flagLogFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVar(&flagTransport, "transport", string(config.TransportStdio), "transport to serve: stdio, http or both")
	root.Flags().IntVar(&flagPort, "port", 3100, "HTTP port (env MCP_PORT)")
	root.Flags().StringVar(&flagConfig, "config", "", "optional YAML config file")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.Flags().StringVar(&flagLogFile, "log-file", "", "log file path (default stderr)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cfgErr *config.ErrConfig
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitRuntimeError)
	}
}

func run(cfg *config.Config) error {
	log, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("cannot initialize logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	log.Info("codectx starting", "version", version.Get(), "transport", cfg.Transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Git plumbing and identity resolution.
	git := gitutil.NewRunner(log, cfg.GitTimeout)
	resolver := identity.NewResolver(git)

	// Snapshot + registry. The snapshot store is the sole persistence
	// backend; the registry is the in-memory index rebuilt from it.
	snapStore := snapshot.NewStore(cfg.SnapshotPath(), func(ctx context.Context, path string) identity.RepoIdentity {
		return resolver.Resolve(ctx, path, identity.DefaultOptions())
	}, log)
	reg := registry.New(snapStore.Load(ctx), resolver, snapStore, log)
	log.Info("registry loaded", "repositories", reg.Size())

	// External collaborators.
	store, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Hybrid:     cfg.HybridMode,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.QdrantTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	embedder := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	})

	// Collection naming and the legacy-name migration.
	namer := collection.Namer{Hybrid: cfg.HybridMode}
	migrations := collection.NewMigrationStore(cfg.MigrationPath(), log)
	if err := migrations.MigrateAll(ctx, store); err != nil {
		log.Warn("collection migration incomplete", "err", err)
	}

	// Pipeline, engine, tools.
	ix := indexer.New(splitter.NewLineSplitter(), embedder, store, cfg.HybridMode, log)
	engine := search.NewEngine(reg, store, embedder, cfg.HybridMode, log)
	svc := tools.NewService(cfg, log, reg, resolver, git, namer, migrations, store, ix, engine)

	// Background sync.
	syncLoop := syncer.New(reg, ix, syncer.NewGitDetector(git), cfg.SyncInterval, log)
	syncLoop.Start(ctx, cfg.SyncWatch)

	// Transports. Each gets its own MCP server instance over the shared
	// Service; framing and session negotiation live in the protocol library.
	var sessionCount atomic.Int64
	errCh := make(chan error, 2)

	var httpTransport *server.HTTP
	if cfg.HTTPEnabled() {
		mcpSrv := server.NewMCPServer(log, &sessionCount)
		tools.RegisterAll(mcpSrv, svc)
		httpTransport = server.NewHTTP(cfg, mcpSrv, &sessionCount, log)
		go func() { errCh <- httpTransport.Start() }()
	}
	if cfg.StdioEnabled() {
		mcpSrv := server.NewMCPServer(log, &sessionCount)
		tools.RegisterAll(mcpSrv, svc)
		go func() { errCh <- server.ServeStdio(ctx, mcpSrv, log) }()
	}

	// First signal: graceful shutdown. Second signal: immediate exit.
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("transport failed", "err", err)
			return err
		}
		log.Info("transport closed, shutting down")
	}

	go func() {
		sig := <-quit
		log.Warn("forced exit", "signal", sig.String())
		os.Exit(exitRuntimeError)
	}()

	cancel()
	syncLoop.Stop()

	if httpTransport != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpTransport.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "err", err)
		}
	}

	if err := reg.Persist(); err != nil {
		log.Error("final snapshot persist failed", "err", err)
	}

	log.Info("codectx stopped")
	return nil
}
