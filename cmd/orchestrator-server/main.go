// Command orchestrator-server is the process entry point: it wires every
// component (storage, workspace manager, session factory, turn pipeline)
// behind a gin HTTP server and a cobra CLI, in the teacher's
// cmd/cobra_cli.go shape (root command + persistent flags + subcommands)
// generalized to a server process instead of an interactive CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"orchestrator/internal/agentgraph"
	"orchestrator/internal/config"
	"orchestrator/internal/logging"
	"orchestrator/internal/mcp"
	"orchestrator/internal/observability"
	"orchestrator/internal/pricing"
	"orchestrator/internal/sandbox"
	"orchestrator/internal/session"
	"orchestrator/internal/storage"
	"orchestrator/internal/turnpipeline"
	"orchestrator/internal/workspace"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrator-server",
		Short: "Workspace-scoped agent turn orchestrator",
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
	config.BindServeFlags(serve)

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the repository schema and exit",
		RunE:  runMigrate,
	}

	root.AddCommand(serve, migrate)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := storage.NewPool(ctx, cfg.StorageDB())
	if err != nil {
		return fmt.Errorf("orchestrator-server: connect db: %w", err)
	}
	defer pool.Close()
	return storage.EnsureSchema(ctx, pool)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logging.Configure(cfg.LogLevelParsed(), os.Stderr)
	logger := logging.NewComponentLogger("orchestrator-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.InitTracing(ctx, cfg.TracingSettings()); err != nil {
		return fmt.Errorf("orchestrator-server: init tracing: %w", err)
	}
	metricsHandler, err := observability.InitMetrics(cfg.MetricsSettings())
	if err != nil {
		return fmt.Errorf("orchestrator-server: init metrics: %w", err)
	}

	pool, err := storage.NewPool(ctx, cfg.StorageDB())
	if err != nil {
		return fmt.Errorf("orchestrator-server: connect db: %w", err)
	}
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("orchestrator-server: ensure schema: %w", err)
	}

	workspaceRepo := storage.NewWorkspaceRepo(pool)
	turnRepo := storage.NewTurnRepo(pool)

	mcpServers, err := cfg.MCPServerConfigs()
	if err != nil {
		return fmt.Errorf("orchestrator-server: mcp server config: %w", err)
	}
	mcpServerPtrs := make([]*mcp.ServerConfig, len(mcpServers))
	for i := range mcpServers {
		mcpServerPtrs[i] = &mcpServers[i]
	}

	sandboxBaseURL, sandboxAPIKey := cfg.SandboxProviderConfig()
	provider := sandbox.NewSDKProvider(sandboxBaseURL, sandboxAPIKey)

	sessionFactory := func(workspaceID string) *session.Session {
		return session.New(workspaceID, session.CoreConfig{
			MCPServers:   mcpServerPtrs,
			SnapshotBase: "orchestrator",
			SkillsBase:   "/var/lib/orchestrator/skills",
			SkillRoots:   []string{"/etc/orchestrator/skills", "/var/lib/orchestrator/skills"},
		}, provider, logger.With("session"))
	}

	manager, err := workspace.NewManager(workspaceRepo, sessionFactory, cfg.WorkspaceManagerConfig(), logger.With("workspace"))
	if err != nil {
		return fmt.Errorf("orchestrator-server: new workspace manager: %w", err)
	}
	manager.StartEvictionWorker(ctx)

	tracker := pricing.NewTracker()
	checkpoints := turnpipeline.NewCheckpoints()
	graphFactory := func(sess *session.Session) agentgraph.Graph { return agentgraph.EchoGraph{} }
	handler := turnpipeline.NewHandler(manager, turnRepo, graphFactory, checkpoints, []string{"/etc/orchestrator/skills", "/var/lib/orchestrator/skills"}, tracker, logger.With("turnpipeline"))

	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.Register(engine)
	if metricsHandler != nil {
		metricsPath := cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		engine.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	addr := cfg.Server.Addr
	if v, _ := cmd.Flags().GetString("server-addr"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// The Workspace Manager's eviction worker exits once ctx is cancelled:
	// by the signal above, or by the deferred stop() on return. Tracing and
	// metrics are flushed first; the DB pool closes last.
	_ = observability.ShutdownTracing(shutdownCtx)
	_ = observability.ShutdownMetrics(shutdownCtx)
	pool.Close()

	return nil
}
