package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/database"
	"github.com/autodevhq/fleet-orchestrator/internal/forge"
	"github.com/autodevhq/fleet-orchestrator/internal/notify"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/ratelimit"
	"github.com/autodevhq/fleet-orchestrator/internal/runner"
	"github.com/autodevhq/fleet-orchestrator/internal/scheduler"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/internal/webhook"
)

var gatewayPort int
var gatewayLogDir string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the fleet orchestrator gateway daemon",
	Long: `Starts the gateway: a long-running daemon combining the webhook
router, the cron scheduler, and every configured agent-type's
supervision loop in one process.

  GET  /webhook/health                liveness check for the webhook router
  POST /webhook/{provider}            inbound forge webhook (GitLab only;
                                      other providers get 400)
  POST /webhook/{provider}/{repo_id}  legacy form of the same; repo_id is
                                      ignored, the repo comes from the payload

Every entry in the config's "agents" map gets its own runner goroutine,
each claiming only the task types it's configured for.`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().IntVar(&gatewayPort, "port", 0,
		"HTTP port to listen on (default 6080, overrides config)")
	gatewayCmd.Flags().StringVar(&gatewayLogDir, "log-dir", "logs",
		"directory to write gateway/runner logs for later inspection")
}

func runGateway(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gateway gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logFilePath, closeLog, err := setupGatewayFileLogger(gatewayLogDir)
	if err != nil {
		return fmt.Errorf("initialising gateway logger: %w", err)
	}
	defer closeLog()

	if gatewayPort > 0 {
		cfg.Gateway.Port = gatewayPort
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 6080
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	st := store.New(db)

	var notifier orchestrator.Notifier
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		rn, err := orchestrator.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis_url: %w", err)
		}
		notifier = rn
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			redisClient = redis.NewClient(opts)
		}
	}

	abandonTimeout, err := time.ParseDuration(cfg.Orchestrator.TaskAbandonTimeout)
	if err != nil || abandonTimeout <= 0 {
		abandonTimeout = 2 * time.Hour
	}

	dispatcher := notify.NewDispatcher(cfg.Notify)
	orch := orchestrator.New(st, orchestrator.Options{
		AbandonTimeout: abandonTimeout,
		Notifier:       notifier,
		Notify:         dispatcher,
	})

	forges := forge.NewRegistry(cfg.Git)

	rlPath := filepath.Join(configDirOrFallback(), "ratelimit.json")
	rl := ratelimit.New(rlPath)
	reflector := runner.NewReflector(os.Getenv("REFLECTIONS_URL"))

	handler := webhook.New(st, orch, cfg.WebhookTriggers, cfg.Gateway.WebhookSecret)
	router := mux.NewRouter()
	handler.Register(router)

	sched := scheduler.New(st, orch, forges, cfg.Scheduling, cfg.Product)

	var wg sync.WaitGroup
	for agentID, def := range cfg.Agents {
		agentID, def := agentID, def
		r := runner.New(st, orch, rl, reflector, runner.Options{
			AgentID:             agentID,
			AgentDef:            def,
			Watcher:             cfg.Watcher,
			Tokens:              cfg.Tokens,
			LLM:                 cfg.LLM,
			MaxConcurrentAgents: cfg.Orchestrator.MaxConcurrentAgents,
			WorkingDir:          filepath.Join(configDirOrFallback(), "projects", agentID),
			StatusDir:           filepath.Join(configDirOrFallback(), "status"),
			Redis:               redisClient,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				slog.Error("gateway: runner exited with error", "agent_id", agentID, "error", err)
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Gateway.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	fmt.Printf("fleetctl gateway starting\n")
	fmt.Printf("  Agents     : %d configured\n", len(cfg.Agents))
	fmt.Printf("  Webhooks   : http://127.0.0.1:%d/webhook/{provider}\n", cfg.Gateway.Port)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: webhook server exited", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	wg.Wait()
	return nil
}

func configDirOrFallback() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, config.DefaultConfigDir)
}

func setupGatewayFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("gateway-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "gateway.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
