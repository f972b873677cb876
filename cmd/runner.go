package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/database"
	"github.com/autodevhq/fleet-orchestrator/internal/notify"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/ratelimit"
	"github.com/autodevhq/fleet-orchestrator/internal/runner"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
)

var runnerAgentID string

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run a single agent-type's supervision loop standalone",
	Long: `Runs one agent-type's claim/spawn/report loop in the foreground —
useful for running each agent type as its own container or systemd unit
instead of bundling every agent into one gateway process.`,
	RunE: runRunner,
}

func init() {
	runnerCmd.Flags().StringVar(&runnerAgentID, "agent", "",
		"agent id to run (must be a key in the config's agents map)")
	_ = runnerCmd.MarkFlagRequired("agent")
}

func runRunner(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down runner gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	def, ok := cfg.Agents[runnerAgentID]
	if !ok {
		return fmt.Errorf("no agent %q configured (check %q's agents map)", runnerAgentID, cfgFile)
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

	orch := orchestrator.New(st, orchestrator.Options{
		AbandonTimeout: abandonTimeout,
		Notifier:       notifier,
		Notify:         notify.NewDispatcher(cfg.Notify),
	})

	rl := ratelimit.New(filepath.Join(configDirOrFallback(), "ratelimit.json"))
	reflector := runner.NewReflector(os.Getenv("REFLECTIONS_URL"))

	r := runner.New(st, orch, rl, reflector, runner.Options{
		AgentID:             runnerAgentID,
		AgentDef:            def,
		Watcher:             cfg.Watcher,
		Tokens:              cfg.Tokens,
		LLM:                 cfg.LLM,
		MaxConcurrentAgents: cfg.Orchestrator.MaxConcurrentAgents,
		WorkingDir:          filepath.Join(configDirOrFallback(), "projects", runnerAgentID),
		StatusDir:           filepath.Join(configDirOrFallback(), "status"),
		Redis:               redisClient,
	})

	fmt.Printf("fleetctl runner starting: agent=%s\n", runnerAgentID)
	return r.Run(ctx)
}
