package cmd

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/database"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify storage, forge credentials, and provider CLIs",
	Long: `Checks that the configured database can be reached, at least one
forge credential is set, Redis (if configured) answers, and every
provider referenced by the agents map has its CLI on PATH.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== fleetctl doctor ===")
	fmt.Println()

	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s: %s)\n", db.Driver(), cfg.Database.Path)
		}
		db.Close()
	}

	fmt.Print("Redis ..................... ")
	switch {
	case cfg.RedisURL == "":
		fmt.Println("not configured (enable-flag gating and advisory notifications disabled)")
	default:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			client := redis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				fmt.Printf("FAIL (%s)\n", err)
				allOK = false
			} else {
				fmt.Println("OK")
			}
			_ = client.Close()
		}
	}

	fmt.Print("GitHub credentials ........ ")
	if len(cfg.Git.GitHub) == 0 || cfg.Git.GitHub[0].Token == "" {
		fmt.Println("not configured")
	} else {
		fmt.Printf("OK (%s)\n", orDefault(cfg.Git.GitHub[0].Host, "github.com"))
	}

	fmt.Print("GitLab credentials ........ ")
	if len(cfg.Git.GitLab) == 0 || cfg.Git.GitLab[0].Token == "" {
		fmt.Println("not configured")
	} else {
		fmt.Printf("OK (%s)\n", orDefault(cfg.Git.GitLab[0].Host, "gitlab.com"))
	}

	if len(cfg.Git.GitHub) == 0 && len(cfg.Git.GitLab) == 0 {
		fmt.Println("WARN: no forge credentials configured at all — the webhook router and scheduler cannot reach any repo")
		allOK = false
	}

	fmt.Println()
	fmt.Println("Configured agents:")
	if len(cfg.Agents) == 0 {
		fmt.Println("  (none — add entries under \"agents\" in the config)")
		allOK = false
	}
	for id, def := range cfg.Agents {
		provider := def.Provider
		if provider == "" {
			provider = cfg.LLM.DefaultProvider
		}
		if provider == "" {
			provider = "claude"
		}
		providerCfg := cfg.LLM.Providers[provider]
		command := providerCfg.Command
		if command == "" {
			command = provider
		}
		fmt.Printf("  %-16s provider=%-10s cli=", id, provider)
		if _, err := exec.LookPath(command); err != nil {
			fmt.Printf("MISSING (%s not on PATH)\n", command)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", command)
		}
		if def.PromptFile == "" {
			fmt.Printf("    WARN: no prompt_file configured for %s\n", id)
			allOK = false
		}
	}

	fmt.Println()
	if allOK {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed — see warnings above.")
	}

	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
