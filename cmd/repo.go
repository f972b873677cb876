package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/database"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage the fleet's repository portfolio",
	Long:  `Add, deactivate, and list repositories the fleet orchestrates.`,
}

var repoProvider string
var repoProjectRef string
var repoBranch string

var repoAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Register a repository with the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		slug := args[0]
		if repoProjectRef == "" {
			repoProjectRef = slug
		}

		existing, err := st.RepoBySlug(cmd.Context(), slug)
		if err != nil {
			return fmt.Errorf("checking existing repo: %w", err)
		}
		if existing != nil {
			fmt.Printf("%s is already registered (id=%d)\n", slug, existing.ID)
			return nil
		}

		repo := &models.Repo{
			Name:          slug,
			Provider:      models.Provider(repoProvider),
			ProjectRef:    repoProjectRef,
			Slug:          slug,
			DefaultBranch: repoBranch,
		}
		created, err := st.CreateRepo(cmd.Context(), repo)
		if err != nil {
			return fmt.Errorf("creating repo: %w", err)
		}
		fmt.Printf("Added %s (id=%d, provider=%s)\n", slug, created.ID, created.Provider)
		return nil
	},
}

var repoDeactivateCmd = &cobra.Command{
	Use:   "deactivate <slug>",
	Short: "Stop routing webhooks/scheduling to a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		repo, err := st.RepoBySlug(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if repo == nil {
			fmt.Printf("%s is not registered\n", args[0])
			return nil
		}
		if err := st.SetRepoActive(cmd.Context(), repo.ID, false); err != nil {
			return err
		}
		fmt.Printf("Deactivated %s\n", args[0])
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		repos, err := st.ActiveRepos(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No active repositories. Add one with: fleetctl repo add <slug>")
			return nil
		}
		for _, r := range repos {
			fmt.Printf("  %-30s %-8s %s (%s)\n", r.Slug, r.Provider, r.ProjectRef, r.AutonomyMode)
		}
		return nil
	},
}

func init() {
	repoAddCmd.Flags().StringVar(&repoProvider, "provider", "github", "forge provider (github or gitlab)")
	repoAddCmd.Flags().StringVar(&repoProjectRef, "project-ref", "", "provider-native project ref (defaults to the slug)")
	repoAddCmd.Flags().StringVar(&repoBranch, "default-branch", "main", "default branch for PRs/MRs")
	repoCmd.AddCommand(repoAddCmd, repoDeactivateCmd, repoListCmd)
}

// openStore opens the configured database and wraps it as a Store,
// returning a close func the caller must defer.
func openStore() (store.Store, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return store.New(db), func() { _ = db.Close() }, nil
}
