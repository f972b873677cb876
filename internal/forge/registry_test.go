package forge

import (
	"testing"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/models"
)

func TestClientForBuildsGitHubClientFromSoleCredential(t *testing.T) {
	r := NewRegistry(config.GitConfig{GitHub: []config.GitHubConfig{{Token: "tok"}}})
	repo := &models.Repo{Provider: models.ProviderGitHub}
	c, err := r.ClientFor(repo)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a client")
	}
}

func TestClientForCachesByProviderAndHost(t *testing.T) {
	r := NewRegistry(config.GitConfig{GitHub: []config.GitHubConfig{{Token: "tok"}}})
	repo := &models.Repo{Provider: models.ProviderGitHub}
	first, err := r.ClientFor(repo)
	if err != nil {
		t.Fatalf("ClientFor first: %v", err)
	}
	second, err := r.ClientFor(repo)
	if err != nil {
		t.Fatalf("ClientFor second: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same cached client instance for repeat calls")
	}
}

func TestClientForMultipleGitHubCredentialsRequiresHostMatch(t *testing.T) {
	r := NewRegistry(config.GitConfig{GitHub: []config.GitHubConfig{
		{Token: "tok-a", Host: "github.example.com"},
		{Token: "tok-b", Host: "github.other.com"},
	}})
	repo := &models.Repo{Provider: models.ProviderGitHub, ForgeBaseURL: "github.nowhere.com"}
	if _, err := r.ClientFor(repo); err == nil {
		t.Fatalf("expected an error when no configured host matches and more than one credential exists")
	}

	matching := &models.Repo{Provider: models.ProviderGitHub, ForgeBaseURL: "github.example.com"}
	if _, err := r.ClientFor(matching); err != nil {
		t.Fatalf("expected the matching host credential to resolve, got %v", err)
	}
}

func TestClientForUnsupportedProviderErrors(t *testing.T) {
	r := NewRegistry(config.GitConfig{})
	repo := &models.Repo{Provider: models.Provider("bitbucket")}
	if _, err := r.ClientFor(repo); err == nil {
		t.Fatalf("expected an error for an unsupported provider")
	}
}

func TestClientForGitLabNoCredentialsErrors(t *testing.T) {
	r := NewRegistry(config.GitConfig{})
	repo := &models.Repo{Provider: models.ProviderGitLab}
	if _, err := r.ClientFor(repo); err == nil {
		t.Fatalf("expected an error when no gitlab credentials are configured")
	}
}
