package forge

import (
	"fmt"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/models"
)

// Registry builds and caches one Client per (provider, base URL) pair
// so every repo sharing a forge instance reuses a single SDK client.
// Keying on the repo's own ForgeBaseURL (rather than a single global
// provider choice) lets several orgs on several hosts share one
// Registry.
type Registry struct {
	cfg     config.GitConfig
	clients map[string]Client
}

// NewRegistry builds an empty Registry over cfg.
func NewRegistry(cfg config.GitConfig) *Registry {
	return &Registry{cfg: cfg, clients: make(map[string]Client)}
}

// ClientFor returns (creating and caching, if needed) the Client for repo.
func (r *Registry) ClientFor(repo *models.Repo) (Client, error) {
	key := string(repo.Provider) + "|" + repo.ForgeBaseURL
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.build(repo)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

func (r *Registry) build(repo *models.Repo) (Client, error) {
	switch repo.Provider {
	case models.ProviderGitHub:
		token, err := r.githubToken(repo.ForgeBaseURL)
		if err != nil {
			return nil, err
		}
		return NewGitHubClient(token), nil
	case models.ProviderGitLab:
		token, err := r.gitlabToken(repo.ForgeBaseURL)
		if err != nil {
			return nil, err
		}
		return NewGitLabClient(token, repo.ForgeBaseURL)
	default:
		return nil, fmt.Errorf("forge: unsupported provider %q", repo.Provider)
	}
}

func (r *Registry) githubToken(host string) (string, error) {
	for _, gh := range r.cfg.GitHub {
		if gh.Host == host || (host == "" && gh.Host == "") {
			return gh.Token, nil
		}
	}
	if len(r.cfg.GitHub) == 1 {
		return r.cfg.GitHub[0].Token, nil
	}
	return "", fmt.Errorf("forge: no github credentials configured for host %q", host)
}

func (r *Registry) gitlabToken(host string) (string, error) {
	for _, gl := range r.cfg.GitLab {
		if gl.Host == host || (host == "" && gl.Host == "") {
			return gl.Token, nil
		}
	}
	if len(r.cfg.GitLab) == 1 {
		return r.cfg.GitLab[0].Token, nil
	}
	return "", fmt.Errorf("forge: no gitlab credentials configured for host %q", host)
}
