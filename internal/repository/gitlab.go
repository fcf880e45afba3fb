package repository

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/CosmoTheDev/deltascan/internal/config"
)

// GitLabProvider implements Provider for GitLab (cloud and self-hosted).
type GitLabProvider struct {
	client *gitlab.Client
}

// NewGitLab creates a GitLabProvider from the given configuration.
func NewGitLab(cfg config.GitLabConfig) (*GitLabProvider, error) {
	opts := []gitlab.ClientOptionFunc{}
	if cfg.Host != "" && cfg.Host != "gitlab.com" {
		base := fmt.Sprintf("https://%s/api/v4/", cfg.Host)
		opts = append(opts, gitlab.WithBaseURL(base))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}

	return &GitLabProvider{client: client}, nil
}

func (g *GitLabProvider) Name() string      { return "gitlab" }
func (g *GitLabProvider) CloneUser() string { return "oauth2" }

func (g *GitLabProvider) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	nameWithNS := owner + "/" + name
	proj, _, err := g.client.Projects.GetProject(nameWithNS, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("getting GitLab project %s: %w", nameWithNS, err)
	}
	return proj.DefaultBranch, nil
}
