package repository

import (
	"context"
	"fmt"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/CosmoTheDev/deltascan/internal/config"
)

// GitHubProvider implements Provider for GitHub and GitHub Enterprise.
type GitHubProvider struct {
	client *gogithub.Client
}

// NewGitHub creates a GitHubProvider from the given configuration.
func NewGitHub(cfg config.GitHubConfig) (*GitHubProvider, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := gogithub.NewClient(tc)

	// Support GitHub Enterprise by overriding the base URL.
	if cfg.Host != "" && cfg.Host != "github.com" {
		base := fmt.Sprintf("https://%s/api/v3/", cfg.Host)
		upload := fmt.Sprintf("https://%s/api/uploads/", cfg.Host)
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub enterprise URLs: %w", err)
		}
	}

	return &GitHubProvider{client: client}, nil
}

func (g *GitHubProvider) Name() string      { return "github" }
func (g *GitHubProvider) CloneUser() string { return "x-access-token" }

func (g *GitHubProvider) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("getting GitHub repo %s/%s: %w", owner, name, err)
	}
	return r.GetDefaultBranch(), nil
}
