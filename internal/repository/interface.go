// Package repository resolves facts about source repositories from their
// hosting platform or, without credentials, from git itself.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/CosmoTheDev/deltascan/internal/config"
)

// Provider abstracts the hosting platform API.
// Implementations: GitHub, GitLab.
type Provider interface {
	// Name identifies the provider ("github", "gitlab").
	Name() string

	// DefaultBranch returns the default branch of owner/name.
	DefaultBranch(ctx context.Context, owner, name string) (string, error)

	// CloneUser is the user name paired with the token in clone URLs.
	CloneUser() string
}

// DetectProvider infers the hosting platform from the host of repoURL.
func DetectProvider(repoURL string) (string, error) {
	host := hostOf(repoURL)
	lower := strings.ToLower(host)
	switch {
	case strings.Contains(lower, "github."):
		return "github", nil
	case strings.Contains(lower, "gitlab."):
		return "gitlab", nil
	default:
		return "", fmt.Errorf("cannot detect provider from host %q", host)
	}
}

// Credentials is the configured access for one host.
type Credentials struct {
	Provider string
	Token    string
	Host     string
}

// TokenFor returns the credentials configured for the host of repoURL.
// ok is false when no token is configured for it.
func TokenFor(cfg config.GitConfig, repoURL string) (Credentials, bool) {
	host := hostOf(repoURL)
	if host == "" {
		return Credentials{}, false
	}
	for _, g := range cfg.GitHub {
		if g.Token != "" && strings.EqualFold(orDefault(g.Host, "github.com"), host) {
			return Credentials{Provider: "github", Token: g.Token, Host: g.Host}, true
		}
	}
	for _, g := range cfg.GitLab {
		if g.Token != "" && strings.EqualFold(orDefault(g.Host, "gitlab.com"), host) {
			return Credentials{Provider: "gitlab", Token: g.Token, Host: g.Host}, true
		}
	}
	return Credentials{}, false
}

// BranchResolver looks up default branches. The platform API is used when a
// token for the host is configured; otherwise the remote HEAD is read with
// go-git.
type BranchResolver struct {
	cfg config.GitConfig

	mu        sync.Mutex
	providers map[string]Provider

	// lsRemote is replaced in tests.
	lsRemote func(ctx context.Context, repoURL, user, token string) (string, error)
}

// NewBranchResolver returns a BranchResolver using the git credentials of cfg.
func NewBranchResolver(cfg config.GitConfig) *BranchResolver {
	return &BranchResolver{
		cfg:       cfg,
		providers: make(map[string]Provider),
		lsRemote:  remoteHead,
	}
}

// DefaultBranch returns the default branch of repoURL.
func (r *BranchResolver) DefaultBranch(ctx context.Context, repoURL string) (string, error) {
	creds, ok := TokenFor(r.cfg, repoURL)
	if !ok {
		branch, err := r.lsRemote(ctx, repoURL, "", "")
		if err != nil {
			return "", fmt.Errorf("resolving default branch of %s: %w", repoURL, err)
		}
		return branch, nil
	}

	p, err := r.provider(creds)
	if err != nil {
		return "", err
	}
	owner, name := splitOwnerRepo(repoURL)
	branch, err := p.DefaultBranch(ctx, owner, name)
	if err == nil && branch != "" {
		return branch, nil
	}
	slog.Warn("Platform lookup of default branch failed, reading remote HEAD",
		"provider", p.Name(), "url", repoURL, "error", err)

	branch, err = r.lsRemote(ctx, repoURL, p.CloneUser(), creds.Token)
	if err != nil {
		return "", fmt.Errorf("resolving default branch of %s: %w", repoURL, err)
	}
	return branch, nil
}

// CloneURL returns repoURL with the configured credentials for its host
// embedded, so the scan backend can clone private repositories. The result
// must never be stored in scan metadata.
func (r *BranchResolver) CloneURL(repoURL string) string {
	creds, ok := TokenFor(r.cfg, repoURL)
	if !ok {
		return repoURL
	}
	p, err := r.provider(creds)
	if err != nil {
		return repoURL
	}
	return WithCredentials(repoURL, p.CloneUser(), creds.Token)
}

func (r *BranchResolver) provider(creds Credentials) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := creds.Provider + "|" + creds.Host
	if p, ok := r.providers[key]; ok {
		return p, nil
	}
	var (
		p   Provider
		err error
	)
	switch creds.Provider {
	case "github":
		p, err = NewGitHub(config.GitHubConfig{Token: creds.Token, Host: creds.Host})
	case "gitlab":
		p, err = NewGitLab(config.GitLabConfig{Token: creds.Token, Host: creds.Host})
	default:
		err = fmt.Errorf("unsupported provider %q", creds.Provider)
	}
	if err != nil {
		return nil, err
	}
	r.providers[key] = p
	return p, nil
}

// WithCredentials embeds user and token into an http(s) URL. Other URLs are
// returned unchanged.
func WithCredentials(repoURL, user, token string) string {
	u, err := url.Parse(repoURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || token == "" {
		return repoURL
	}
	u.User = url.UserPassword(user, token)
	return u.String()
}

func hostOf(repoURL string) string {
	if u, err := url.Parse(repoURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	// scp-like: git@host:owner/repo.git
	if at := strings.Index(repoURL, "@"); at != -1 {
		rest := repoURL[at+1:]
		if colon := strings.Index(rest, ":"); colon != -1 {
			return rest[:colon]
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
