package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// remoteHead reads the symbolic HEAD of repoURL, like `git ls-remote --symref`.
func remoteHead(ctx context.Context, repoURL, user, token string) (string, error) {
	rem := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})

	opts := &gogit.ListOptions{}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{Username: user, Password: token}
	}

	slog.Debug("Listing remote references", "url", repoURL)
	refs, err := rem.ListContext(ctx, opts)
	if err != nil {
		if errors.Is(err, transport.ErrAuthenticationRequired) {
			return "", fmt.Errorf("listing references of %s: no credentials configured for this host: %w", repoURL, err)
		}
		return "", fmt.Errorf("listing references of %s: %w", repoURL, err)
	}
	return headBranch(refs)
}

// headBranch returns the branch HEAD points to.
func headBranch(refs []*plumbing.Reference) (string, error) {
	var head *plumbing.Reference
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			head = ref
			break
		}
	}
	if head == nil {
		return "", errors.New("remote does not advertise HEAD")
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}
	// Without symref support, pick the branch pointing at the HEAD commit.
	for _, ref := range refs {
		if ref.Name().IsBranch() && ref.Hash() == head.Hash() {
			return ref.Name().Short(), nil
		}
	}
	return "", errors.New("cannot determine the branch HEAD points to")
}

// RepositoryName returns the last path segment of a git URL without ".git".
// Supports HTTPS (https://github.com/owner/repo.git) and SSH
// (git@github.com:owner/repo.git).
func RepositoryName(repoURL string) string {
	_, name := splitOwnerRepo(repoURL)
	return name
}

// splitOwnerRepo extracts the owner (the full namespace on GitLab) and the
// repository name from a git URL.
func splitOwnerRepo(repoURL string) (owner, repo string) {
	u := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")

	// HTTPS format.
	if i := strings.Index(u, "://"); i != -1 {
		path := u[i+3:]
		if slash := strings.Index(path, "/"); slash != -1 {
			path = path[slash+1:]
		} else {
			path = ""
		}
		if last := strings.LastIndex(path, "/"); last != -1 {
			return path[:last], path[last+1:]
		}
		return "", path
	}

	// SSH format: git@github.com:owner/repo
	if idx := strings.Index(u, ":"); idx != -1 {
		path := u[idx+1:]
		if last := strings.LastIndex(path, "/"); last != -1 {
			return path[:last], path[last+1:]
		}
		return "", path
	}

	return "", u
}
