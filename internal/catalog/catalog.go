// Package catalog selects the remote scans of a project that belong to a
// repository and revision.
package catalog

import (
	"fmt"
	"sort"

	"github.com/CosmoTheDev/deltascan/internal/metadata"
	"github.com/CosmoTheDev/deltascan/models"
)

// Query describes the scans a caller is looking for.
type Query struct {
	URL string
	// Revision is the git revision; nil matches every revision in the last tier.
	Revision        *string
	ProjectRevision string
	DefaultBranch   string
}

// Tier names the fallback step that produced a match.
type Tier int

const (
	TierNone Tier = iota
	TierProjectRevision
	TierDefaultBranch
	TierGitRevision
)

func (t Tier) String() string {
	switch t {
	case TierProjectRevision:
		return "project-revision"
	case TierDefaultBranch:
		return "default-branch"
	case TierGitRevision:
		return "git-revision"
	}
	return "none"
}

type decodedScan struct {
	scan models.RemoteScan
	md   models.ScanMetadata
}

// RecentScansForRepository returns the scans matching q, most recent first.
// The first non-empty tier wins: project revision, then default branch, then
// git revision. Every scan must decode; the first decode error is returned.
func RecentScansForRepository(scans []models.RemoteScan, q Query) ([]models.RemoteScan, Tier, error) {
	candidates, err := forRepository(scans, q.URL)
	if err != nil {
		return nil, TierNone, err
	}

	if q.ProjectRevision != "" {
		if found := filter(candidates, func(md models.ScanMetadata) bool {
			return md.ProjectRevision == q.ProjectRevision
		}); len(found) > 0 {
			return found, TierProjectRevision, nil
		}
	}

	if q.DefaultBranch != "" {
		if found := filter(candidates, func(md models.ScanMetadata) bool {
			return md.ProjectRevision == q.DefaultBranch
		}); len(found) > 0 {
			return found, TierDefaultBranch, nil
		}
	}

	found := filter(candidates, func(md models.ScanMetadata) bool {
		return q.Revision == nil || md.GitRevision == *q.Revision
	})
	if len(found) == 0 {
		return nil, TierNone, nil
	}
	return found, TierGitRevision, nil
}

// ByRevision is the git-revision-only match used when delta scans are off.
func ByRevision(scans []models.RemoteScan, url, revision string) ([]models.RemoteScan, error) {
	candidates, err := forRepository(scans, url)
	if err != nil {
		return nil, err
	}
	return filter(candidates, func(md models.ScanMetadata) bool {
		return md.GitRevision == revision
	}), nil
}

// forRepository decodes every scan and keeps the non-archived ones whose URL
// matches, sorted by id descending.
func forRepository(scans []models.RemoteScan, url string) ([]decodedScan, error) {
	want := metadata.StripCredentials(url)
	var out []decodedScan
	for _, s := range scans {
		md, err := metadata.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("decoding metadata of scan %d: %w", s.ID, err)
		}
		if s.Archived || md.RepositoryURL != want {
			continue
		}
		out = append(out, decodedScan{scan: s, md: md})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].scan.ID > out[j].scan.ID })
	return out, nil
}

func filter(in []decodedScan, keep func(models.ScanMetadata) bool) []models.RemoteScan {
	var out []models.RemoteScan
	for _, d := range in {
		if keep(d.md) {
			out = append(out, d.scan)
		}
	}
	return out
}
