// Package metadata encodes and decodes the scan comment that records which
// repository, git revision and project revision a remote scan belongs to.
package metadata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/CosmoTheDev/deltascan/models"
)

// structuralMarker distinguishes structured comments from legacy ones.
const structuralMarker = "{"

// Comment is the decoded form of a scan comment. It is either *Structured or
// *Legacy.
type Comment interface {
	// Metadata converts the variant to ScanMetadata.
	Metadata() models.ScanMetadata
}

// Structured is the JSON comment written by current versions.
type Structured struct {
	Ort models.ScanMetadata `json:"ort"`
}

// Metadata re-strips credentials; older writers embedded them in the URL.
func (s *Structured) Metadata() models.ScanMetadata {
	md := s.Ort
	md.RepositoryURL = StripCredentials(md.RepositoryURL)
	return md
}

// Legacy is a bare revision string plus the scan's own git fields.
type Legacy struct {
	Revision   string
	GitRepoURL string
	GitBranch  string
}

func (l *Legacy) Metadata() models.ScanMetadata {
	return models.ScanMetadata{
		RepositoryURL:   StripCredentials(l.GitRepoURL),
		GitRevision:     l.Revision,
		ProjectRevision: l.GitBranch,
	}
}

// DecodeError reports a comment that looked structured but did not parse.
type DecodeError struct {
	ScanCode string
	Comment  string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode comment %q of scan %s: %v", e.Comment, e.ScanCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Parse resolves the comment of scan to one of its variants.
func Parse(scan models.RemoteScan) (Comment, error) {
	code, err := scan.ScanCode()
	if err != nil {
		return nil, err
	}
	if !strings.Contains(scan.Comment, structuralMarker) {
		return &Legacy{Revision: scan.Comment, GitRepoURL: scan.GitRepoURL, GitBranch: scan.GitBranch}, nil
	}
	var s Structured
	if err := json.Unmarshal([]byte(scan.Comment), &s); err != nil {
		return nil, &DecodeError{ScanCode: code, Comment: scan.Comment, Err: err}
	}
	return &s, nil
}

// Decode returns the metadata of scan.
func Decode(scan models.RemoteScan) (models.ScanMetadata, error) {
	c, err := Parse(scan)
	if err != nil {
		return models.ScanMetadata{}, err
	}
	return c.Metadata(), nil
}

// Encode renders the structured comment for a new scan.
func Encode(repositoryURL, revision, projectRevision string) (string, error) {
	b, err := json.Marshal(Structured{Ort: models.ScanMetadata{
		RepositoryURL:   StripCredentials(repositoryURL),
		GitRevision:     revision,
		ProjectRevision: projectRevision,
	}})
	if err != nil {
		return "", fmt.Errorf("encoding scan comment: %w", err)
	}
	return string(b), nil
}

// StripCredentials removes user info from a URL. Strings that do not parse
// as URLs with a host (e.g. scp-like git@host:path) are returned unchanged.
func StripCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
