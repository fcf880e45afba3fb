// Package naming generates project and scan codes for the scan backend from
// configurable patterns.
package naming

import (
	"sort"
	"strings"
	"time"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

// MaxCodeLength is the longest scan code the backend accepts.
const MaxCodeLength = 254

// TimestampLayout renders #currentTimestamp, e.g. 20240131_235959.
const TimestampLayout = "20060102_150405"

// Built-in pattern tokens.
const (
	TokenRepositoryName   = "#repositoryName"
	TokenProjectName      = "#projectName"
	TokenDeltaTag         = "#deltaTag"
	TokenBranch           = "#branch"
	TokenCurrentTimestamp = "#currentTimestamp"
)

// Provider creates project and scan codes.
type Provider struct {
	projectPattern string
	scanPattern    string
	// variables maps "#name" to its value.
	variables map[string]string
	now       func() time.Time
}

var builtinTokens = []string{TokenCurrentTimestamp, TokenRepositoryName, TokenProjectName, TokenDeltaTag, TokenBranch}

// New returns a Provider for cfg. It fails with a configuration error when a
// pattern is already too long with every token rendered empty.
func New(cfg config.NamingConfig, now func() time.Time) (*Provider, error) {
	if now == nil {
		now = time.Now
	}
	p := &Provider{
		projectPattern: cfg.ProjectPattern,
		scanPattern:    cfg.ScanPattern,
		variables:      make(map[string]string, len(cfg.Variables)),
		now:            now,
	}
	for name, value := range cfg.Variables {
		if name = strings.TrimPrefix(name, "#"); name != "" {
			p.variables["#"+name] = value
		}
	}

	if p.scanPattern != "" {
		if n := len(p.render(p.scanPattern, map[string]string{})); n > MaxCodeLength {
			return nil, tooLong("backend.naming.scan_pattern", n)
		}
	}
	if p.projectPattern != "" {
		if n := len(p.render(p.projectPattern, map[string]string{})); n > MaxCodeLength {
			return nil, tooLong("backend.naming.project_pattern", n)
		}
	}
	return p, nil
}

// ProjectCode returns the project code for a repository.
func (p *Provider) ProjectCode(repositoryName string) string {
	if p.projectPattern == "" {
		return repositoryName
	}
	return p.render(p.projectPattern, map[string]string{
		TokenRepositoryName:   repositoryName,
		TokenProjectName:      repositoryName,
		TokenCurrentTimestamp: p.timestamp(),
	})
}

// ScanCode returns a unique scan code. tag may be nil for plain scans. The
// branch is sanitized and truncated so the whole code fits MaxCodeLength.
func (p *Provider) ScanCode(repositoryName string, tag *models.DeltaTag, branch string) (string, error) {
	values := map[string]string{
		TokenRepositoryName:   repositoryName,
		TokenProjectName:      repositoryName,
		TokenCurrentTimestamp: p.timestamp(),
	}
	if tag != nil {
		values[TokenDeltaTag] = tag.Label()
	}

	pattern := p.scanPattern
	if pattern == "" {
		pattern = defaultScanPattern(tag != nil, branch != "")
	}

	values[TokenBranch] = ""
	withoutBranch := p.render(pattern, values)
	if len(withoutBranch) > MaxCodeLength {
		return "", tooLong("backend.naming.scan_pattern", len(withoutBranch))
	}

	if !strings.Contains(pattern, TokenBranch) {
		return withoutBranch, nil
	}
	budget := (MaxCodeLength - len(withoutBranch)) / strings.Count(pattern, TokenBranch)
	values[TokenBranch] = truncate(SanitizeBranch(branch), budget)
	return p.render(pattern, values), nil
}

// SanitizeBranch replaces every character outside [A-Za-z0-9_-] with '_'.
func SanitizeBranch(branch string) string {
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func defaultScanPattern(withTag, withBranch bool) string {
	pattern := TokenRepositoryName + "_" + TokenCurrentTimestamp
	if withTag {
		pattern += "_" + TokenDeltaTag
	}
	if withBranch {
		pattern += "_" + TokenBranch
	}
	return pattern
}

// render substitutes built-in tokens and user variables in one pass, the
// longest token first, so a short name never consumes part of a longer one.
// Built-ins missing from values render empty and take precedence over a user
// variable of the same name. Unknown tokens stay untouched.
func (p *Provider) render(pattern string, values map[string]string) string {
	subst := make(map[string]string, len(builtinTokens)+len(p.variables))
	for token, value := range p.variables {
		subst[token] = value
	}
	for _, token := range builtinTokens {
		subst[token] = values[token]
	}
	tokens := make([]string, 0, len(subst))
	for token := range subst {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	oldnew := make([]string, 0, 2*len(tokens))
	for _, token := range tokens {
		oldnew = append(oldnew, token, subst[token])
	}
	return strings.NewReplacer(oldnew...).Replace(pattern)
}

func (p *Provider) timestamp() string {
	return p.now().Format(TimestampLayout)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tooLong(field string, n int) error {
	return config.Errorf(field, "pattern renders to %d characters without branch, the maximum is %d", n, MaxCodeLength)
}
