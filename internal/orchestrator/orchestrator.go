// Package orchestrator decides between reusing a remote scan, creating an
// origin scan and creating a delta scan, and drives the chosen scan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/catalog"
	"github.com/CosmoTheDev/deltascan/internal/lifecycle"
	"github.com/CosmoTheDev/deltascan/internal/metadata"
	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/internal/naming"
	"github.com/CosmoTheDev/deltascan/internal/repository"
	"github.com/CosmoTheDev/deltascan/internal/retention"
	"github.com/CosmoTheDev/deltascan/models"
)

// Repositories answers questions about source repositories.
type Repositories interface {
	DefaultBranch(ctx context.Context, repoURL string) (string, error)
	// CloneURL returns the URL the backend clones from; it may carry credentials.
	CloneURL(repoURL string) string
}

// Request identifies what to scan.
type Request struct {
	URL             string
	Revision        string
	ProjectRevision string
}

// Outcome describes the scan that answers a Request.
type Outcome struct {
	ProjectCode string
	ScanCode    string
	ScanID      int64
	// Tag is nil for reused scans and for plain scans without delta support.
	Tag    *models.DeltaTag
	Reused bool
	// DeletedScans lists the scans removed by retention.
	DeletedScans []string
	// Pending is set when the scan was triggered but not awaited.
	Pending bool
}

// Options configures an Orchestrator.
type Options struct {
	DeltaScans    bool
	Retention     retention.Policy
	WaitForResult bool
}

// Orchestrator runs one package scan. It is not shared between packages.
type Orchestrator struct {
	backend    backend.Backend
	naming     *naming.Provider
	repos      Repositories
	controller *lifecycle.Controller
	retention  *retention.Enforcer
	opts       Options
}

// New returns an Orchestrator. controller carries the run's Tracker.
func New(b backend.Backend, n *naming.Provider, repos Repositories, controller *lifecycle.Controller, opts Options) *Orchestrator {
	return &Orchestrator{
		backend:    b,
		naming:     n,
		repos:      repos,
		controller: controller,
		retention:  retention.NewEnforcer(b),
		opts:       opts,
	}
}

// Run resolves the project, selects or creates the scan for req and waits
// for it unless results are not awaited. When a created scan fails or times
// out, the Outcome naming it is returned along with the error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	repoName := repository.RepositoryName(req.URL)
	projectCode := o.naming.ProjectCode(repoName)

	if err := o.ensureProject(ctx, projectCode); err != nil {
		return nil, err
	}
	scans, err := o.backend.ListScans(ctx, projectCode)
	if err != nil {
		return nil, fmt.Errorf("listing scans of project %s: %w", projectCode, err)
	}
	slog.Debug("Listed project scans", "project_code", projectCode, "count", len(scans))

	if !o.opts.DeltaScans {
		return o.runPlain(ctx, req, repoName, projectCode, scans)
	}
	return o.runDelta(ctx, req, repoName, projectCode, scans)
}

func (o *Orchestrator) ensureProject(ctx context.Context, projectCode string) error {
	_, err := o.backend.GetProject(ctx, projectCode)
	if err == nil {
		return nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("getting project %s: %w", projectCode, err)
	}
	slog.Info("Creating project", "project_code", projectCode)
	if err := o.backend.CreateProject(ctx, projectCode, projectCode); err != nil {
		return fmt.Errorf("creating project %s: %w", projectCode, err)
	}
	return nil
}

func (o *Orchestrator) runPlain(ctx context.Context, req Request, repoName, projectCode string, scans []models.RemoteScan) (*Outcome, error) {
	candidates, err := catalog.ByRevision(scans, req.URL, req.Revision)
	if err != nil {
		return nil, err
	}
	if out, err := o.reuse(ctx, projectCode, candidates); out != nil || err != nil {
		return out, err
	}
	return o.create(ctx, req, repoName, projectCode, nil, "")
}

func (o *Orchestrator) runDelta(ctx context.Context, req Request, repoName, projectCode string, scans []models.RemoteScan) (*Outcome, error) {
	defaultBranch, err := o.repos.DefaultBranch(ctx, req.URL)
	if err != nil {
		slog.Warn("Cannot resolve default branch, skipping the default branch match",
			"url", metadata.StripCredentials(req.URL), "error", err)
		defaultBranch = ""
	}

	revision := req.Revision
	candidates, tier, err := catalog.RecentScansForRepository(scans, catalog.Query{
		URL:             req.URL,
		Revision:        &revision,
		ProjectRevision: req.ProjectRevision,
		DefaultBranch:   defaultBranch,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Matched existing scans", "tier", tier, "count", len(candidates), "default_branch", defaultBranch)

	base, err := o.controller.FindReusable(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if base == nil {
		tag := models.DeltaTagOrigin
		return o.create(ctx, req, repoName, projectCode, &tag, "")
	}

	baseCode, err := base.ScanCode()
	if err != nil {
		return nil, err
	}
	tag := models.DeltaTagDelta
	out, err := o.create(ctx, req, repoName, projectCode, &tag, baseCode)
	if err != nil || out.Pending {
		return out, err
	}

	out.DeletedScans = o.retention.Enforce(ctx, candidates, o.opts.Retention)
	return out, nil
}

// reuse returns an Outcome for the first reusable candidate, or nil.
func (o *Orchestrator) reuse(ctx context.Context, projectCode string, candidates []models.RemoteScan) (*Outcome, error) {
	found, err := o.controller.FindReusable(ctx, candidates)
	if err != nil || found == nil {
		return nil, err
	}
	code, err := found.ScanCode()
	if err != nil {
		return nil, err
	}
	slog.Info("Reusing existing scan", "scan_code", code, "scan_id", found.ID)
	metrics.ScansReused.Inc()
	return &Outcome{ProjectCode: projectCode, ScanCode: code, ScanID: found.ID, Reused: true}, nil
}

// create generates the scan code for tag and drives a new scan. Once the
// code is known the Outcome is returned even when the scan fails.
func (o *Orchestrator) create(ctx context.Context, req Request, repoName, projectCode string, tag *models.DeltaTag, reuseCode string) (*Outcome, error) {
	branch := req.ProjectRevision
	if branch == "" {
		branch = req.Revision
	}
	code, err := o.naming.ScanCode(repoName, tag, branch)
	if err != nil {
		return nil, err
	}
	comment, err := metadata.Encode(req.URL, req.Revision, req.ProjectRevision)
	if err != nil {
		return nil, err
	}

	creq := lifecycle.CreateRequest{
		ProjectCode:   projectCode,
		ScanCode:      code,
		CloneURL:      o.repos.CloneURL(req.URL),
		Revision:      req.Revision,
		Comment:       comment,
		ReuseScanCode: reuseCode,
	}
	slog.Info("Creating scan", "scan_code", code, "tag", tagLabel(tag), "reuse", reuseCode)

	out := &Outcome{ProjectCode: projectCode, ScanCode: code, Tag: tag}
	tracked := o.controller.Tracker().Len()
	if o.opts.WaitForResult {
		out.ScanID, err = o.controller.CreateAndRun(ctx, creq)
	} else {
		out.ScanID, err = o.controller.Start(ctx, creq)
		out.Pending = true
	}
	if o.controller.Tracker().Len() > tracked {
		metrics.ScansCreated.WithLabelValues(tagLabel(tag)).Inc()
	}
	return out, err
}

func tagLabel(tag *models.DeltaTag) string {
	if tag == nil {
		return "plain"
	}
	return tag.Label()
}
