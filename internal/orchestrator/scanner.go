package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/choices"
	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/database"
	"github.com/CosmoTheDev/deltascan/internal/lifecycle"
	"github.com/CosmoTheDev/deltascan/internal/metadata"
	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/internal/naming"
	"github.com/CosmoTheDev/deltascan/internal/reconcile"
	"github.com/CosmoTheDev/deltascan/internal/retention"
	"github.com/CosmoTheDev/deltascan/models"
)

// fetchConcurrency bounds the parallel result calls per package.
const fetchConcurrency = 10

// ScannerOptions carries the optional collaborators of a Scanner.
type ScannerOptions struct {
	// Choices holds the recorded snippet choices; nil means none.
	Choices *choices.File
	// Runs records every package scan when set.
	Runs *database.RunStore
	// Clock defaults to the system clock.
	Clock lifecycle.Clock
}

// Scanner scans packages on the backend. It is safe for concurrent use;
// every package gets its own Orchestrator and Tracker.
type Scanner struct {
	cfg     config.BackendConfig
	backend backend.Backend
	repos   Repositories
	naming  *naming.Provider
	policy  retention.Policy
	choices *choices.File
	runs    *database.RunStore
	clock   lifecycle.Clock
}

// NewScanner validates cfg and returns a Scanner. Configuration errors are
// reported here, before any backend call.
func NewScanner(cfg config.BackendConfig, b backend.Backend, repos Repositories, opts ScannerOptions) (*Scanner, error) {
	clock := opts.Clock
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	n, err := naming.New(cfg.Naming, clock.Now)
	if err != nil {
		return nil, err
	}
	var policy retention.Policy
	if cfg.DeltaScans {
		if policy, err = retention.NewPolicy(cfg.DeltaScanLimit); err != nil {
			return nil, err
		}
	}
	c := opts.Choices
	if c == nil {
		c = &choices.File{}
	}
	return &Scanner{
		cfg:     cfg,
		backend: b,
		repos:   repos,
		naming:  n,
		policy:  policy,
		choices: c,
		runs:    opts.Runs,
		clock:   clock,
	}, nil
}

// ScanPackages scans targets with at most workers packages in flight. The
// results are in the order of targets.
func (s *Scanner) ScanPackages(ctx context.Context, targets []models.PackageTarget, workers int) []*models.ScanResult {
	if workers <= 0 {
		workers = 1
	}
	results := make([]*models.ScanResult, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = s.ScanPackage(ctx, t)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // ScanPackage reports failures in its result
	return results
}

// ScanPackage scans one package. It never fails: errors are reported as an
// ERROR issue of the returned result, whose findings are then empty.
func (s *Scanner) ScanPackage(ctx context.Context, target models.PackageTarget) *models.ScanResult {
	start := s.clock.Now()
	result := &models.ScanResult{
		PackageID: target.ID,
		Provenance: models.Provenance{
			VcsURL:          metadata.StripCredentials(target.VcsURL),
			Revision:        target.Revision,
			ProjectRevision: target.ProjectRevision,
		},
		Scanner:        models.ScannerDetails{Name: models.ScannerName},
		AdditionalData: map[string]string{models.DataServerURL: s.backend.ServerURL()},
	}
	result.Summary.StartTime = start

	run := &models.ScanRun{
		PackageID:     target.ID,
		RepositoryURL: result.Provenance.VcsURL,
		Revision:      target.Revision,
	}
	s.record(ctx, run)

	slog.Info("Scanning package", "package", target.ID, "url", result.Provenance.VcsURL,
		"revision", target.Revision, "project_revision", target.ProjectRevision)

	tracker := &lifecycle.Tracker{}
	out, err := s.scan(ctx, target, tracker, result)
	result.Summary.EndTime = s.clock.Now()

	if out != nil {
		run.ProjectCode = out.ProjectCode
		run.ScanCode = out.ScanCode
		run.ScanID = out.ScanID
		if out.Tag != nil {
			run.DeltaTag = string(*out.Tag)
		}
	}

	switch {
	case err != nil:
		slog.Error("Package scan failed", "package", target.ID, "error", err)
		s.cleanup(ctx, tracker, err)
		result.Summary = models.ScanSummary{
			StartTime: start,
			EndTime:   result.Summary.EndTime,
			Issues: []models.Issue{{
				Source:    models.ScannerName,
				Message:   fmt.Sprintf("Failed to scan %s: %v", result.Provenance.VcsURL, err),
				Severity:  models.SeverityError,
				Timestamp: result.Summary.EndTime,
			}},
		}
		run.Status = models.RunStatusFailed
		run.ErrorMsg = truncateMsg(err.Error())
	case out.Pending:
		run.Status = models.RunStatusPending
	default:
		run.Status = models.RunStatusFinished
	}
	run.IssueCount = len(result.Summary.Issues)
	metrics.PackageScans.WithLabelValues(run.Status).Inc()
	s.finish(ctx, run)

	slog.Info("Package scan done", "package", target.ID, "status", run.Status,
		"scan_code", run.ScanCode, "issues", run.IssueCount,
		"duration", result.Summary.EndTime.Sub(start).Round(time.Second))
	return result
}

// scan fills result and returns the orchestration outcome. The outcome may
// be set alongside an error when the failure happened after the scan ran.
func (s *Scanner) scan(ctx context.Context, target models.PackageTarget, tracker *lifecycle.Tracker, result *models.ScanResult) (*Outcome, error) {
	controller := lifecycle.NewController(s.backend, s.clock, lifecycle.Options{
		Timeout:          time.Duration(s.cfg.TimeoutMinutes) * time.Minute,
		DetectLicenses:   s.cfg.DetectLicenses,
		DetectCopyrights: s.cfg.DetectCopyrights,
	}, tracker)
	orch := New(s.backend, s.naming, s.repos, controller, Options{
		DeltaScans:    s.cfg.DeltaScans,
		Retention:     s.policy,
		WaitForResult: s.cfg.WaitForResult,
	})

	out, err := orch.Run(ctx, Request{
		URL:             target.VcsURL,
		Revision:        target.Revision,
		ProjectRevision: target.ProjectRevision,
	})
	if out != nil {
		result.AdditionalData[models.DataScanCode] = out.ScanCode
		if out.ScanID != 0 {
			result.AdditionalData[models.DataScanID] = strconv.FormatInt(out.ScanID, 10)
		}
		if out.Tag != nil {
			result.AdditionalData[models.DataDeltaTag] = string(*out.Tag)
		}
	}
	if err != nil {
		return out, err
	}

	if out.Pending {
		result.Summary.Issues = append(result.Summary.Issues, models.Issue{
			Source: models.ScannerName,
			Message: fmt.Sprintf("Scan %s was triggered but its results were not awaited. "+
				"Results are available on %s once the scan finished.", out.ScanCode, s.backend.ServerURL()),
			Severity:  models.SeverityHint,
			Timestamp: s.clock.Now(),
		})
		return out, nil
	}

	picked := s.choices.For(target.VcsURL)
	raw, err := s.fetch(ctx, out.ScanCode, picked)
	if err != nil {
		return out, err
	}

	rec := reconcile.New(s.backend, s.clock.Now)
	res, err := rec.Reconcile(ctx, out.ScanCode, *raw, picked)
	if err != nil {
		return out, err
	}
	licenses, copyrights, issues := rec.FileFindings(*raw)

	result.Summary.Licenses = append(licenses, res.Licenses...)
	result.Summary.Copyrights = copyrights
	result.Summary.Snippets = res.Snippets
	result.Summary.Issues = append(append(result.Summary.Issues, issues...), res.Issues...)

	slog.Info("Reconciled snippet choices", "scan_code", out.ScanCode, "choices", len(picked),
		"marked", len(res.Marked), "unmarked", len(res.Unmarked), "pending_files", len(res.PendingFiles))
	return out, nil
}

// fetch reads the results of a finished scan. Snippets are fetched for
// pending files and for marked files that have choices.
func (s *Scanner) fetch(ctx context.Context, scanCode string, picked []models.SnippetChoice) (*models.RawScanResults, error) {
	raw := &models.RawScanResults{
		Snippets:     map[string][]models.Snippet{},
		MatchedLines: map[int64]models.MatchedLines{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw.IdentifiedFiles, err = s.backend.ListIdentifiedFiles(gctx, scanCode)
		return wrapFetch("identified files", err)
	})
	g.Go(func() (err error) {
		raw.MarkedAsIdentifiedFiles, err = s.backend.ListMarkedAsIdentifiedFiles(gctx, scanCode)
		return wrapFetch("marked files", err)
	})
	g.Go(func() (err error) {
		raw.IgnoredFiles, err = s.backend.ListIgnoredFiles(gctx, scanCode)
		return wrapFetch("ignored files", err)
	})
	g.Go(func() (err error) {
		raw.PendingFiles, err = s.backend.ListPendingFiles(gctx, scanCode)
		return wrapFetch("pending files", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := append([]string(nil), raw.PendingFiles...)
	chosen := make(map[string]bool, len(picked))
	for _, c := range picked {
		chosen[c.Location.Path] = true
	}
	for _, f := range raw.MarkedAsIdentifiedFiles {
		if chosen[f.Path] {
			paths = append(paths, f.Path)
		}
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			snippets, err := s.backend.ListSnippets(gctx, scanCode, path)
			if err != nil {
				return fmt.Errorf("fetching snippets of %s: %w", path, err)
			}
			lines := make(map[int64]models.MatchedLines)
			if s.cfg.FetchSnippetMatchedLines {
				for _, sn := range snippets {
					ml, err := s.backend.ListMatchedLines(gctx, scanCode, path, sn.ID)
					if err != nil {
						return fmt.Errorf("fetching matched lines of snippet %d in %s: %w", sn.ID, path, err)
					}
					lines[sn.ID] = ml
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if len(snippets) > 0 {
				raw.Snippets[path] = snippets
			}
			for id, ml := range lines {
				raw.MatchedLines[id] = ml
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slog.Debug("Fetched scan results", "scan_code", scanCode,
		"identified", len(raw.IdentifiedFiles), "marked", len(raw.MarkedAsIdentifiedFiles),
		"pending", len(raw.PendingFiles), "files_with_snippets", len(raw.Snippets))
	return raw, nil
}

// cleanup deletes the scans created by a failed package scan unless they are
// kept for inspection. A scan that timed out is left running so a later run
// can wait for it and reuse it. It runs even when ctx is cancelled.
func (s *Scanner) cleanup(ctx context.Context, tracker *lifecycle.Tracker, cause error) {
	codes := tracker.Codes()
	if len(codes) == 0 {
		return
	}
	if s.cfg.KeepFailedScans {
		slog.Info("Keeping scans of failed run", "scan_codes", codes)
		return
	}
	var timedOut string
	if te := (*lifecycle.TimeoutError)(nil); errors.As(cause, &te) {
		timedOut = te.ScanCode
	}
	ctx = context.WithoutCancel(ctx)
	for _, code := range codes {
		if code == timedOut {
			slog.Info("Leaving timed out scan running", "scan_code", code)
			continue
		}
		if err := s.backend.DeleteScan(ctx, code); err != nil {
			slog.Warn("Failed to delete scan of failed run", "scan_code", code, "error", err)
			continue
		}
		metrics.CleanupDeletions.Inc()
		slog.Info("Deleted scan of failed run", "scan_code", code)
	}
}

func (s *Scanner) record(ctx context.Context, run *models.ScanRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Record(ctx, run); err != nil {
		slog.Warn("Failed to record scan run", "error", err)
	}
}

func (s *Scanner) finish(ctx context.Context, run *models.ScanRun) {
	if s.runs == nil || run.ID == 0 {
		return
	}
	if err := s.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("Failed to finish scan run", "run_id", run.ID, "error", err)
	}
}

func wrapFetch(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("fetching %s: %w", what, err)
}

// truncateMsg keeps error messages within the ledger column.
func truncateMsg(msg string) string {
	const limit = 2048
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}
