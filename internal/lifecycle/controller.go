// Package lifecycle creates, triggers and polls remote scans.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/models"
)

const (
	// PollInterval is the delay between two status checks.
	PollInterval = 10 * time.Second
	// DefaultTimeout bounds a single wait when Options.Timeout is unset.
	DefaultTimeout = 60 * time.Minute
)

// Options configures a Controller.
type Options struct {
	// Timeout bounds every wait (download, scan).
	Timeout          time.Duration
	PollInterval     time.Duration
	DetectLicenses   bool
	DetectCopyrights bool
}

// CreateRequest describes a scan to create.
type CreateRequest struct {
	ProjectCode string
	ScanCode    string
	// CloneURL is handed to the backend for cloning and may carry credentials.
	CloneURL string
	Revision string
	// Comment is the encoded scan metadata.
	Comment string
	// ReuseScanCode makes the scan reuse the identifications of that scan.
	ReuseScanCode string
}

// Controller drives remote scans through their lifecycle. A Controller
// belongs to a single package scan; its Tracker collects the scans it created.
type Controller struct {
	backend backend.ScanDriver
	clock   Clock
	opts    Options
	tracker *Tracker
}

// NewController returns a Controller registering created scans in tracker.
func NewController(b backend.ScanDriver, clock Clock, opts Options, tracker *Tracker) *Controller {
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = PollInterval
	}
	if tracker == nil {
		tracker = &Tracker{}
	}
	return &Controller{backend: b, clock: clock, opts: opts, tracker: tracker}
}

// Tracker returns the set of scans created through this controller.
func (c *Controller) Tracker() *Tracker { return c.tracker }

// FindReusable returns the first finished scan of candidates. A running
// candidate is waited for, so the same target is never scanned twice
// concurrently. Failed, interrupted and never started candidates are skipped.
// It returns nil when no candidate is reusable.
func (c *Controller) FindReusable(ctx context.Context, candidates []models.RemoteScan) (*models.RemoteScan, error) {
	for i := range candidates {
		scan := candidates[i]
		code, err := scan.ScanCode()
		if err != nil {
			return nil, err
		}
		state, err := c.backend.CheckScanStatus(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("checking status of scan %s: %w", code, err)
		}

		switch {
		case state.Status == models.StatusFinished:
			slog.Debug("Found reusable scan", "scan_code", code, "scan_id", scan.ID)
			return &scan, nil
		case state.Status.IsRunning():
			slog.Info("Waiting for running scan of the same target", "scan_code", code, "status", state.Status)
			err := c.WaitUntilFinished(ctx, code)
			if errors.Is(err, ErrScanFailed) {
				slog.Warn("Running scan of the same target failed, skipping it", "scan_code", code, "error", err)
				continue
			}
			if err != nil {
				return nil, err
			}
			return &scan, nil
		default:
			slog.Debug("Skipping scan that cannot be reused", "scan_code", code, "status", state.Status)
		}
	}
	return nil, nil
}

// CreateAndRun creates the scan, triggers it and waits until it is FINISHED.
func (c *Controller) CreateAndRun(ctx context.Context, req CreateRequest) (int64, error) {
	id, err := c.Start(ctx, req)
	if err != nil {
		return id, err
	}
	if err := c.WaitUntilFinished(ctx, req.ScanCode); err != nil {
		return id, err
	}
	return id, nil
}

// Start creates the scan, lets the backend download the sources and triggers
// the scan without waiting for it to finish.
func (c *Controller) Start(ctx context.Context, req CreateRequest) (int64, error) {
	id, err := c.backend.CreateScan(ctx, backend.CreateScanRequest{
		ProjectCode: req.ProjectCode,
		ScanCode:    req.ScanCode,
		GitRepoURL:  req.CloneURL,
		GitBranch:   req.Revision,
		Comment:     req.Comment,
	})
	if err != nil {
		return 0, fmt.Errorf("creating scan %s: %w", req.ScanCode, err)
	}
	c.tracker.Add(req.ScanCode)
	slog.Info("Created scan", "scan_code", req.ScanCode, "scan_id", id, "project_code", req.ProjectCode)

	if err := c.backend.DownloadFromGit(ctx, req.ScanCode); err != nil {
		return id, fmt.Errorf("downloading sources for scan %s: %w", req.ScanCode, err)
	}
	if err := c.waitForDownload(ctx, req.ScanCode); err != nil {
		return id, err
	}

	state, err := c.backend.CheckScanStatus(ctx, req.ScanCode)
	if err != nil {
		return id, fmt.Errorf("checking status of scan %s: %w", req.ScanCode, err)
	}
	if !state.Status.IsStartable() {
		slog.Debug("Scan already triggered", "scan_code", req.ScanCode, "status", state.Status)
		return id, nil
	}

	msg, err := c.backend.RunScan(ctx, req.ScanCode, backend.RunOptions{
		DetectLicenses:   c.opts.DetectLicenses,
		DetectCopyrights: c.opts.DetectCopyrights,
		ReuseScanCode:    req.ReuseScanCode,
	})
	switch {
	case err != nil && isQueued(err.Error()):
		slog.Info("Scan was added to the queue", "scan_code", req.ScanCode)
	case err != nil:
		return id, fmt.Errorf("triggering scan %s: %w", req.ScanCode, err)
	case isQueued(msg):
		slog.Info("Scan was added to the queue", "scan_code", req.ScanCode)
	default:
		slog.Info("Triggered scan", "scan_code", req.ScanCode, "reuse", req.ReuseScanCode)
	}
	return id, nil
}

// WaitUntilFinished polls the scan until it is FINISHED. It fails with a
// *ScanFailedError on FAILED or INTERRUPTED and with a *TimeoutError once the
// timeout elapsed.
func (c *Controller) WaitUntilFinished(ctx context.Context, scanCode string) error {
	err := c.poll(ctx, scanCode, func(ctx context.Context) (bool, string, error) {
		state, err := c.backend.CheckScanStatus(ctx, scanCode)
		if err != nil {
			return false, "", fmt.Errorf("checking status of scan %s: %w", scanCode, err)
		}
		switch state.Status {
		case models.StatusFinished:
			return true, string(state.Status), nil
		case models.StatusFailed, models.StatusInterrupted:
			return false, string(state.Status), &ScanFailedError{ScanCode: scanCode, Status: state.Status, Message: state.Message}
		}
		return false, string(state.Status), nil
	})
	c.count(err)
	return err
}

func (c *Controller) waitForDownload(ctx context.Context, scanCode string) error {
	err := c.poll(ctx, scanCode, func(ctx context.Context) (bool, string, error) {
		status, err := c.backend.CheckDownloadStatus(ctx, scanCode)
		if err != nil {
			return false, "", fmt.Errorf("checking download status of scan %s: %w", scanCode, err)
		}
		switch status {
		case backend.DownloadFinished:
			return true, string(status), nil
		case backend.DownloadFailed:
			return false, string(status), &ScanFailedError{ScanCode: scanCode, Status: models.StatusFailed, Message: "downloading sources failed"}
		}
		return false, string(status), nil
	})
	c.count(err)
	return err
}

// poll calls check until it reports done, fails, or the timeout elapsed.
func (c *Controller) poll(ctx context.Context, scanCode string, check func(context.Context) (bool, string, error)) error {
	start := c.clock.Now()
	deadline := start.Add(c.opts.Timeout)
	for {
		done, status, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		now := c.clock.Now()
		if !now.Before(deadline) {
			return &TimeoutError{ScanCode: scanCode, Waited: now.Sub(start), LastStatus: status}
		}
		slog.Debug("Waiting for scan", "scan_code", scanCode, "status", status)
		if err := c.clock.Sleep(ctx, c.opts.PollInterval); err != nil {
			return err
		}
	}
}

func (c *Controller) count(err error) {
	switch {
	case errors.Is(err, ErrTimeout):
		metrics.ScansTimedOut.Inc()
	case errors.Is(err, ErrScanFailed):
		metrics.ScansFailed.Inc()
	}
}

func isQueued(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "added to queue")
}
