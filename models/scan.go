package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDataIntegrity is returned when data read from the scan backend violates an
// invariant the backend guarantees, e.g. a scan without a scan code.
var ErrDataIntegrity = errors.New("data integrity violation")

// RemoteScan is a scan instance as listed by the scan backend.
type RemoteScan struct {
	ID int64 `json:"id"`
	// Code is nil for malformed entries; use ScanCode to read it.
	Code       *string `json:"code"`
	GitRepoURL string  `json:"git_repo_url"`
	GitBranch  string  `json:"git_branch"`
	// Comment carries the encoded ScanMetadata (structured or legacy).
	Comment  string `json:"comment"`
	Archived bool   `json:"archived"`
}

// ScanCode returns the scan code, failing with ErrDataIntegrity when absent.
func (s RemoteScan) ScanCode() (string, error) {
	if s.Code == nil || *s.Code == "" {
		return "", fmt.Errorf("scan %d has no scan code: %w", s.ID, ErrDataIntegrity)
	}
	return *s.Code, nil
}

// ScanMetadata records which repository, git revision and project revision a
// remote scan corresponds to. RepositoryURL never carries credentials.
type ScanMetadata struct {
	RepositoryURL   string `json:"repositoryUrl"`
	GitRevision     string `json:"revision"`
	ProjectRevision string `json:"projectRevision"`
}

// DeltaTag marks a scan as the first of its lineage or as a reusing one.
type DeltaTag string

const (
	DeltaTagOrigin DeltaTag = "ORIGIN"
	DeltaTagDelta  DeltaTag = "DELTA"
)

// Label is the form embedded in scan codes.
func (t DeltaTag) Label() string {
	return strings.ToLower(string(t))
}

// ScanStatus is the lifecycle state reported by the scan backend.
type ScanStatus string

const (
	StatusNotStarted  ScanStatus = "NOT_STARTED"
	StatusNew         ScanStatus = "NEW"
	StatusQueued      ScanStatus = "QUEUED"
	StatusStarting    ScanStatus = "STARTING"
	StatusRunning     ScanStatus = "RUNNING"
	StatusScanning    ScanStatus = "SCANNING"
	StatusAutoID      ScanStatus = "AUTO-ID"
	StatusFinished    ScanStatus = "FINISHED"
	StatusFailed      ScanStatus = "FAILED"
	StatusInterrupted ScanStatus = "INTERRUPTED"
)

// ParseScanStatus maps backend spellings (case, "_" vs "-") to ScanStatus.
func ParseScanStatus(raw string) ScanStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "AUTO_ID", "AUTOID":
		return StatusAutoID
	case "":
		return StatusNotStarted
	}
	return ScanStatus(s)
}

// IsRunning reports whether the scan is in flight.
func (s ScanStatus) IsRunning() bool {
	switch s {
	case StatusQueued, StatusStarting, StatusRunning, StatusScanning, StatusAutoID:
		return true
	}
	return false
}

// IsStartable reports whether a run call is accepted in this state.
func (s ScanStatus) IsStartable() bool {
	return s == StatusNotStarted || s == StatusNew
}

// IsFinal reports whether the scan will not change state any more.
func (s ScanStatus) IsFinal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusInterrupted
}

// Run ledger statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusPending  = "pending"
	RunStatusFailed   = "failed"
)

// ScanRun is one row of the local run ledger (table scan_runs).
type ScanRun struct {
	ID            int64   `json:"id"             db:"id"`
	PackageID     string  `json:"package_id"     db:"package_id"`
	RepositoryURL string  `json:"repository_url" db:"repository_url"`
	Revision      string  `json:"revision"       db:"revision"`
	ProjectCode   string  `json:"project_code"   db:"project_code"`
	ScanCode      string  `json:"scan_code"      db:"scan_code"`
	ScanID        int64   `json:"scan_id"        db:"scan_id"`
	DeltaTag      string  `json:"delta_tag"      db:"delta_tag"`
	Status        string  `json:"status"         db:"status"` // running|finished|pending|failed
	IssueCount    int     `json:"issue_count"    db:"issue_count"`
	ErrorMsg      string  `json:"error_msg"      db:"error_msg"`
	StartedAt     string  `json:"started_at"     db:"started_at"`
	FinishedAt    *string `json:"finished_at"    db:"finished_at"`
}
