package backend

import (
	"context"

	"github.com/CosmoTheDev/deltascan/models"
)

// Project is a project on the scan backend.
type Project struct {
	Code string `json:"project_code"`
	Name string `json:"project_name"`
}

// CreateScanRequest contains all fields needed to create a scan.
type CreateScanRequest struct {
	ProjectCode string
	ScanCode    string
	// GitRepoURL may carry credentials so the backend can clone.
	GitRepoURL string
	GitBranch  string
	// Comment is the encoded scan metadata.
	Comment string
}

// RunOptions are the parameters of a run call.
type RunOptions struct {
	DetectLicenses   bool
	DetectCopyrights bool
	// ReuseScanCode makes the scan reuse the identifications of that scan.
	ReuseScanCode string
}

// ScanState is the result of a status check.
type ScanState struct {
	Status  models.ScanStatus
	Message string
}

// DownloadStatus is the state of the backend-side git clone.
type DownloadStatus string

const (
	DownloadNotStarted  DownloadStatus = "NOT STARTED"
	DownloadNotFinished DownloadStatus = "NOT FINISHED"
	DownloadFinished    DownloadStatus = "FINISHED"
	DownloadFailed      DownloadStatus = "FAILED"
)

// ScanDeleter deletes scans.
type ScanDeleter interface {
	DeleteScan(ctx context.Context, scanCode string) error
}

// ScanDriver is the part of the backend that drives a scan's lifecycle.
type ScanDriver interface {
	ScanDeleter
	CreateScan(ctx context.Context, req CreateScanRequest) (int64, error)
	DownloadFromGit(ctx context.Context, scanCode string) error
	CheckDownloadStatus(ctx context.Context, scanCode string) (DownloadStatus, error)
	// RunScan triggers the scan and returns the backend's message.
	RunScan(ctx context.Context, scanCode string, opts RunOptions) (string, error)
	CheckScanStatus(ctx context.Context, scanCode string) (ScanState, error)
}

// ResultReader lists the results of a finished scan.
type ResultReader interface {
	ListIdentifiedFiles(ctx context.Context, scanCode string) ([]models.File, error)
	ListMarkedAsIdentifiedFiles(ctx context.Context, scanCode string) ([]models.File, error)
	ListIgnoredFiles(ctx context.Context, scanCode string) ([]models.File, error)
	ListPendingFiles(ctx context.Context, scanCode string) ([]string, error)
	ListSnippets(ctx context.Context, scanCode, path string) ([]models.Snippet, error)
	ListMatchedLines(ctx context.Context, scanCode, path string, snippetID int64) (models.MatchedLines, error)
}

// FileMarker mutates the identification state of files.
type FileMarker interface {
	MarkAsIdentified(ctx context.Context, scanCode, path string) error
	UnmarkAsIdentified(ctx context.Context, scanCode, path string) error
	AddComponentIdentification(ctx context.Context, scanCode, path, artifact, version string) error
	AddFileComment(ctx context.Context, scanCode, path, comment string) error
}

// Backend is the complete scan backend API used by deltascan.
type Backend interface {
	ScanDriver
	ResultReader
	FileMarker
	// GetProject returns ErrNotFound when the project does not exist.
	GetProject(ctx context.Context, projectCode string) (*Project, error)
	CreateProject(ctx context.Context, projectCode, projectName string) error
	ListScans(ctx context.Context, projectCode string) ([]models.RemoteScan, error)
	// ServerURL identifies the backend in scan results.
	ServerURL() string
}
