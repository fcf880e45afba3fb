// Package backendtest provides an in-memory scan backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/models"
)

// Identification is a recorded AddComponentIdentification call.
type Identification struct {
	ScanCode string
	Path     string
	Artifact string
	Version  string
}

// Backend is an in-memory implementation of backend.Backend. Scans move to
// FINISHED when run unless a status script is set for them.
type Backend struct {
	URL string
	// RunMessage is returned by RunScan.
	RunMessage string
	// Statuses scripts CheckScanStatus per scan code. Each call consumes one
	// entry; the last entry repeats.
	Statuses map[string][]models.ScanStatus
	// Results are served by the list calls, keyed by scan code.
	Results map[string]*models.RawScanResults
	// Failures makes calls fail. Keys are a method name ("DeleteScan") or a
	// method name and the recorded subject ("DeleteScan:scan_a",
	// "MarkAsIdentified:src/a.c").
	Failures map[string]error

	mu              sync.Mutex
	nextID          int64
	projects        map[string]string
	scans           map[string][]models.RemoteScan
	state           map[string]models.ScanStatus
	calls           []string
	created         []backend.CreateScanRequest
	runs            map[string]backend.RunOptions
	deleted         []string
	marked          []string
	unmarked        []string
	identifications []Identification
	comments        map[string]string
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		URL:      "https://scan.example.com",
		Statuses: map[string][]models.ScanStatus{},
		Results:  map[string]*models.RawScanResults{},
		Failures: map[string]error{},
		nextID:   100,
		projects: map[string]string{},
		scans:    map[string][]models.RemoteScan{},
		state:    map[string]models.ScanStatus{},
		runs:     map[string]backend.RunOptions{},
		comments: map[string]string{},
	}
}

// AddProject seeds a project.
func (b *Backend) AddProject(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects[code] = code
}

// AddScan seeds an existing scan with the given status.
func (b *Backend) AddScan(projectCode string, scan models.RemoteScan, status models.ScanStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects[projectCode] = projectCode
	b.scans[projectCode] = append(b.scans[projectCode], scan)
	if scan.Code != nil {
		b.state[*scan.Code] = status
	}
	if scan.ID >= b.nextID {
		b.nextID = scan.ID + 1
	}
}

// Calls returns the recorded calls as "Method arg" strings in call order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Created returns the recorded CreateScan requests.
func (b *Backend) Created() []backend.CreateScanRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.CreateScanRequest(nil), b.created...)
}

// RunOptions returns the options of the run call for scanCode.
func (b *Backend) RunOptions(scanCode string) (backend.RunOptions, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	opts, ok := b.runs[scanCode]
	return opts, ok
}

// Deleted returns the deleted scan codes in call order.
func (b *Backend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

// Marked returns the paths marked as identified, sorted.
func (b *Backend) Marked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedCopy(b.marked)
}

// Unmarked returns the paths unmarked as identified, sorted.
func (b *Backend) Unmarked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedCopy(b.unmarked)
}

// Identifications returns the recorded component identifications sorted by path.
func (b *Backend) Identifications() []Identification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Identification(nil), b.identifications...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Comment returns the file comment attached to path.
func (b *Backend) Comment(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.comments[path]
}

// Status returns the current status of a scan.
func (b *Backend) Status(scanCode string) models.ScanStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[scanCode]
}

func (b *Backend) ServerURL() string { return b.URL }

func (b *Backend) GetProject(_ context.Context, projectCode string) (*backend.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetProject", projectCode); err != nil {
		return nil, err
	}
	name, ok := b.projects[projectCode]
	if !ok {
		return nil, &backend.APIError{Operation: "projects.get_information", Message: "Project does not exist"}
	}
	return &backend.Project{Code: projectCode, Name: name}, nil
}

func (b *Backend) CreateProject(_ context.Context, projectCode, projectName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CreateProject", projectCode); err != nil {
		return err
	}
	b.projects[projectCode] = projectName
	return nil
}

func (b *Backend) ListScans(_ context.Context, projectCode string) ([]models.RemoteScan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListScans", projectCode); err != nil {
		return nil, err
	}
	return append([]models.RemoteScan(nil), b.scans[projectCode]...), nil
}

func (b *Backend) CreateScan(_ context.Context, req backend.CreateScanRequest) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CreateScan", req.ScanCode); err != nil {
		return 0, err
	}
	if _, ok := b.projects[req.ProjectCode]; !ok {
		return 0, &backend.APIError{Operation: "scans.create", Message: "Project does not exist"}
	}
	id := b.nextID
	b.nextID++
	code := req.ScanCode
	b.scans[req.ProjectCode] = append(b.scans[req.ProjectCode], models.RemoteScan{
		ID:         id,
		Code:       &code,
		GitRepoURL: req.GitRepoURL,
		GitBranch:  req.GitBranch,
		Comment:    req.Comment,
	})
	b.state[code] = models.StatusNew
	b.created = append(b.created, req)
	return id, nil
}

func (b *Backend) DownloadFromGit(_ context.Context, scanCode string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record("DownloadFromGit", scanCode)
}

func (b *Backend) CheckDownloadStatus(_ context.Context, scanCode string) (backend.DownloadStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CheckDownloadStatus", scanCode); err != nil {
		return "", err
	}
	return backend.DownloadFinished, nil
}

func (b *Backend) RunScan(_ context.Context, scanCode string, opts backend.RunOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("RunScan", scanCode); err != nil {
		return "", err
	}
	b.runs[scanCode] = opts
	if _, scripted := b.Statuses[scanCode]; !scripted {
		b.state[scanCode] = models.StatusFinished
	}
	return b.RunMessage, nil
}

func (b *Backend) CheckScanStatus(_ context.Context, scanCode string) (backend.ScanState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CheckScanStatus", scanCode); err != nil {
		return backend.ScanState{}, err
	}
	if script := b.Statuses[scanCode]; len(script) > 0 {
		b.state[scanCode] = script[0]
		if len(script) > 1 {
			b.Statuses[scanCode] = script[1:]
		}
	}
	status, ok := b.state[scanCode]
	if !ok {
		return backend.ScanState{}, &backend.APIError{Operation: "scans.check_status", Message: "Scan does not exist"}
	}
	return backend.ScanState{Status: status}, nil
}

func (b *Backend) DeleteScan(_ context.Context, scanCode string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteScan", scanCode); err != nil {
		return err
	}
	for project, scans := range b.scans {
		kept := scans[:0]
		for _, s := range scans {
			if s.Code == nil || *s.Code != scanCode {
				kept = append(kept, s)
			}
		}
		b.scans[project] = kept
	}
	delete(b.state, scanCode)
	b.deleted = append(b.deleted, scanCode)
	return nil
}

func (b *Backend) ListIdentifiedFiles(_ context.Context, scanCode string) ([]models.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListIdentifiedFiles", scanCode); err != nil {
		return nil, err
	}
	return b.results(scanCode).IdentifiedFiles, nil
}

func (b *Backend) ListMarkedAsIdentifiedFiles(_ context.Context, scanCode string) ([]models.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListMarkedAsIdentifiedFiles", scanCode); err != nil {
		return nil, err
	}
	return b.results(scanCode).MarkedAsIdentifiedFiles, nil
}

func (b *Backend) ListIgnoredFiles(_ context.Context, scanCode string) ([]models.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListIgnoredFiles", scanCode); err != nil {
		return nil, err
	}
	return b.results(scanCode).IgnoredFiles, nil
}

func (b *Backend) ListPendingFiles(_ context.Context, scanCode string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListPendingFiles", scanCode); err != nil {
		return nil, err
	}
	return append([]string(nil), b.results(scanCode).PendingFiles...), nil
}

func (b *Backend) ListSnippets(_ context.Context, scanCode, path string) ([]models.Snippet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListSnippets", scanCode+" "+path); err != nil {
		return nil, err
	}
	return append([]models.Snippet(nil), b.results(scanCode).Snippets[path]...), nil
}

func (b *Backend) ListMatchedLines(_ context.Context, scanCode, path string, snippetID int64) (models.MatchedLines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListMatchedLines", fmt.Sprintf("%s %s %d", scanCode, path, snippetID)); err != nil {
		return models.MatchedLines{}, err
	}
	return b.results(scanCode).MatchedLines[snippetID], nil
}

func (b *Backend) MarkAsIdentified(_ context.Context, scanCode, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("MarkAsIdentified", path); err != nil {
		return err
	}
	b.marked = append(b.marked, path)
	return nil
}

func (b *Backend) UnmarkAsIdentified(_ context.Context, scanCode, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("UnmarkAsIdentified", path); err != nil {
		return err
	}
	b.unmarked = append(b.unmarked, path)
	return nil
}

func (b *Backend) AddComponentIdentification(_ context.Context, scanCode, path, artifact, version string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("AddComponentIdentification", path); err != nil {
		return err
	}
	b.identifications = append(b.identifications, Identification{
		ScanCode: scanCode, Path: path, Artifact: artifact, Version: version,
	})
	return nil
}

func (b *Backend) AddFileComment(_ context.Context, scanCode, path, comment string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("AddFileComment", path); err != nil {
		return err
	}
	b.comments[path] = comment
	return nil
}

// record logs the call and returns the injected failure, if any. Callers hold mu.
func (b *Backend) record(method, arg string) error {
	b.calls = append(b.calls, strings.TrimSpace(method+" "+arg))
	if err := b.Failures[method+":"+arg]; err != nil {
		return err
	}
	return b.Failures[method]
}

func (b *Backend) results(scanCode string) *models.RawScanResults {
	if r := b.Results[scanCode]; r != nil {
		return r
	}
	return &models.RawScanResults{}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

var _ backend.Backend = (*Backend)(nil)
