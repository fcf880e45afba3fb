// Package backend provides a client for the remote scan backend's JSON API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

// API configuration constants.
const (
	// DefaultTimeout is the per-request HTTP timeout when none is configured.
	DefaultTimeout = 60 * time.Second

	// MaxRetries is the number of retries for transient transport failures.
	MaxRetries = 3

	// RetryDelay is the initial delay between retries (exponential backoff).
	RetryDelay = time.Second

	maxResponseSize = 50 * 1024 * 1024
)

// singleAttempt lists the calls that are not idempotent. A retry after the
// backend already created the entity would fail with "already exists".
var singleAttempt = map[string]bool{
	"projects.create": true,
	"scans.create":    true,
}

// Client talks to the scan backend. It implements Backend.
type Client struct {
	baseURL string
	user    string
	apiKey  string
	http    *http.Client
	// retryDelay is shortened in tests.
	retryDelay time.Duration
}

// New returns a Client configured from cfg.
func New(cfg config.BackendConfig) *Client {
	timeout := DefaultTimeout
	if cfg.CommunicationTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.CommunicationTimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		user:       cfg.User,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout},
		retryDelay: RetryDelay,
	}
}

// WithHTTPClient returns a copy of the client using httpClient.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.http = httpClient
	return &cp
}

func (c *Client) ServerURL() string { return c.baseURL }

// GetProject returns ErrNotFound when the project does not exist.
func (c *Client) GetProject(ctx context.Context, projectCode string) (*Project, error) {
	var p Project
	err := c.call(ctx, "projects", "get_information", map[string]any{"project_code": projectCode}, &p)
	if err != nil {
		return nil, err
	}
	if p.Code == "" {
		p.Code = projectCode
	}
	return &p, nil
}

func (c *Client) CreateProject(ctx context.Context, projectCode, projectName string) error {
	return c.call(ctx, "projects", "create", map[string]any{
		"project_code": projectCode,
		"project_name": projectName,
	}, nil)
}

func (c *Client) ListScans(ctx context.Context, projectCode string) ([]models.RemoteScan, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "projects", "get_all_scans", map[string]any{"project_code": projectCode}, &raw); err != nil {
		return nil, err
	}
	dtos, err := decodeCollection[scanDTO](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding scans of project %s: %w", projectCode, err)
	}
	scans := make([]models.RemoteScan, 0, len(dtos))
	for _, d := range dtos {
		scans = append(scans, d.toModel())
	}
	return scans, nil
}

func (c *Client) CreateScan(ctx context.Context, req CreateScanRequest) (int64, error) {
	var out struct {
		ScanID flexInt `json:"scan_id"`
	}
	err := c.call(ctx, "scans", "create", map[string]any{
		"project_code": req.ProjectCode,
		"scan_code":    req.ScanCode,
		"scan_name":    req.ScanCode,
		"git_repo_url": req.GitRepoURL,
		"git_branch":   req.GitBranch,
		"comment":      req.Comment,
	}, &out)
	if err != nil {
		return 0, err
	}
	return int64(out.ScanID), nil
}

func (c *Client) DownloadFromGit(ctx context.Context, scanCode string) error {
	return c.call(ctx, "scans", "download_content_from_git", map[string]any{"scan_code": scanCode}, nil)
}

func (c *Client) CheckDownloadStatus(ctx context.Context, scanCode string) (DownloadStatus, error) {
	var status string
	if err := c.call(ctx, "scans", "check_status_download_content_from_git", map[string]any{"scan_code": scanCode}, &status); err != nil {
		return "", err
	}
	return DownloadStatus(strings.ToUpper(strings.TrimSpace(status))), nil
}

func (c *Client) RunScan(ctx context.Context, scanCode string, opts RunOptions) (string, error) {
	data := map[string]any{
		"scan_code":                              scanCode,
		"auto_identification_detect_declaration": boolFlag(opts.DetectLicenses),
		"auto_identification_detect_copyright":   boolFlag(opts.DetectCopyrights),
	}
	if opts.ReuseScanCode != "" {
		data["reuse_identification"] = "1"
		data["identification_reuse_type"] = "specific_scan"
		data["specific_code"] = opts.ReuseScanCode
	}
	resp, err := c.do(ctx, "scans", "run", data)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) CheckScanStatus(ctx context.Context, scanCode string) (ScanState, error) {
	var out statusDTO
	if err := c.call(ctx, "scans", "check_status", map[string]any{"scan_code": scanCode}, &out); err != nil {
		return ScanState{}, err
	}
	return ScanState{Status: models.ParseScanStatus(out.Status), Message: out.Comment}, nil
}

func (c *Client) DeleteScan(ctx context.Context, scanCode string) error {
	return c.call(ctx, "scans", "delete", map[string]any{"scan_code": scanCode, "delete_identifications": "1"}, nil)
}

func (c *Client) ListIdentifiedFiles(ctx context.Context, scanCode string) ([]models.File, error) {
	return c.listFiles(ctx, "get_identified_files", scanCode)
}

func (c *Client) ListMarkedAsIdentifiedFiles(ctx context.Context, scanCode string) ([]models.File, error) {
	return c.listFiles(ctx, "get_marked_as_identified_files", scanCode)
}

func (c *Client) ListIgnoredFiles(ctx context.Context, scanCode string) ([]models.File, error) {
	return c.listFiles(ctx, "get_ignored_files", scanCode)
}

func (c *Client) ListPendingFiles(ctx context.Context, scanCode string) ([]string, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "scans", "get_pending_files", map[string]any{"scan_code": scanCode}, &raw); err != nil {
		return nil, err
	}
	paths, err := decodeCollection[string](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding pending files of %s: %w", scanCode, err)
	}
	return paths, nil
}

func (c *Client) ListSnippets(ctx context.Context, scanCode, path string) ([]models.Snippet, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "scans", "get_fossid_results", map[string]any{"scan_code": scanCode, "path": path}, &raw); err != nil {
		return nil, err
	}
	dtos, err := decodeCollection[snippetDTO](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding snippets of %s in %s: %w", path, scanCode, err)
	}
	out := make([]models.Snippet, 0, len(dtos))
	for _, d := range dtos {
		s := d.toModel()
		if s.File == "" {
			s.File = path
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) ListMatchedLines(ctx context.Context, scanCode, path string, snippetID int64) (models.MatchedLines, error) {
	var out matchedLinesDTO
	err := c.call(ctx, "scans", "get_matched_lines", map[string]any{
		"scan_code":  scanCode,
		"path":       path,
		"snippet_id": strconv.FormatInt(snippetID, 10),
	}, &out)
	if err != nil {
		return models.MatchedLines{}, err
	}
	return out.toModel(), nil
}

func (c *Client) MarkAsIdentified(ctx context.Context, scanCode, path string) error {
	return c.call(ctx, "files_and_folders", "mark_as_identified", map[string]any{
		"scan_code": scanCode, "path": path, "is_directory": "0",
	}, nil)
}

func (c *Client) UnmarkAsIdentified(ctx context.Context, scanCode, path string) error {
	return c.call(ctx, "files_and_folders", "unmark_as_identified", map[string]any{
		"scan_code": scanCode, "path": path, "is_directory": "0",
	}, nil)
}

func (c *Client) AddComponentIdentification(ctx context.Context, scanCode, path, artifact, version string) error {
	return c.call(ctx, "files_and_folders", "add_component_identification", map[string]any{
		"scan_code":                         scanCode,
		"path":                              path,
		"is_directory":                      "0",
		"component_name":                    artifact,
		"component_version":                 version,
		"preserve_existing_identifications": "1",
	}, nil)
}

func (c *Client) AddFileComment(ctx context.Context, scanCode, path, comment string) error {
	return c.call(ctx, "files_and_folders", "add_file_comment", map[string]any{
		"scan_code": scanCode, "path": path, "comment": comment, "is_important": "0",
	}, nil)
}

func (c *Client) listFiles(ctx context.Context, action, scanCode string) ([]models.File, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "scans", action, map[string]any{"scan_code": scanCode}, &raw); err != nil {
		return nil, err
	}
	dtos, err := decodeCollection[fileDTO](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s of %s: %w", action, scanCode, err)
	}
	files := make([]models.File, 0, len(dtos))
	for _, d := range dtos {
		files = append(files, d.toModel())
	}
	return files, nil
}

// call executes an API call and decodes the data field into out (if non-nil).
func (c *Client) call(ctx context.Context, group, action string, data map[string]any, out any) error {
	resp, err := c.do(ctx, group, action, data)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decoding %s.%s response: %w", group, action, err)
	}
	return nil
}

// do executes an authenticated API call, retrying transient transport
// failures unless the call is in singleAttempt. Non-success answers are
// converted to *APIError.
func (c *Client) do(ctx context.Context, group, action string, data map[string]any) (*response, error) {
	op := group + "." + action
	payload := map[string]any{"username": c.user, "key": c.apiKey}
	for k, v := range data {
		payload[k] = v
	}
	body, err := json.Marshal(request{Action: action, Group: group, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	retries := uint64(MaxRetries)
	if singleAttempt[op] {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	resp, err := backoff.RetryWithData(func() (*response, error) {
		attempt++
		return c.send(ctx, op, body)
	}, policy)
	if err != nil {
		return nil, err
	}
	if attempt > 1 {
		slog.Debug("Scan backend call succeeded after retry", "operation", op, "attempts", attempt)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, op string, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api.php", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building %s request: %w", op, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req) // #nosec G107 -- server URL is operator configuration
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request %s failed: %w", op, err)
	}
	defer res.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return nil, &APIError{Operation: op, StatusCode: res.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, backoff.Permanent(&APIError{Operation: op, StatusCode: res.StatusCode, Message: strings.TrimSpace(string(b))})
	}

	var out response
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding %s response: %w", op, err))
	}
	if out.Status != 1 {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return nil, backoff.Permanent(&APIError{Operation: op, Message: msg})
	}
	return &out, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
