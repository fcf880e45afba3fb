package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

type recordedCall struct {
	Group  string
	Action string
	Data   map[string]any
}

// fakeServer answers API calls from a map of "<group>.<action>" handlers.
type fakeServer struct {
	mu       sync.Mutex
	calls    []recordedCall
	handlers map[string]func(data map[string]any) (int, string)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api.php" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Group: req.Group, Action: req.Action, Data: req.Data})
	h := f.handlers[req.Group+"."+req.Action]
	f.mu.Unlock()
	if h == nil {
		_, _ = w.Write([]byte(`{"status":"0","error":"unknown action"}`))
		return
	}
	code, body := h(req.Data)
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (f *fakeServer) lastCall(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func ok(data string) func(map[string]any) (int, string) {
	return func(map[string]any) (int, string) {
		return http.StatusOK, `{"operation":"x","status":"1","data":` + data + `}`
	}
}

func newTestClient(t *testing.T, handlers map[string]func(map[string]any) (int, string)) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{handlers: handlers}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	c := New(config.BackendConfig{ServerURL: srv.URL + "/", User: "alice", APIKey: "secret"})
	c.retryDelay = time.Millisecond
	return c, fs
}

func TestCallsCarryCredentials(t *testing.T) {
	c, fs := newTestClient(t, map[string]func(map[string]any) (int, string){
		"projects.create": ok(`{"project_id":7}`),
	})

	require.NoError(t, c.CreateProject(context.Background(), "proj", "Proj"))

	call := fs.lastCall(t)
	assert.Equal(t, "projects", call.Group)
	assert.Equal(t, "create", call.Action)
	assert.Equal(t, "alice", call.Data["username"])
	assert.Equal(t, "secret", call.Data["key"])
	assert.Equal(t, "proj", call.Data["project_code"])
	assert.Equal(t, "Proj", call.Data["project_name"])
}

func TestGetProjectNotFound(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"projects.get_information": func(map[string]any) (int, string) {
			return http.StatusOK, `{"status":"0","error":"Project does not exist"}`
		},
	})

	_, err := c.GetProject(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "projects.get_information", apiErr.Operation)
}

func TestListScansAcceptsKeyedObject(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"projects.get_all_scans": ok(`{
			"12": {"id":"12","code":"scan_b","git_repo_url":"https://x/y.git","git_branch":"main","comment":"{}","is_archived":"0"},
			"11": {"id":11,"code":"scan_a","git_repo_url":null,"comment":null,"is_archived":true}
		}`),
	})

	scans, err := c.ListScans(context.Background(), "proj")
	require.NoError(t, err)
	require.Len(t, scans, 2)

	assert.Equal(t, int64(11), scans[0].ID)
	assert.True(t, scans[0].Archived)
	assert.Empty(t, scans[0].GitRepoURL)
	assert.Equal(t, int64(12), scans[1].ID)
	require.NotNil(t, scans[1].Code)
	assert.Equal(t, "scan_b", *scans[1].Code)
	assert.Equal(t, "main", scans[1].GitBranch)
	assert.False(t, scans[1].Archived)
}

func TestRunScanWithReuse(t *testing.T) {
	c, fs := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.run": func(map[string]any) (int, string) {
			return http.StatusOK, `{"status":"1","message":"Scan was added to queue.","data":[]}`
		},
	})

	msg, err := c.RunScan(context.Background(), "delta_scan", RunOptions{
		DetectLicenses: true,
		ReuseScanCode:  "origin_scan",
	})
	require.NoError(t, err)
	assert.Equal(t, "Scan was added to queue.", msg)

	call := fs.lastCall(t)
	assert.Equal(t, "1", call.Data["reuse_identification"])
	assert.Equal(t, "specific_scan", call.Data["identification_reuse_type"])
	assert.Equal(t, "origin_scan", call.Data["specific_code"])
	assert.Equal(t, "1", call.Data["auto_identification_detect_declaration"])
	assert.Equal(t, "0", call.Data["auto_identification_detect_copyright"])
}

func TestRunScanWithoutReuse(t *testing.T) {
	c, fs := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.run": ok(`[]`),
	})

	_, err := c.RunScan(context.Background(), "origin_scan", RunOptions{})
	require.NoError(t, err)
	_, present := fs.lastCall(t).Data["reuse_identification"]
	assert.False(t, present)
}

func TestCheckScanStatus(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.check_status": ok(`{"status":"RUNNING","comment":"halfway"}`),
	})

	state, err := c.CheckScanStatus(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, state.Status)
	assert.Equal(t, "halfway", state.Message)
}

func TestCheckDownloadStatusNormalizes(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.check_status_download_content_from_git": ok(`"finished"`),
	})

	status, err := c.CheckDownloadStatus(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, DownloadFinished, status)
}

func TestListPendingFiles(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.get_pending_files": ok(`{"3":"src/b.c","1":"src/a.c"}`),
	})

	paths, err := c.ListPendingFiles(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.c", "src/b.c"}, paths)
}

func TestListIdentifiedFiles(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.get_identified_files": ok(`[{"path":"a.c","licenses":[{"identifier":"MIT"},{"identifier":""}],"copyright":"(c) ACME"}]`),
	})

	files, err := c.ListIdentifiedFiles(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.c", files[0].Path)
	assert.Equal(t, []string{"MIT"}, files[0].Licenses)
	assert.Equal(t, "(c) ACME", files[0].Copyright)
}

func TestListSnippetsFillsFile(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.get_fossid_results": ok(`[{"id":"5","purl":"pkg:maven/g/a@1.0","artifact":"a","version":"1.0","artifact_license":"Apache-2.0","match_type":"partial","score":"0.75"}]`),
	})

	snippets, err := c.ListSnippets(context.Background(), "s", "src/a.c")
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, int64(5), snippets[0].ID)
	assert.Equal(t, "src/a.c", snippets[0].File)
	assert.InDelta(t, 0.75, snippets[0].Score, 0.0001)
}

func TestListMatchedLinesCollapsesRanges(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.get_matched_lines": ok(`{"local_file":[3,1,2,10,11,"12"],"mirror_file":[20]}`),
	})

	lines, err := c.ListMatchedLines(context.Background(), "s", "a.c", 5)
	require.NoError(t, err)
	assert.Equal(t, []models.LineRange{{Start: 1, End: 3}, {Start: 10, End: 12}}, lines.Local)
	assert.Equal(t, []models.LineRange{{Start: 20, End: 20}}, lines.Remote)
}

func TestRetriesServerErrors(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.delete": func(map[string]any) (int, string) {
			attempts++
			if attempts < 3 {
				return http.StatusBadGateway, "upstream down"
			}
			return http.StatusOK, `{"status":1}`
		},
	})

	require.NoError(t, c.DeleteScan(context.Background(), "s"))
	assert.Equal(t, 3, attempts)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.delete": func(map[string]any) (int, string) {
			attempts++
			return http.StatusForbidden, "denied"
		},
	})

	err := c.DeleteScan(context.Background(), "s")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestDoesNotRetryCreateCalls(t *testing.T) {
	attempts := map[string]int{}
	failing := func(op string) func(map[string]any) (int, string) {
		return func(map[string]any) (int, string) {
			attempts[op]++
			return http.StatusServiceUnavailable, "busy"
		}
	}
	c, _ := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.create":    failing("scans.create"),
		"projects.create": failing("projects.create"),
	})

	_, err := c.CreateScan(context.Background(), CreateScanRequest{ProjectCode: "p", ScanCode: "s"})
	require.Error(t, err)
	require.Error(t, c.CreateProject(context.Background(), "p", "p"))

	assert.Equal(t, map[string]int{"scans.create": 1, "projects.create": 1}, attempts)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestCreateScanReturnsID(t *testing.T) {
	c, fs := newTestClient(t, map[string]func(map[string]any) (int, string){
		"scans.create": ok(`{"scan_id":"42"}`),
	})

	id, err := c.CreateScan(context.Background(), CreateScanRequest{
		ProjectCode: "p",
		ScanCode:    "s",
		GitRepoURL:  "https://u:t@x/y.git",
		GitBranch:   "main",
		Comment:     `{"ort":{}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	call := fs.lastCall(t)
	assert.Equal(t, "https://u:t@x/y.git", call.Data["git_repo_url"])
	assert.Equal(t, `{"ort":{}}`, call.Data["comment"])
}
