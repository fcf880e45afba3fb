package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/backend/backendtest"
	"github.com/CosmoTheDev/deltascan/models"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newController(t *testing.T, b *backendtest.Backend, timeout time.Duration) (*Controller, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(epoch)
	c := NewController(b, clock, Options{Timeout: timeout, DetectLicenses: true}, &Tracker{})
	return c, clock
}

func existing(code string, id int64) models.RemoteScan {
	return models.RemoteScan{ID: id, Code: &code}
}

func TestCreateAndRunFinishes(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	c, clock := newController(t, b, time.Minute)

	id, err := c.CreateAndRun(context.Background(), CreateRequest{
		ProjectCode:   "proj",
		ScanCode:      "proj_delta",
		CloneURL:      "https://x/y.git",
		Revision:      "abc",
		Comment:       `{"ort":{}}`,
		ReuseScanCode: "proj_origin",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)
	assert.Equal(t, []string{"proj_delta"}, c.Tracker().Codes())
	assert.Empty(t, clock.Sleeps())

	assert.Equal(t, []string{
		"CreateScan proj_delta",
		"DownloadFromGit proj_delta",
		"CheckDownloadStatus proj_delta",
		"CheckScanStatus proj_delta",
		"RunScan proj_delta",
		"CheckScanStatus proj_delta",
	}, b.Calls())

	opts, ok := b.RunOptions("proj_delta")
	require.True(t, ok)
	assert.Equal(t, backend.RunOptions{DetectLicenses: true, ReuseScanCode: "proj_origin"}, opts)
}

func TestCreateAndRunTimesOut(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.Statuses["s"] = []models.ScanStatus{models.StatusNew, models.StatusRunning}
	c, clock := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrScanFailed))

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "s", timeout.ScanCode)
	assert.Equal(t, string(models.StatusRunning), timeout.LastStatus)
	assert.Len(t, clock.Sleeps(), 6)
	for _, d := range clock.Sleeps() {
		assert.Equal(t, PollInterval, d)
	}
	// The created scan stays tracked for cleanup.
	assert.Equal(t, []string{"s"}, c.Tracker().Codes())
}

func TestCreateAndRunStopsOnFailure(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.Statuses["s"] = []models.ScanStatus{models.StatusNew, models.StatusRunning, models.StatusFailed}
	c, clock := newController(t, b, time.Hour)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScanFailed))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Len(t, clock.Sleeps(), 1)

	checks := 0
	for _, call := range b.Calls() {
		if call == "CheckScanStatus s" {
			checks++
		}
	}
	assert.Equal(t, 3, checks)
}

func TestRunAddedToQueueIsAccepted(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.RunMessage = "Scan was added to queue."
	c, _ := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.NoError(t, err)
}

func TestRunAddedToQueueErrorIsAccepted(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.Statuses["s"] = []models.ScanStatus{models.StatusNew, models.StatusQueued, models.StatusFinished}
	b.Failures["RunScan"] = &backend.APIError{Operation: "scans.run", Message: "Scan was added to queue."}
	c, _ := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.NoError(t, err)
}

func TestRunErrorFails(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.Failures["RunScan"] = &backend.APIError{Operation: "scans.run", Message: "license expired"}
	c, _ := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggering scan s")
	assert.Equal(t, []string{"s"}, c.Tracker().Codes())
}

func TestStartSkipsRunWhenNotStartable(t *testing.T) {
	b := backendtest.New()
	b.AddProject("proj")
	b.Statuses["s"] = []models.ScanStatus{models.StatusRunning, models.StatusFinished}
	c, _ := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "proj", ScanCode: "s"})
	require.NoError(t, err)
	_, ran := b.RunOptions("s")
	assert.False(t, ran)
}

func TestCreateFailureIsNotTracked(t *testing.T) {
	b := backendtest.New()
	c, _ := newController(t, b, time.Minute)

	_, err := c.CreateAndRun(context.Background(), CreateRequest{ProjectCode: "missing", ScanCode: "s"})
	require.Error(t, err)
	assert.Zero(t, c.Tracker().Len())
}

func TestWaitHonoursCancellation(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("s", 1), models.StatusRunning)
	c, _ := newController(t, b, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.WaitUntilFinished(ctx, "s")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFindReusablePicksFirstFinished(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("failed", 3), models.StatusFailed)
	b.AddScan("proj", existing("new", 2), models.StatusNew)
	b.AddScan("proj", existing("done", 1), models.StatusFinished)
	c, _ := newController(t, b, time.Minute)

	got, err := c.FindReusable(context.Background(), []models.RemoteScan{
		existing("failed", 3), existing("new", 2), existing("done", 1),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func TestFindReusableWaitsForRunningScan(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("running", 2), models.StatusRunning)
	b.AddScan("proj", existing("done", 1), models.StatusFinished)
	b.Statuses["running"] = []models.ScanStatus{models.StatusRunning, models.StatusRunning, models.StatusFinished}
	c, clock := newController(t, b, time.Hour)

	got, err := c.FindReusable(context.Background(), []models.RemoteScan{existing("running", 2), existing("done", 1)})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
	assert.Len(t, clock.Sleeps(), 1)
}

func TestFindReusableSkipsRunningScanThatFails(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("running", 2), models.StatusRunning)
	b.AddScan("proj", existing("done", 1), models.StatusFinished)
	b.Statuses["running"] = []models.ScanStatus{models.StatusRunning, models.StatusInterrupted}
	c, _ := newController(t, b, time.Hour)

	got, err := c.FindReusable(context.Background(), []models.RemoteScan{existing("running", 2), existing("done", 1)})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func TestFindReusablePropagatesTimeout(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("running", 2), models.StatusScanning)
	c, _ := newController(t, b, time.Minute)

	_, err := c.FindReusable(context.Background(), []models.RemoteScan{existing("running", 2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestFindReusableNone(t *testing.T) {
	b := backendtest.New()
	b.AddScan("proj", existing("new", 1), models.StatusNew)
	c, _ := newController(t, b, time.Minute)

	got, err := c.FindReusable(context.Background(), []models.RemoteScan{existing("new", 1)})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindReusableRejectsScanWithoutCode(t *testing.T) {
	b := backendtest.New()
	c, _ := newController(t, b, time.Minute)

	_, err := c.FindReusable(context.Background(), []models.RemoteScan{{ID: 4}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataIntegrity))
}

func TestFakeClockSleepAdvances(t *testing.T) {
	clock := NewFakeClock(epoch)
	require.NoError(t, clock.Sleep(context.Background(), 10*time.Second))
	clock.StepBy(time.Minute)
	assert.Equal(t, epoch.Add(70*time.Second), clock.Now())
	assert.Equal(t, []time.Duration{10 * time.Second}, clock.Sleeps())
}
