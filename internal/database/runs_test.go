package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := New(config.DatabaseConfig{Driver: "sqlite", Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	// Migrations are recorded and not applied twice.
	require.NoError(t, db.Migrate(context.Background()))

	s := NewRunStore(db)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestRecordAndFinish(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &models.ScanRun{PackageID: "Git::app", RepositoryURL: "https://x/y.git", Revision: "abc"}
	require.NoError(t, s.Record(ctx, run))
	require.NotZero(t, run.ID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "2024-05-01T12:00:00Z", run.StartedAt)

	run.Status = models.RunStatusFinished
	run.ScanCode = "app_20240501_120000_origin"
	run.ScanID = 42
	run.DeltaTag = string(models.DeltaTagOrigin)
	run.IssueCount = 2
	require.NoError(t, s.Finish(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)
	require.NotNil(t, got.FinishedAt)
}

func TestRecentIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, url := range []string{"https://a/1.git", "https://a/2.git", "https://a/3.git"} {
		require.NoError(t, s.Record(ctx, &models.ScanRun{RepositoryURL: url}))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "https://a/3.git", runs[0].RepositoryURL)
	assert.Equal(t, "https://a/2.git", runs[1].RepositoryURL)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
}

func TestMySQLAdapt(t *testing.T) {
	stmts := splitStatements(mysqlAdapt("CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT);\n\nCREATE INDEX i ON t (id);\n"))
	assert.Equal(t, []string{
		"CREATE TABLE t (id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY)",
		"CREATE INDEX i ON t (id)",
	}, stmts)
}
