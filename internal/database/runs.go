package database

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/deltascan/models"
)

const runsTable = "scan_runs"

// RunStore records package scans in the scan_runs table.
type RunStore struct {
	db  DB
	now func() time.Time
}

// NewRunStore returns a RunStore on db. db must be migrated.
func NewRunStore(db DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

// Record inserts run with status running and sets its ID.
func (s *RunStore) Record(ctx context.Context, run *models.ScanRun) error {
	run.Status = models.RunStatusRunning
	if run.StartedAt == "" {
		run.StartedAt = s.now().UTC().Format(time.RFC3339)
	}
	id, err := s.db.Insert(ctx, runsTable, run)
	if err != nil {
		return fmt.Errorf("recording scan run for %s: %w", run.RepositoryURL, err)
	}
	run.ID = id
	return nil
}

// Finish stores the final state of run and stamps its end time.
func (s *RunStore) Finish(ctx context.Context, run *models.ScanRun) error {
	finished := s.now().UTC().Format(time.RFC3339)
	run.FinishedAt = &finished
	if err := s.db.Update(ctx, runsTable, run, "id = ?", run.ID); err != nil {
		return fmt.Errorf("finishing scan run %d: %w", run.ID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first. limit <= 0 means 20.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ScanRun
	err := s.db.Select(ctx, &runs,
		`SELECT id, package_id, repository_url, revision, project_code, scan_code, scan_id,
		        delta_tag, status, issue_count, error_msg, started_at, finished_at
		   FROM scan_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}

// Get returns the run with the given id.
func (s *RunStore) Get(ctx context.Context, id int64) (*models.ScanRun, error) {
	var run models.ScanRun
	err := s.db.Get(ctx, &run, `SELECT * FROM scan_runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting scan run %d: %w", id, err)
	}
	return &run, nil
}
