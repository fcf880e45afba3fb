package cmd

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/choices"
	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/database"
	"github.com/CosmoTheDev/deltascan/internal/orchestrator"
	"github.com/CosmoTheDev/deltascan/internal/repository"
)

// session bundles what the scanning commands need.
type session struct {
	cfg     *config.Config
	db      database.DB
	runs    *database.RunStore
	scanner *orchestrator.Scanner
}

// openSession loads and validates the config, opens the run ledger and
// builds the scanner. Configuration errors surface here, before any backend
// call.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	picked, err := choices.Load(cfg.Choices.File)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	runs := database.NewRunStore(db)

	scanner, err := orchestrator.NewScanner(cfg.Backend, backend.New(cfg.Backend),
		repository.NewBranchResolver(cfg.Git), orchestrator.ScannerOptions{
			Choices: picked,
			Runs:    runs,
		})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &session{cfg: cfg, db: db, runs: runs, scanner: scanner}, nil
}

func (s *session) Close() error { return s.db.Close() }
