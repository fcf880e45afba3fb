package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/database"
)

var (
	historyLimit     int
	historyOutputFmt string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent package scans from the run ledger",
	Long: `Without arguments, lists the most recent package scans. With a run ID,
shows that run in full, including the error of a failed run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyOutputFmt, "output", "table", "Output format: table|json|yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyOutputFmt); err != nil {
		return err
	}
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := database.NewRunStore(db)
	if len(args) == 1 {
		return showRun(ctx, store, args[0])
	}

	runs, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyOutputFmt != "table" {
		return encode(os.Stdout, runs, historyOutputFmt)
	}
	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("No scans recorded yet. Run 'deltascan scan' first."))
		return nil
	}

	t := newTable("ID", "STARTED", "PACKAGE", "SCAN CODE", "TAG", "STATUS", "ISSUES")
	for _, r := range runs {
		t.Row(
			strconv.FormatInt(r.ID, 10),
			r.StartedAt,
			r.PackageID,
			r.ScanCode,
			r.DeltaTag,
			runStatusStyle(r.Status).Render(r.Status),
			strconv.Itoa(r.IssueCount),
		)
	}
	fmt.Println(t.Render())
	return nil
}

func showRun(ctx context.Context, store *database.RunStore, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run ID %q", arg)
	}
	run, err := store.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no scan run with ID %d", id)
	}
	if err != nil {
		return err
	}
	if historyOutputFmt != "table" {
		return encode(os.Stdout, run, historyOutputFmt)
	}
	fmt.Println(runDetail(run))
	return nil
}
