package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/deltascan/internal/metadata"
	"github.com/CosmoTheDev/deltascan/models"
)

var (
	scanRepoURL         string
	scanRevision        string
	scanProjectRevision string
	scanPackageID       string
	scanOutputFmt       string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a repository revision on the scan backend",
	Long: `Reuses a finished scan of the same target or creates a new one, waits for it
and prints the reconciled findings.

Examples:
  deltascan scan --url https://github.com/example/app.git --revision 4f2c9e1 --project-revision main
  deltascan scan --url https://github.com/example/app.git --revision v1.2.0 --output json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRepoURL, "url", "", "Repository URL to scan (required)")
	scanCmd.Flags().StringVar(&scanRevision, "revision", "", "Git revision to scan (required)")
	scanCmd.Flags().StringVar(&scanProjectRevision, "project-revision", "", "Branch the revision belongs to")
	scanCmd.Flags().StringVar(&scanPackageID, "package-id", "", "Package identifier reported in the result (default: the URL)")
	scanCmd.Flags().StringVar(&scanOutputFmt, "output", "table", "Output format: table|json|yaml")
	_ = scanCmd.MarkFlagRequired("url")
	_ = scanCmd.MarkFlagRequired("revision")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := checkFormat(scanOutputFmt); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	target := models.PackageTarget{
		ID:              scanPackageID,
		VcsURL:          scanRepoURL,
		Revision:        scanRevision,
		ProjectRevision: scanProjectRevision,
	}
	if target.ID == "" {
		target.ID = metadata.StripCredentials(scanRepoURL)
	}

	result := s.scanner.ScanPackage(ctx, target)
	if err := printResult(os.Stdout, result, scanOutputFmt); err != nil {
		return err
	}
	if result.Summary.HasErrors() {
		return fmt.Errorf("scan of %s failed", target.ID)
	}
	return nil
}
