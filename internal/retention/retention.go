// Package retention limits the number of delta scans kept per branch.
package retention

import (
	"context"
	"log/slog"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/models"
)

// Policy is the retention policy for delta scans.
type Policy struct {
	// MaxDeltaScansPerBranch includes the scan that was just created.
	MaxDeltaScansPerBranch int
}

// NewPolicy validates max and returns a Policy.
func NewPolicy(max int) (Policy, error) {
	if max <= 0 {
		return Policy{}, config.Errorf("backend.delta_scan_limit", "must be greater than 0, got %d", max)
	}
	return Policy{MaxDeltaScansPerBranch: max}, nil
}

// Enforcer deletes scans that exceed a Policy.
type Enforcer struct {
	deleter backend.ScanDeleter
}

// NewEnforcer returns an Enforcer deleting through d.
func NewEnforcer(d backend.ScanDeleter) *Enforcer {
	return &Enforcer{deleter: d}
}

// Enforce deletes the scans of existing (ordered most recent first) beyond
// the newest MaxDeltaScansPerBranch-1, which leaves room for the current
// scan. Failures are logged and skipped. It returns the codes that were
// deleted.
func (e *Enforcer) Enforce(ctx context.Context, existing []models.RemoteScan, policy Policy) []string {
	keep := policy.MaxDeltaScansPerBranch - 1
	if keep < 0 {
		keep = 0
	}
	if len(existing) <= keep {
		return nil
	}

	excess := existing[keep:]
	slog.Info("Deleting delta scans beyond retention limit",
		"limit", policy.MaxDeltaScansPerBranch, "existing", len(existing), "deleting", len(excess))

	var deleted []string
	for _, scan := range excess {
		code, err := scan.ScanCode()
		if err != nil {
			slog.Warn("Skipping scan without code during retention", "scan_id", scan.ID, "error", err)
			continue
		}
		if err := e.deleter.DeleteScan(ctx, code); err != nil {
			slog.Warn("Failed to delete scan during retention", "scan_code", code, "error", err)
			continue
		}
		metrics.RetentionDeletions.Inc()
		deleted = append(deleted, code)
	}
	return deleted
}
