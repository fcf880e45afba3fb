package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/CosmoTheDev/deltascan/models"
)

// validateLicense reports a warning issue when license is not a valid SPDX
// expression. The license is kept either way.
func (r *Reconciler) validateLicense(license, path string) (models.Issue, bool) {
	valid, invalid := spdxexp.ValidateLicenses([]string{license})
	if valid {
		return models.Issue{}, true
	}
	return r.issue(fmt.Sprintf("License %q found in %s is not a valid SPDX expression (%s)",
		license, path, strings.Join(invalid, ", "))), false
}

// FileFindings converts identified and marked-as-identified files into
// license and copyright findings covering whole files. Invalid license
// expressions are reported as warning issues and kept.
func (r *Reconciler) FileFindings(raw models.RawScanResults) ([]models.LicenseFinding, []models.CopyrightFinding, []models.Issue) {
	files := make(map[string]models.File)
	for _, list := range [][]models.File{raw.IdentifiedFiles, raw.MarkedAsIdentifiedFiles} {
		for _, f := range list {
			merged := files[f.Path]
			merged.Path = f.Path
			for _, l := range f.Licenses {
				merged.Licenses = appendUnique(merged.Licenses, l)
			}
			if merged.Copyright == "" {
				merged.Copyright = f.Copyright
			}
			files[f.Path] = merged
		}
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var (
		licenses   []models.LicenseFinding
		copyrights []models.CopyrightFinding
		issues     []models.Issue
	)
	for _, p := range paths {
		f := files[p]
		loc := models.TextLocation{Path: p}
		for _, l := range f.Licenses {
			licenses = append(licenses, models.LicenseFinding{License: l, Location: loc})
			if issue, ok := r.validateLicense(l, p); !ok {
				issues = append(issues, issue)
			}
		}
		if f.Copyright != "" {
			copyrights = append(copyrights, models.CopyrightFinding{Statement: f.Copyright, Location: loc})
		}
	}
	return licenses, copyrights, issues
}
