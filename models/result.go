package models

import "time"

// Provenance records what was scanned.
type Provenance struct {
	VcsURL          string `json:"vcs_url"          yaml:"vcs_url"`
	Revision        string `json:"revision"         yaml:"revision"`
	ProjectRevision string `json:"project_revision" yaml:"project_revision"`
}

// ScannerDetails names the scanner that produced a result.
type ScannerDetails struct {
	Name    string `json:"name"    yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// ScanSummary is the findings part of a scan result.
type ScanSummary struct {
	StartTime  time.Time          `json:"start_time" yaml:"start_time"`
	EndTime    time.Time          `json:"end_time"   yaml:"end_time"`
	Licenses   []LicenseFinding   `json:"licenses"   yaml:"licenses"`
	Copyrights []CopyrightFinding `json:"copyrights" yaml:"copyrights"`
	Snippets   []SnippetFinding   `json:"snippets"   yaml:"snippets"`
	Issues     []Issue            `json:"issues"     yaml:"issues"`
}

// HasErrors reports whether any issue is of SeverityError.
func (s ScanSummary) HasErrors() bool {
	for _, i := range s.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Keys of ScanResult.AdditionalData.
const (
	DataScanCode  = "scanCode"
	DataScanID    = "scanId"
	DataServerURL = "serverUrl"
	DataDeltaTag  = "deltaTag"
)

// ScanResult is returned for every scanned package, successful or not.
type ScanResult struct {
	PackageID      string            `json:"package_id"      yaml:"package_id"`
	Provenance     Provenance        `json:"provenance"      yaml:"provenance"`
	Scanner        ScannerDetails    `json:"scanner"         yaml:"scanner"`
	Summary        ScanSummary       `json:"summary"         yaml:"summary"`
	AdditionalData map[string]string `json:"additional_data" yaml:"additional_data"`
}

// ScannerName is reported as scanner and as source of issues.
const ScannerName = "FossId"
