package models

import "time"

// File is a file entry of a remote scan together with what was identified
// for it.
type File struct {
	Path      string   `json:"path"`
	Licenses  []string `json:"licenses,omitempty"`
	Copyright string   `json:"copyright,omitempty"`
	// Comment holds the file comment, if any was attached.
	Comment string `json:"comment,omitempty"`
}

// Snippet is a single snippet match reported for a pending file.
type Snippet struct {
	ID        int64   `json:"id"`
	File      string  `json:"file"`
	Purl      string  `json:"purl"`
	Artifact  string  `json:"artifact"`
	Version   string  `json:"version"`
	License   string  `json:"license"`
	MatchType string  `json:"match_type"` // full | partial
	URL       string  `json:"url"`
	Score     float64 `json:"score"`
}

// LineRange is an inclusive range of line numbers.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MatchedLines lists which lines of the local file and the remote match
// correspond to each other for one snippet.
type MatchedLines struct {
	Local  []LineRange `json:"local"`
	Remote []LineRange `json:"remote"`
}

// RawScanResults is everything fetched from a finished remote scan before
// reconciliation. PendingFiles is the mutable working set.
type RawScanResults struct {
	IdentifiedFiles         []File
	MarkedAsIdentifiedFiles []File
	IgnoredFiles            []File
	PendingFiles            []string
	// Snippets is keyed by file path.
	Snippets map[string][]Snippet
	// MatchedLines is keyed by snippet id; empty when matched lines were not fetched.
	MatchedLines map[int64]MatchedLines
}

// LicenseFinding attributes a license to a location.
type LicenseFinding struct {
	License  string       `json:"license"  yaml:"license"`
	Location TextLocation `json:"location" yaml:"location"`
}

// CopyrightFinding attributes a copyright statement to a location.
type CopyrightFinding struct {
	Statement string       `json:"statement" yaml:"statement"`
	Location  TextLocation `json:"location"  yaml:"location"`
}

// SnippetFinding groups the snippets reported for one source location.
type SnippetFinding struct {
	Location TextLocation `json:"location" yaml:"location"`
	Snippets []Snippet    `json:"snippets" yaml:"snippets"`
}

// Issue is a problem attached to a scan result.
type Issue struct {
	Source    string    `json:"source"    yaml:"source"`
	Message   string    `json:"message"   yaml:"message"`
	Severity  Severity  `json:"severity"  yaml:"severity"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
