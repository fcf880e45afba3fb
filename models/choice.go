package models

import "fmt"

// TextLocation is a file path with an optional inclusive line range.
// StartLine and EndLine are zero when the location covers the whole file.
type TextLocation struct {
	Path      string `json:"path"       yaml:"path"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line"   yaml:"end_line"`
}

// HasLines reports whether the location is narrowed to a line range.
func (l TextLocation) HasLines() bool {
	return l.StartLine > 0 && l.EndLine > 0
}

func (l TextLocation) String() string {
	if !l.HasLines() {
		return l.Path
	}
	return fmt.Sprintf("%s:%d-%d", l.Path, l.StartLine, l.EndLine)
}

// ChoiceReason explains why a snippet choice was made.
type ChoiceReason string

const (
	// ReasonOriginalFinding accepts one specific match at the location.
	ReasonOriginalFinding ChoiceReason = "ORIGINAL_FINDING"
	// ReasonNoRelevantFinding marks the location as a false positive.
	ReasonNoRelevantFinding ChoiceReason = "NO_RELEVANT_FINDING"
	ReasonOther             ChoiceReason = "OTHER"
)

// Valid reports whether r is one of the known reasons.
func (r ChoiceReason) Valid() bool {
	switch r {
	case ReasonOriginalFinding, ReasonNoRelevantFinding, ReasonOther:
		return true
	}
	return false
}

// SnippetChoice is a recorded decision for the snippet findings at a location.
type SnippetChoice struct {
	Location TextLocation `json:"location" yaml:"location"`
	// Purl is the chosen package URL; only set for ReasonOriginalFinding.
	Purl    string       `json:"purl,omitempty"    yaml:"purl,omitempty"`
	Reason  ChoiceReason `json:"reason"            yaml:"reason"`
	Comment string       `json:"comment,omitempty" yaml:"comment,omitempty"`
}
