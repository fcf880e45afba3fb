// Package reconcile applies recorded snippet choices to the findings of a
// finished remote scan.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/package-url/packageurl-go"
	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/deltascan/internal/backend"
	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/models"
)

// MaxConcurrentMutations bounds the parallel calls changing identification
// state on the backend.
const MaxConcurrentMutations = 20

// OutcomeKind classifies what happened to a snippet choice.
type OutcomeKind string

const (
	// OutcomeApplied means the choice resolved a finding with its match.
	OutcomeApplied OutcomeKind = "APPLIED"
	// OutcomeFalsePositive means the finding at the location was dropped.
	OutcomeFalsePositive OutcomeKind = "FALSE_POSITIVE"
	// OutcomeStale means the choice matched nothing; it always comes with
	// exactly one warning issue.
	OutcomeStale OutcomeKind = "STALE"
)

// ChoiceOutcome is the result for one snippet choice.
type ChoiceOutcome struct {
	Choice models.SnippetChoice
	Kind   OutcomeKind
	// FileIdentified is set when the choice's file is, or has just been,
	// marked as identified.
	FileIdentified bool
	// Detail explains stale outcomes.
	Detail string
}

// Result is the output of a reconciliation pass.
type Result struct {
	Snippets []models.SnippetFinding
	// Licenses are attributed through ORIGINAL_FINDING choices.
	Licenses []models.LicenseFinding
	Issues   []models.Issue
	// Outcomes holds one entry per input choice, in input order.
	Outcomes []ChoiceOutcome
	// PendingFiles is the pending set after the pass.
	PendingFiles []string
	// Marked and Unmarked list the files whose state was changed.
	Marked   []string
	Unmarked []string
}

// Reconciler merges snippet choices into raw scan results.
type Reconciler struct {
	marker backend.FileMarker
	now    func() time.Time
	limit  int
}

// New returns a Reconciler changing file state through marker.
func New(marker backend.FileMarker, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{marker: marker, now: now, limit: MaxConcurrentMutations}
}

type locKey struct {
	path       string
	start, end int
}

func keyOf(l models.TextLocation) locKey {
	if !l.HasLines() {
		return locKey{path: l.Path}
	}
	return locKey{path: l.Path, start: l.StartLine, end: l.EndLine}
}

type finding struct {
	models.SnippetFinding
	removed bool
}

// fileTask collects the backend calls for one file.
type fileTask struct {
	path     string
	unmark   bool
	purls    []string
	relevant int
	ignored  int
	licenses []string
}

type fileComment struct {
	Ort struct {
		SnippetChoices struct {
			Relevant    int `json:"relevant"`
			NotRelevant int `json:"notRelevant"`
		} `json:"snippetChoices"`
		Licenses []string `json:"licenses"`
	} `json:"ort"`
}

// Reconcile applies choices to raw. A file leaves the pending set only when
// every snippet location in it is covered by a choice; a file marked as
// identified whose locations are no longer all covered is unmarked. Every
// choice gets exactly one outcome. Backend failures become warnings; only a
// cancelled context makes Reconcile fail.
func (r *Reconciler) Reconcile(ctx context.Context, scanCode string, raw models.RawScanResults, choices []models.SnippetChoice) (*Result, error) {
	res := &Result{Outcomes: make([]ChoiceOutcome, len(choices))}

	findings, byPath := buildFindings(raw)
	index := make(map[locKey]*finding, len(findings))
	for _, f := range findings {
		index[keyOf(f.Location)] = f
	}

	pending := toSet(raw.PendingFiles)
	marked := make(map[string]bool)
	for _, f := range raw.MarkedAsIdentifiedFiles {
		marked[f.Path] = true
	}
	identified := make(map[string]bool)
	for _, f := range raw.IdentifiedFiles {
		identified[f.Path] = true
	}

	// Match choices to finding locations.
	chosen := make(map[locKey]int)
	choicesByPath := make(map[string][]int)
	for i, ch := range choices {
		res.Outcomes[i] = ChoiceOutcome{Choice: ch}
		key := keyOf(ch.Location)
		f := index[key]
		switch {
		case !ch.Reason.Valid():
			r.stale(res, i, fmt.Sprintf("unknown reason %q", ch.Reason))
		case ch.Reason == models.ReasonOriginalFinding && ch.Purl == "":
			r.stale(res, i, "no package URL recorded for ORIGINAL_FINDING")
		case f == nil && (marked[key.path] || identified[key.path]):
			res.Outcomes[i].Kind = OutcomeApplied
			res.Outcomes[i].FileIdentified = true
		case f == nil:
			r.stale(res, i, "no snippet finding at this location")
		case ch.Reason == models.ReasonOriginalFinding && !hasPurl(f.Snippets, ch.Purl):
			r.stale(res, i, fmt.Sprintf("%s is not reported at this location", ch.Purl))
		default:
			if prev, dup := chosen[key]; dup {
				r.stale(res, i, fmt.Sprintf("location already resolved by choice %d", prev+1))
				continue
			}
			chosen[key] = i
			choicesByPath[key.path] = append(choicesByPath[key.path], i)
		}
	}

	// Apply matched choices file by file.
	paths := make([]string, 0, len(choicesByPath))
	for p := range choicesByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var tasks []fileTask
	for _, path := range paths {
		task := fileTask{path: path}
		for _, i := range choicesByPath[path] {
			ch := choices[i]
			f := index[keyOf(ch.Location)]
			switch ch.Reason {
			case models.ReasonOriginalFinding:
				f.Snippets = onlyPurl(f.Snippets, ch.Purl)
				if lic := f.Snippets[0].License; lic != "" {
					res.Licenses = append(res.Licenses, models.LicenseFinding{License: lic, Location: f.Location})
					task.licenses = append(task.licenses, lic)
				}
				task.purls = appendUnique(task.purls, ch.Purl)
				task.relevant++
				res.Outcomes[i].Kind = OutcomeApplied
			case models.ReasonNoRelevantFinding:
				f.removed = true
				task.ignored++
				res.Outcomes[i].Kind = OutcomeFalsePositive
			case models.ReasonOther:
				task.relevant++
				res.Outcomes[i].Kind = OutcomeApplied
			}
		}

		allChosen := true
		for _, key := range byPath[path] {
			if _, ok := chosen[key]; !ok {
				allChosen = false
				break
			}
		}

		switch {
		case allChosen && pending[path]:
			delete(pending, path)
			for _, i := range choicesByPath[path] {
				res.Outcomes[i].FileIdentified = true
			}
			tasks = append(tasks, task)
		case allChosen && marked[path]:
			for _, i := range choicesByPath[path] {
				res.Outcomes[i].FileIdentified = true
			}
		case !allChosen && marked[path]:
			pending[path] = true
			tasks = append(tasks, fileTask{path: path, unmark: true})
		}
	}

	for _, f := range findings {
		if !f.removed {
			res.Snippets = append(res.Snippets, f.SnippetFinding)
		}
	}
	for _, lf := range res.Licenses {
		if issue, ok := r.validateLicense(lf.License, lf.Location.Path); !ok {
			res.Issues = append(res.Issues, issue)
		}
	}

	r.apply(ctx, scanCode, tasks, res)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reconciling snippet choices of %s: %w", scanCode, err)
	}

	res.PendingFiles = sortedKeys(pending)
	sort.Strings(res.Marked)
	sort.Strings(res.Unmarked)
	return res, nil
}

// apply runs the file tasks against the backend with bounded parallelism.
func (r *Reconciler) apply(ctx context.Context, scanCode string, tasks []fileTask, res *Result) {
	if len(tasks) == 0 {
		return
	}
	var mu sync.Mutex
	warn := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		res.Issues = append(res.Issues, r.issue(fmt.Sprintf(format, args...)))
	}

	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if task.unmark {
				if err := r.marker.UnmarkAsIdentified(ctx, scanCode, task.path); err != nil {
					warn("Failed to unmark %s as identified: %v", task.path, err)
					return nil
				}
				mu.Lock()
				res.Unmarked = append(res.Unmarked, task.path)
				mu.Unlock()
				slog.Info("Unmarked file whose snippets are no longer all chosen", "scan_code", scanCode, "path", task.path)
				return nil
			}

			if err := r.marker.MarkAsIdentified(ctx, scanCode, task.path); err != nil {
				warn("Failed to mark %s as identified: %v", task.path, err)
				return nil
			}
			metrics.FilesMarkedIdentified.Inc()
			mu.Lock()
			res.Marked = append(res.Marked, task.path)
			mu.Unlock()

			if len(task.purls) == 0 {
				return nil
			}
			for _, p := range task.purls {
				purl, err := packageurl.FromString(p)
				if err != nil {
					warn("Cannot parse package URL %s chosen for %s: %v", p, task.path, err)
					continue
				}
				if err := r.marker.AddComponentIdentification(ctx, scanCode, task.path, purl.Name, purl.Version); err != nil {
					warn("Failed to add identification %s to %s: %v", p, task.path, err)
				}
			}
			comment, err := encodeComment(task)
			if err != nil {
				warn("Failed to encode comment for %s: %v", task.path, err)
				return nil
			}
			if err := r.marker.AddFileComment(ctx, scanCode, task.path, comment); err != nil {
				warn("Failed to add comment to %s: %v", task.path, err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // tasks report failures as issues
}

func (r *Reconciler) stale(res *Result, i int, detail string) {
	ch := res.Outcomes[i].Choice
	res.Outcomes[i].Kind = OutcomeStale
	res.Outcomes[i].Detail = detail
	res.Issues = append(res.Issues, r.issue(fmt.Sprintf(
		"Snippet choice for %s (%s) is stale: %s", ch.Location, ch.Reason, detail)))
	metrics.StaleChoices.Inc()
}

func (r *Reconciler) issue(msg string) models.Issue {
	return models.Issue{
		Source:    models.ScannerName,
		Message:   msg,
		Severity:  models.SeverityWarning,
		Timestamp: r.now(),
	}
}

func encodeComment(t fileTask) (string, error) {
	var c fileComment
	c.Ort.SnippetChoices.Relevant = t.relevant
	c.Ort.SnippetChoices.NotRelevant = t.ignored
	c.Ort.Licenses = uniqueSorted(t.licenses)
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// buildFindings groups the snippets of every file by location. Findings are
// ordered by path, then by first line.
func buildFindings(raw models.RawScanResults) ([]*finding, map[string][]locKey) {
	paths := make([]string, 0, len(raw.Snippets))
	for p := range raw.Snippets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []*finding
	byPath := make(map[string][]locKey)
	for _, path := range paths {
		index := make(map[locKey]*finding)
		var fileFindings []*finding
		for _, s := range raw.Snippets[path] {
			loc := SnippetLocation(path, raw.MatchedLines[s.ID])
			key := keyOf(loc)
			f := index[key]
			if f == nil {
				f = &finding{SnippetFinding: models.SnippetFinding{Location: loc}}
				index[key] = f
				fileFindings = append(fileFindings, f)
				byPath[path] = append(byPath[path], key)
			}
			f.Snippets = append(f.Snippets, s)
		}
		sort.SliceStable(fileFindings, func(i, j int) bool {
			return fileFindings[i].Location.StartLine < fileFindings[j].Location.StartLine
		})
		out = append(out, fileFindings...)
	}
	return out, byPath
}

// SnippetLocation is the location of a snippet in path: the span of its
// local matched lines, or the whole file when none are known.
func SnippetLocation(path string, lines models.MatchedLines) models.TextLocation {
	loc := models.TextLocation{Path: path}
	for _, r := range lines.Local {
		if loc.StartLine == 0 || r.Start < loc.StartLine {
			loc.StartLine = r.Start
		}
		if r.End > loc.EndLine {
			loc.EndLine = r.End
		}
	}
	return loc
}

func hasPurl(snippets []models.Snippet, purl string) bool {
	for _, s := range snippets {
		if s.Purl == purl {
			return true
		}
	}
	return false
}

func onlyPurl(snippets []models.Snippet, purl string) []models.Snippet {
	for _, s := range snippets {
		if s.Purl == purl {
			return []models.Snippet{s}
		}
	}
	return snippets
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = appendUnique(out, s)
	}
	sort.Strings(out)
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
