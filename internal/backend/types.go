package backend

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/deltascan/models"
)

// request is the envelope of every API call.
type request struct {
	Action string         `json:"action"`
	Group  string         `json:"group"`
	Data   map[string]any `json:"data"`
}

// response is the envelope of every API answer. Status is 1 on success.
type response struct {
	Operation string          `json:"operation"`
	Status    flexInt         `json:"status"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// flexInt accepts numbers encoded as JSON numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %s as integer: %w", string(b), err)
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, 0/1 and "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

type scanDTO struct {
	ID         flexInt  `json:"id"`
	Code       *string  `json:"code"`
	GitRepoURL *string  `json:"git_repo_url"`
	GitBranch  *string  `json:"git_branch"`
	Comment    *string  `json:"comment"`
	IsArchived flexBool `json:"is_archived"`
}

func (d scanDTO) toModel() models.RemoteScan {
	return models.RemoteScan{
		ID:         int64(d.ID),
		Code:       d.Code,
		GitRepoURL: deref(d.GitRepoURL),
		GitBranch:  deref(d.GitBranch),
		Comment:    deref(d.Comment),
		Archived:   bool(d.IsArchived),
	}
}

type statusDTO struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

type licenseDTO struct {
	Identifier string `json:"identifier"`
}

type fileDTO struct {
	Path      string       `json:"path"`
	Licenses  []licenseDTO `json:"licenses"`
	Copyright string       `json:"copyright"`
	Comment   string       `json:"comment"`
}

func (d fileDTO) toModel() models.File {
	f := models.File{Path: d.Path, Copyright: d.Copyright, Comment: d.Comment}
	for _, l := range d.Licenses {
		if l.Identifier != "" {
			f.Licenses = append(f.Licenses, l.Identifier)
		}
	}
	return f
}

type snippetDTO struct {
	ID        flexInt `json:"id"`
	File      string  `json:"file"`
	Purl      string  `json:"purl"`
	Artifact  string  `json:"artifact"`
	Version   string  `json:"version"`
	License   string  `json:"artifact_license"`
	MatchType string  `json:"match_type"`
	URL       string  `json:"url"`
	Score     string  `json:"score"`
}

func (d snippetDTO) toModel() models.Snippet {
	score, _ := strconv.ParseFloat(d.Score, 64) //nolint:errcheck // absent scores stay 0
	return models.Snippet{
		ID:        int64(d.ID),
		File:      d.File,
		Purl:      d.Purl,
		Artifact:  d.Artifact,
		Version:   d.Version,
		License:   d.License,
		MatchType: d.MatchType,
		URL:       d.URL,
		Score:     score,
	}
}

type matchedLinesDTO struct {
	LocalFile  []flexInt `json:"local_file"`
	MirrorFile []flexInt `json:"mirror_file"`
}

func (d matchedLinesDTO) toModel() models.MatchedLines {
	return models.MatchedLines{Local: toRanges(d.LocalFile), Remote: toRanges(d.MirrorFile)}
}

// toRanges collapses line numbers into sorted inclusive ranges.
func toRanges(lines []flexInt) []models.LineRange {
	if len(lines) == 0 {
		return nil
	}
	sorted := make([]int, 0, len(lines))
	for _, l := range lines {
		sorted = append(sorted, int(l))
	}
	sort.Ints(sorted)

	var out []models.LineRange
	cur := models.LineRange{Start: sorted[0], End: sorted[0]}
	for _, l := range sorted[1:] {
		switch {
		case l == cur.End || l == cur.End+1:
			cur.End = l
		default:
			out = append(out, cur)
			cur = models.LineRange{Start: l, End: l}
		}
	}
	return append(out, cur)
}

// decodeCollection accepts both JSON arrays and id-keyed objects, which the
// backend uses interchangeably. Object entries are returned in key order.
func decodeCollection[T any](raw json.RawMessage) ([]T, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "[]" || trimmed == "{}" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var keyed map[string]T
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keyed))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
