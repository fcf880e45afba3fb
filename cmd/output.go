package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/deltascan/models"
)

var (
	accent = lipgloss.Color("#14B8A6") // teal
	green  = lipgloss.Color("#22C55E")
	yellow = lipgloss.Color("#F59E0B")
	red    = lipgloss.Color("#EF4444")
	blue   = lipgloss.Color("#38BDF8")
	slate  = lipgloss.Color("#94A3B8")
	line   = lipgloss.Color("#1F2937")
	ink    = lipgloss.Color("#E5E7EB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ink).
			BorderStyle(lipgloss.ThickBorder()).
			BorderLeft(true).
			BorderTop(false).
			BorderRight(false).
			BorderBottom(false).
			BorderForeground(accent).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(red)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(yellow)
	hintStyle    = lipgloss.NewStyle().Foreground(blue)
	okStyle      = lipgloss.NewStyle().Foreground(green)
	dimStyle     = lipgloss.NewStyle().Foreground(slate)
)

func severityStyle(s models.Severity) lipgloss.Style {
	switch s {
	case models.SeverityError:
		return errorStyle
	case models.SeverityWarning:
		return warningStyle
	default:
		return hintStyle
	}
}

func runStatusStyle(status string) lipgloss.Style {
	switch status {
	case models.RunStatusFinished:
		return okStyle
	case models.RunStatusFailed:
		return errorStyle
	case models.RunStatusPending:
		return hintStyle
	default:
		return dimStyle
	}
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(line)).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, v any, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *models.ScanResult, format string) error {
	if format != "table" {
		return encode(w, res, format)
	}

	fmt.Fprintln(w, titleStyle.Render("Scan of "+res.PackageID))
	fmt.Fprintf(w, "Repository: %s @ %s", res.Provenance.VcsURL, res.Provenance.Revision)
	if res.Provenance.ProjectRevision != "" {
		fmt.Fprintf(w, " (%s)", res.Provenance.ProjectRevision)
	}
	fmt.Fprintln(w)
	if code := res.AdditionalData[models.DataScanCode]; code != "" {
		fmt.Fprintf(w, "Scan: %s (id %s", code, res.AdditionalData[models.DataScanID])
		if tag := res.AdditionalData[models.DataDeltaTag]; tag != "" {
			fmt.Fprintf(w, ", %s", tag)
		}
		fmt.Fprintf(w, ") on %s\n", res.AdditionalData[models.DataServerURL])
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Took %s", res.Summary.EndTime.Sub(res.Summary.StartTime).Round(time.Second))))
	fmt.Fprintln(w)

	if len(res.Summary.Licenses) > 0 {
		t := newTable("LICENSE", "LOCATION")
		for _, l := range res.Summary.Licenses {
			t.Row(l.License, l.Location.String())
		}
		fmt.Fprintln(w, t.Render())
	}
	if len(res.Summary.Snippets) > 0 {
		t := newTable("LOCATION", "SNIPPETS", "PURLS")
		for _, f := range res.Summary.Snippets {
			purls := make([]string, 0, len(f.Snippets))
			for _, s := range f.Snippets {
				purls = append(purls, s.Purl)
			}
			t.Row(f.Location.String(), strconv.Itoa(len(f.Snippets)), strings.Join(purls, ", "))
		}
		fmt.Fprintln(w, t.Render())
	}
	if len(res.Summary.Issues) > 0 {
		t := newTable("SEVERITY", "MESSAGE")
		for _, i := range res.Summary.Issues {
			t.Row(severityStyle(i.Severity).Render(i.Severity.String()), i.Message)
		}
		fmt.Fprintln(w, t.Render())
	}

	fmt.Fprintf(w, "Totals: %d licenses  %d copyrights  %d snippet locations  %d issues\n",
		len(res.Summary.Licenses), len(res.Summary.Copyrights), len(res.Summary.Snippets), len(res.Summary.Issues))
	if !res.Summary.HasErrors() {
		fmt.Fprintln(w, okStyle.Render("OK"))
	}
	return nil
}

// runDetail renders one ledger row as a field/value table.
func runDetail(r *models.ScanRun) string {
	finished := "-"
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	t := newTable("FIELD", "VALUE").Rows(
		[]string{"ID", strconv.FormatInt(r.ID, 10)},
		[]string{"Package", r.PackageID},
		[]string{"Repository", r.RepositoryURL},
		[]string{"Revision", r.Revision},
		[]string{"Project code", r.ProjectCode},
		[]string{"Scan code", r.ScanCode},
		[]string{"Scan ID", strconv.FormatInt(r.ScanID, 10)},
		[]string{"Delta tag", r.DeltaTag},
		[]string{"Status", runStatusStyle(r.Status).Render(r.Status)},
		[]string{"Issues", strconv.Itoa(r.IssueCount)},
		[]string{"Started", r.StartedAt},
		[]string{"Finished", finished},
	)
	if r.ErrorMsg != "" {
		t.Row("Error", errorStyle.Render(r.ErrorMsg))
	}
	return t.Render()
}
