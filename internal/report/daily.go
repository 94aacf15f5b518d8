// Package report renders the pipeline's human-facing outputs: the daily
// triage brief, the weekly rollup, and the machine-readable exports.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cleartrend/leadgen/internal/models"
)

// Daily is the input to the daily triage brief: the opportunities that
// cleared the triage gates, everything due inside the runway window, and the
// rows whose revision moved during the run.
type Daily struct {
	Date     time.Time
	Triage   []models.Opportunity
	DueSoon  []models.Opportunity
	Priority []models.Opportunity
	Changed  []models.Opportunity
}

// RenderDaily produces the Markdown triage brief. Tables arrive pre-sorted
// by fit score descending; the renderer does not reorder them.
func RenderDaily(d Daily) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Triage — %s\n\n", d.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "%d to triage, %d due soon, %d changed since last run.\n\n",
		len(d.Triage), len(d.DueSoon), len(d.Changed))

	b.WriteString("## Triage\n\n")
	if len(d.Triage) == 0 {
		b.WriteString("Nothing cleared the triage gates.\n\n")
	} else {
		b.WriteString(opportunityTable(d.Triage))
		b.WriteString("\n\n")
	}

	if len(d.DueSoon) > 0 {
		b.WriteString("## Due soon\n\n")
		b.WriteString(opportunityTable(d.DueSoon))
		b.WriteString("\n\n")
	}

	if len(d.Priority) > 0 {
		b.WriteString("## Priority agencies and vehicles\n\n")
		b.WriteString(opportunityTable(d.Priority))
		b.WriteString("\n\n")
	}

	if len(d.Changed) > 0 {
		b.WriteString("## Changed\n\n")
		b.WriteString(changedTable(d.Changed))
		b.WriteString("\n")
	}
	return b.String()
}

func opportunityTable(opps []models.Opportunity) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Title", "Agency", "Fit", "Risk", "Due", "Days", "Portfolios"})
	for _, o := range opps {
		t.AppendRow(table.Row{
			o.OpportunityID,
			truncate(o.Title, 60),
			truncate(o.Agency, 30),
			o.FitScore,
			o.RiskScore,
			dueLabel(o),
			daysLabel(o),
			strings.Join(o.Portfolios, ", "),
		})
	}
	return t.RenderMarkdown()
}

func changedTable(opps []models.Opportunity) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Title", "Rev", "Due", "Stage"})
	for _, o := range opps {
		t.AppendRow(table.Row{
			o.OpportunityID, truncate(o.Title, 60), o.Revision, dueLabel(o), o.StatusStage,
		})
	}
	return t.RenderMarkdown()
}

// dueLabel never hides an unknown due date; it flags it.
func dueLabel(o models.Opportunity) string {
	if !o.DueKnown {
		return "unknown"
	}
	return o.DueDate
}

func daysLabel(o models.Opportunity) string {
	if !o.DueKnown {
		return "?"
	}
	return fmt.Sprintf("%d", o.DaysToDue)
}

// truncate cuts to n runes, never mid-sequence in multibyte text.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
