package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cleartrend/leadgen/internal/models"
)

// Weekly is the input to the rollup: every open opportunity in the store,
// the stage counts, and the week's windowed slices.
type Weekly struct {
	Date    time.Time
	Open    []models.Opportunity
	ByStage map[string]int

	// NewHighFit is high-fit opportunities first posted this week;
	// InProgress is everything at the qual or bid stage; Changed is rows
	// whose revision moved this week.
	NewHighFit []models.Opportunity
	InProgress []models.Opportunity
	Changed    []models.Opportunity

	TopCount int // rows in the top-by-fit table; 0 means 10
}

// RenderWeekly produces the Markdown pipeline rollup: totals by stage and
// portfolio, then the strongest open opportunities by fit.
func RenderWeekly(w Weekly) string {
	topN := w.TopCount
	if topN <= 0 {
		topN = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Rollup — %s\n\n", w.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "%d open opportunities.\n\n", len(w.Open))

	b.WriteString("## By stage\n\n")
	b.WriteString(countTable("Stage", orderedCounts(w.ByStage)))
	b.WriteString("\n\n")

	b.WriteString("## By portfolio\n\n")
	b.WriteString(countTable("Portfolio", orderedCounts(portfolioCounts(w.Open))))
	b.WriteString("\n\n")

	b.WriteString("## New high-fit this week\n\n")
	if len(w.NewHighFit) == 0 {
		b.WriteString("No new high-fit opportunities this week.\n\n")
	} else {
		b.WriteString(opportunityTable(w.NewHighFit))
		b.WriteString("\n\n")
	}

	b.WriteString("## In progress (qual/bid)\n\n")
	if len(w.InProgress) == 0 {
		b.WriteString("Nothing at the qual or bid stage.\n\n")
	} else {
		b.WriteString(opportunityTable(w.InProgress))
		b.WriteString("\n\n")
	}

	b.WriteString("## Changed this week\n\n")
	if len(w.Changed) == 0 {
		b.WriteString("No upstream changes this week.\n\n")
	} else {
		b.WriteString(changedTable(w.Changed))
		b.WriteString("\n\n")
	}

	top := make([]models.Opportunity, len(w.Open))
	copy(top, w.Open)
	sort.SliceStable(top, func(i, j int) bool { return top[i].FitScore > top[j].FitScore })
	if len(top) > topN {
		top = top[:topN]
	}
	b.WriteString("## Top by fit\n\n")
	if len(top) == 0 {
		b.WriteString("Pipeline is empty.\n")
	} else {
		b.WriteString(opportunityTable(top))
		b.WriteString("\n")
	}
	return b.String()
}

type countRow struct {
	label string
	n     int
}

// orderedCounts sorts descending by count, ties broken by label, so the
// rollup is stable across runs.
func orderedCounts(counts map[string]int) []countRow {
	rows := make([]countRow, 0, len(counts))
	for label, n := range counts {
		rows = append(rows, countRow{label, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].label < rows[j].label
	})
	return rows
}

func portfolioCounts(opps []models.Opportunity) map[string]int {
	counts := map[string]int{}
	for _, o := range opps {
		if len(o.Portfolios) == 0 {
			counts["(none)"]++
			continue
		}
		for _, p := range o.Portfolios {
			counts[p]++
		}
	}
	return counts
}

func countTable(header string, rows []countRow) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{header, "Count"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.label, r.n})
	}
	return t.RenderMarkdown()
}
