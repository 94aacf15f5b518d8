package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cleartrend/leadgen/internal/config"
	"github.com/cleartrend/leadgen/internal/db"
	"github.com/cleartrend/leadgen/internal/ingest"
)

type fakeAdapter struct {
	name string
	recs []ingest.RawRecord
}

func (f *fakeAdapter) Source() string { return f.name }
func (f *fakeAdapter) Fetch(ctx context.Context) ([]ingest.RawRecord, error) {
	return f.recs, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Filters: config.FilterConfig{
			FitThreshold:     70,
			RiskThreshold:    50,
			MinDaysToDue:     14,
			MinKeywordLen:    3,
			ShortAllowlist:   []string{"ai", "it", "ml", "ehr"},
			PriorityAgencies: []string{"DHS"},
		},
		Scoring: config.ScoringConfig{KeywordWeight: 0.6, NAICSWeight: 0.4},
		Paths:   config.PathConfig{ExportDir: t.TempDir()},
		Portfolios: map[string][]string{
			"Cloud":    {"cloud", "migration", "devops"},
			"Security": {"zero-trust", "cybersecurity"},
		},
	}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	p := New(testConfig(t), db.NewStore(conn))
	p.now = func() time.Time { return time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC) }
	return p
}

func baseRecords() []ingest.RawRecord {
	return []ingest.RawRecord{
		{
			"noticeId":         "N-1",
			"title":            "Cloud migration and devops support",
			"agencyName":       "GSA",
			"postedDate":       "2026-08-28",
			"responseDeadLine": "2026-09-29",
			"naicsCode":        "541512",
		},
		{
			"noticeId":         "N-2",
			"title":            "Zero trust network modernization",
			"agencyName":       "DHS",
			"responseDeadLine": "2026-09-20",
		},
		{
			// No identity under any alias: must be skipped, not dropped
			// silently.
			"title": "Mystery notice",
		},
	}
}

func TestIngestEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	adapter := &fakeAdapter{name: "sam", recs: baseRecords()}

	sum, err := p.Ingest(ctx, adapter)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	c := sum.Counters
	if c.Fetched != 3 || c.Added != 2 || c.Skipped != 1 {
		t.Fatalf("counters = %+v", c)
	}
	if len(sum.Changed) != 2 {
		t.Fatalf("changed = %d, want 2", len(sum.Changed))
	}

	// Second run with identical data is a no-op.
	sum, err = p.Ingest(ctx, adapter)
	if err != nil {
		t.Fatal(err)
	}
	c = sum.Counters
	if c.Added != 0 || c.Updated != 0 || c.Unchanged != 2 {
		t.Fatalf("idempotent rerun counters = %+v", c)
	}

	// Third run with one amended title bumps exactly that revision.
	recs := baseRecords()
	recs[0]["title"] = "Cloud migration and devops support (amendment 2)"
	sum, err = p.Ingest(ctx, &fakeAdapter{name: "sam", recs: recs})
	if err != nil {
		t.Fatal(err)
	}
	c = sum.Counters
	if c.Updated != 1 || c.Unchanged != 1 {
		t.Fatalf("amended run counters = %+v", c)
	}
	if len(sum.Changed) != 1 || sum.Changed[0].Revision != 1 {
		t.Fatalf("changed = %+v", sum.Changed)
	}
}

func TestIngestScoresAndTriage(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: baseRecords()}); err != nil {
		t.Fatal(err)
	}

	triage, err := p.Triage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// N-1 hits all three Cloud keywords (fit 100, risk 50 at 30 days);
	// N-2 hits one Security keyword (fit below threshold).
	if len(triage) != 1 || triage[0].OpportunityID != "N-1" {
		t.Fatalf("triage = %v", triage)
	}
	if triage[0].FitScore != 100 {
		t.Fatalf("fit = %d, want 100", triage[0].FitScore)
	}
	if triage[0].Portfolios[0] != "Cloud" {
		t.Fatalf("portfolios = %v", triage[0].Portfolios)
	}
}

func TestIngestStoresDocuments(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	recs := []ingest.RawRecord{{
		"noticeId":      "N-9",
		"title":         "Cloud support",
		"resourceLinks": []any{"https://sam.gov/api/file/9"},
	}}
	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: recs}); err != nil {
		t.Fatal(err)
	}

	docs, err := p.store.Documents(ctx, "sam", "N-9")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].URL != "https://sam.gov/api/file/9" {
		t.Fatalf("documents = %+v", docs)
	}
}

func TestIngestAttachmentTextFeedsScoring(t *testing.T) {
	p := newTestPipeline(t)
	p.cfg.API.FetchDocs = true
	p.fetchDocText = func(ctx context.Context, urls []string) string {
		return "Statement of work: cloud migration with devops tooling"
	}
	ctx := context.Background()

	recs := []ingest.RawRecord{{
		"noticeId":      "N-7",
		"title":         "Enterprise support services",
		"resourceLinks": []any{"https://sam.gov/api/file/7.pdf"},
	}}
	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: recs}); err != nil {
		t.Fatal(err)
	}

	got, err := p.store.Get(ctx, "sam", "N-7")
	if err != nil {
		t.Fatal(err)
	}
	// The title alone matches nothing; the attachment text supplies all
	// three Cloud keywords.
	if got.FitScore != 100 {
		t.Fatalf("fit = %d, want 100 from attachment text", got.FitScore)
	}
	if got.ParsedDocText == "" {
		t.Fatal("attachment text not stored")
	}
}

func TestWriteReports(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	sum, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: baseRecords()})
	if err != nil {
		t.Fatal(err)
	}
	paths, err := p.WriteReports(ctx, sum)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 4 {
		t.Fatalf("paths = %v, want daily + csv + ndjson + run log", paths)
	}

	daily, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	body := string(daily)
	if !strings.Contains(body, "# Daily Triage — 2026-08-30") {
		t.Fatalf("daily report:\n%s", body)
	}
	// Triage table is ranked by fit, so N-1 appears before N-2's absence.
	if !strings.Contains(body, "N-1") {
		t.Fatalf("daily report missing triage row:\n%s", body)
	}
	// N-2 is a DHS notice, so it lands in the priority section despite
	// missing the fit threshold.
	if !strings.Contains(body, "## Priority agencies and vehicles") {
		t.Fatalf("daily report missing priority section:\n%s", body)
	}

	if filepath.Ext(paths[1]) != ".csv" || filepath.Ext(paths[2]) != ".ndjson" {
		t.Fatalf("export paths = %v", paths)
	}
	runlog, err := os.ReadFile(paths[3])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(runlog), "added: 2") {
		t.Fatalf("run log:\n%s", runlog)
	}
}

func TestTriageRecomputesRunway(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	// At ingest time N-1 has 30 days of runway and clears triage.
	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: baseRecords()}); err != nil {
		t.Fatal(err)
	}
	triage, err := p.Triage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(triage) != 1 || triage[0].OpportunityID != "N-1" {
		t.Fatalf("triage = %v", triage)
	}

	// Three weeks later, without re-ingesting, the same row has only 9 days
	// left; the runway gate works from today's date, not the stored
	// snapshot.
	p.now = func() time.Time { return time.Date(2026, 9, 20, 6, 0, 0, 0, time.UTC) }
	triage, err = p.Triage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(triage) != 0 {
		t.Fatalf("stale runway passed triage: %v", triage)
	}
}

func TestWriteWeekly(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: baseRecords()}); err != nil {
		t.Fatal(err)
	}
	if err := p.store.UpdateStage(ctx, "sam", "N-2", "qual"); err != nil {
		t.Fatal(err)
	}
	recs := baseRecords()
	recs[0]["title"] = "Cloud migration and devops support (amendment 1)"
	if _, err := p.Ingest(ctx, &fakeAdapter{name: "sam", recs: recs}); err != nil {
		t.Fatal(err)
	}

	path, err := p.WriteWeekly(ctx)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if !strings.Contains(body, "## By portfolio") {
		t.Fatalf("weekly rollup:\n%s", body)
	}

	// N-1 was posted this week with a fit above threshold; N-2 is at qual;
	// N-1's amendment moved its revision this week.
	newHighFit := section(t, body, "## New high-fit this week")
	if !strings.Contains(newHighFit, "N-1") || strings.Contains(newHighFit, "N-2") {
		t.Fatalf("new high-fit section:\n%s", newHighFit)
	}
	inProgress := section(t, body, "## In progress (qual/bid)")
	if !strings.Contains(inProgress, "N-2") {
		t.Fatalf("in-progress section:\n%s", inProgress)
	}
	changed := section(t, body, "## Changed this week")
	if !strings.Contains(changed, "N-1") || strings.Contains(changed, "N-2") {
		t.Fatalf("changed section:\n%s", changed)
	}
}

// section returns the report body from the given heading to the next one.
func section(t *testing.T, body, heading string) string {
	t.Helper()
	i := strings.Index(body, heading)
	if i < 0 {
		t.Fatalf("missing section %q:\n%s", heading, body)
	}
	rest := body[i+len(heading):]
	if j := strings.Index(rest, "\n## "); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
