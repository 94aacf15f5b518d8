package db

import (
	"context"
	"testing"
	"time"

	"github.com/cleartrend/leadgen/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func sampleOpp() models.Opportunity {
	opp := models.Opportunity{
		Source:        "sam",
		OpportunityID: "N-100",
		Title:         "Cyber defense services",
		Agency:        "DHS",
		NAICS:         "541512",
		DueDate:       "2026-09-30",
		DaysToDue:     31,
		DueKnown:      true,
		FitScore:      80,
		RiskScore:     40,
		Portfolios:    []string{"Security"},
		KeywordHits:   []string{"cyber"},
		StatusStage:   models.StageNew,
	}
	opp.RevHash = models.RevisionHash(opp.Title, opp.DueDate, opp.AttachmentsCount)
	return opp
}

func TestUpsertInsertThenIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	opp := sampleOpp()
	out, err := s.Upsert(ctx, &opp)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if out != OutcomeInserted {
		t.Fatalf("outcome = %v, want inserted", out)
	}
	if opp.Revision != 0 {
		t.Fatalf("revision = %d, want 0 on first sighting", opp.Revision)
	}

	same := sampleOpp()
	out, err = s.Upsert(ctx, &same)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if out != OutcomeUnchanged {
		t.Fatalf("outcome = %v, want unchanged", out)
	}
	if same.Revision != 0 {
		t.Fatalf("revision moved on unchanged data: %d", same.Revision)
	}
}

func TestUpsertRevisionOnHashChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	opp := sampleOpp()
	if _, err := s.Upsert(ctx, &opp); err != nil {
		t.Fatal(err)
	}

	changed := sampleOpp()
	changed.DueDate = "2026-10-15"
	changed.RevHash = models.RevisionHash(changed.Title, changed.DueDate, changed.AttachmentsCount)
	out, err := s.Upsert(ctx, &changed)
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeUpdated {
		t.Fatalf("outcome = %v, want updated", out)
	}
	if changed.Revision != 1 {
		t.Fatalf("revision = %d, want 1 after first change", changed.Revision)
	}

	got, err := s.Get(ctx, "sam", "N-100")
	if err != nil {
		t.Fatal(err)
	}
	if got.DueDate != "2026-10-15" || got.Revision != 1 {
		t.Fatalf("stored = %+v", got)
	}
}

func TestUpsertStickyStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	opp := sampleOpp()
	if _, err := s.Upsert(ctx, &opp); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStage(ctx, "sam", "N-100", models.StageQual); err != nil {
		t.Fatal(err)
	}

	refresh := sampleOpp()
	refresh.Title = "Cyber defense services (amendment 1)"
	refresh.RevHash = models.RevisionHash(refresh.Title, refresh.DueDate, refresh.AttachmentsCount)
	if _, err := s.Upsert(ctx, &refresh); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "sam", "N-100")
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusStage != models.StageQual {
		t.Fatalf("stage = %q, want %q (stage must be sticky)", got.StatusStage, models.StageQual)
	}
	if got.Title != refresh.Title {
		t.Fatalf("title not refreshed: %q", got.Title)
	}
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	s := newTestStore(t)
	opp := sampleOpp()
	opp.OpportunityID = ""
	if _, err := s.Upsert(context.Background(), &opp); err == nil {
		t.Fatal("want error for missing opportunity_id")
	}
}

func TestUpdateStageRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateStage(context.Background(), "sam", "N-100", "bogus"); err == nil {
		t.Fatal("want error for invalid stage")
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		id   string
		fit  int
		risk int
		due  string
		pf   []string
	}{
		{"A", 90, 30, "2026-09-10", []string{"Security"}},
		{"B", 60, 30, "2026-09-20", []string{"Cloud"}},
		{"C", 85, 70, "2026-12-01", []string{"Security", "Cloud"}},
	}
	for _, sd := range seed {
		opp := sampleOpp()
		opp.OpportunityID = sd.id
		opp.FitScore = sd.fit
		opp.RiskScore = sd.risk
		opp.DueDate = sd.due
		opp.Portfolios = sd.pf
		opp.RevHash = models.RevisionHash(opp.Title+sd.id, sd.due, 0)
		if _, err := s.Upsert(ctx, &opp); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, ListParams{MinFit: 70, MaxRisk: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OpportunityID != "A" {
		t.Fatalf("triage filter returned %+v", ids(got))
	}

	got, err = s.List(ctx, ListParams{Portfolio: "Cloud"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("portfolio filter returned %v", ids(got))
	}

	got, err = s.List(ctx, ListParams{DueOnOrBefore: "2026-09-30"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("due window returned %v", ids(got))
	}

	// Ordered by fit descending.
	got, err = s.List(ctx, ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].OpportunityID != "A" || got[1].OpportunityID != "C" {
		t.Fatalf("ordering: %v", ids(got))
	}
}

func TestListDateWindows(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	early := sampleOpp()
	early.OpportunityID = "A"
	early.PostedDate = "2026-08-10"
	early.RevHash = models.RevisionHash("A", early.DueDate, 0)
	if _, err := s.Upsert(ctx, &early); err != nil {
		t.Fatal(err)
	}
	late := sampleOpp()
	late.OpportunityID = "B"
	late.PostedDate = "2026-08-19"
	late.RevHash = models.RevisionHash("B", late.DueDate, 0)
	if _, err := s.Upsert(ctx, &late); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, ListParams{PostedOnOrAfter: "2026-08-15"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OpportunityID != "B" {
		t.Fatalf("posted window returned %v", ids(got))
	}

	// A week later, B changes upstream. Only B has a recent updated_at and a
	// positive revision.
	s.now = func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC) }
	amended := late
	amended.Title = "Cyber defense services (amendment 1)"
	amended.RevHash = models.RevisionHash(amended.Title, amended.DueDate, 0)
	if _, err := s.Upsert(ctx, &amended); err != nil {
		t.Fatal(err)
	}

	got, err = s.List(ctx, ListParams{UpdatedOnOrAfter: "2026-08-25"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OpportunityID != "B" {
		t.Fatalf("updated window returned %v", ids(got))
	}

	got, err = s.List(ctx, ListParams{ChangedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OpportunityID != "B" || got[0].Revision != 1 {
		t.Fatalf("changed-only returned %v", ids(got))
	}
}

func ids(opps []models.Opportunity) []string {
	out := make([]string, len(opps))
	for i, o := range opps {
		out[i] = o.OpportunityID
	}
	return out
}

func TestReplaceDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []models.Document{
		{URL: "https://sam.gov/api/file/1", Label: "SOW"},
		{URL: "https://sam.gov/api/file/2", Label: "Amendment"},
	}
	if err := s.ReplaceDocuments(ctx, "sam", "N-100", docs); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceDocuments(ctx, "sam", "N-100", docs[:1]); err != nil {
		t.Fatal(err)
	}

	got, err := s.Documents(ctx, "sam", "N-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != docs[0].URL {
		t.Fatalf("documents = %+v", got)
	}
}

func TestRunBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx, "sam")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}
	if err := s.FinishRun(ctx, id, RunCounters{Fetched: 5, Added: 3, Unchanged: 2}, ""); err != nil {
		t.Fatal(err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	opp := sampleOpp() // due 2026-09-30, outside the 14-day horizon
	if _, err := s.Upsert(ctx, &opp); err != nil {
		t.Fatal(err)
	}
	soon := sampleOpp()
	soon.OpportunityID = "N-101"
	soon.DueDate = "2026-09-10"
	if _, err := s.Upsert(ctx, &soon); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, 14)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 {
		t.Fatalf("total = %d", st.Total)
	}
	if st.ByStage[models.StageNew] != 2 {
		t.Fatalf("by stage = %v", st.ByStage)
	}
	if st.DueSoon != 1 {
		t.Fatalf("due soon = %d, want 1", st.DueSoon)
	}

	// A wider horizon picks up the later due date too.
	st, err = s.Stats(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if st.DueSoon != 2 {
		t.Fatalf("due soon at 30 days = %d, want 2", st.DueSoon)
	}
}

func TestSyncPortfolios(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pf := map[string][]string{"Security": {"cyber", "zero-trust"}}
	if err := s.SyncPortfolios(ctx, pf); err != nil {
		t.Fatal(err)
	}
	pf["Security"] = append(pf["Security"], "SOC")
	if err := s.SyncPortfolios(ctx, pf); err != nil {
		t.Fatalf("resync: %v", err)
	}
}
