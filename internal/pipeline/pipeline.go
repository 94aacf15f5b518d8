// Package pipeline drives one ingest cycle: fetch, map, score, persist,
// report.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cleartrend/leadgen/internal/config"
	"github.com/cleartrend/leadgen/internal/db"
	"github.com/cleartrend/leadgen/internal/ingest"
	"github.com/cleartrend/leadgen/internal/models"
	"github.com/cleartrend/leadgen/internal/report"
	"github.com/cleartrend/leadgen/internal/score"
)

type Pipeline struct {
	cfg     *config.Config
	store   *db.Store
	matcher *score.Matcher
	scorer  *score.Scorer
	log     *logrus.Entry

	now func() time.Time

	// fetchDocText pulls attachment text for scoring when api.fetch_docs is
	// enabled; injectable for tests.
	fetchDocText func(ctx context.Context, urls []string) string
}

func New(cfg *config.Config, store *db.Store) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: store,
		matcher: score.NewMatcher(cfg.Portfolios,
			cfg.Filters.MinKeywordLen, cfg.Filters.ShortAllowlist),
		scorer: score.NewScorer(score.Weights{
			Keyword:  cfg.Scoring.KeywordWeight,
			NAICS:    cfg.Scoring.NAICSWeight,
			Semantic: cfg.Scoring.SemanticWeight,
		}, cfg.Filters.NAICSAllow),
		log: logrus.WithField("component", "pipeline"),
		now: time.Now,
		fetchDocText: func(ctx context.Context, urls []string) string {
			return ingest.FetchPDFText(ctx, nil, urls, maxDocTextLen)
		},
	}
}

// maxDocTextLen caps stored attachment text; enough for keyword matching
// without bloating the database.
const maxDocTextLen = 20000

// Summary is what one ingest run produced.
type Summary struct {
	RunID    string
	Source   string
	Started  time.Time
	Duration time.Duration
	Counters db.RunCounters
	Changed  []models.Opportunity
	Err      error
}

// Ingest runs one full cycle against a source: fetch records, map them to
// the canonical shape, score, hash, and upsert. Records with no resolvable
// identity are counted as skipped, never silently dropped. Per-record store
// failures abort the run; the partial work already committed stays, since
// upserts are idempotent on the next run.
func (p *Pipeline) Ingest(ctx context.Context, adapter ingest.SourceAdapter) (Summary, error) {
	started := p.now()
	sum := Summary{Source: adapter.Source(), Started: started}

	if err := p.store.SyncPortfolios(ctx, p.cfg.Portfolios); err != nil {
		return sum, err
	}
	runID, err := p.store.StartRun(ctx, adapter.Source())
	if err != nil {
		return sum, err
	}
	sum.RunID = runID

	finish := func(runErr error) (Summary, error) {
		sum.Duration = p.now().Sub(started)
		sum.Err = runErr
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		if ferr := p.store.FinishRun(ctx, runID, sum.Counters, msg); ferr != nil {
			p.log.WithError(ferr).Error("failed to record run result")
		}
		return sum, runErr
	}

	records, err := adapter.Fetch(ctx)
	if err != nil {
		return finish(fmt.Errorf("fetch %s: %w", adapter.Source(), err))
	}
	sum.Counters.Fetched = len(records)
	p.log.WithFields(logrus.Fields{"source": adapter.Source(), "records": len(records)}).Info("fetched records")

	today := p.now()
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		opp := ingest.MapRecord(adapter.Source(), raw)
		if opp.OpportunityID == "" {
			sum.Counters.Skipped++
			p.log.WithField("title", ingest.TruncateText(opp.Title, 80)).
				Warn("record has no resolvable identity, skipped")
			continue
		}

		docURLs := ingest.DocumentURLs(raw)
		if p.cfg.API.FetchDocs && len(docURLs) > 0 {
			opp.ParsedDocText = p.fetchDocText(ctx, docURLs)
		}
		p.enrich(&opp, today)

		outcome, err := p.store.Upsert(ctx, &opp)
		if err != nil {
			return finish(fmt.Errorf("upsert %s/%s: %w", opp.Source, opp.OpportunityID, err))
		}
		switch outcome {
		case db.OutcomeInserted:
			sum.Counters.Added++
			sum.Changed = append(sum.Changed, opp)
		case db.OutcomeUpdated:
			sum.Counters.Updated++
			sum.Changed = append(sum.Changed, opp)
		default:
			sum.Counters.Unchanged++
		}

		if len(docURLs) > 0 {
			docs := make([]models.Document, 0, len(docURLs))
			for _, u := range docURLs {
				docs = append(docs, models.Document{
					Source: opp.Source, OpportunityID: opp.OpportunityID, URL: u,
				})
			}
			if err := p.store.ReplaceDocuments(ctx, opp.Source, opp.OpportunityID, docs); err != nil {
				return finish(fmt.Errorf("store documents %s/%s: %w", opp.Source, opp.OpportunityID, err))
			}
		}
	}

	p.log.WithFields(logrus.Fields{
		"added": sum.Counters.Added, "updated": sum.Counters.Updated,
		"unchanged": sum.Counters.Unchanged, "skipped": sum.Counters.Skipped,
	}).Info("ingest complete")
	return finish(nil)
}

// enrich fills the derived fields: runway, portfolio matches, scores, and
// the revision hash.
func (p *Pipeline) enrich(opp *models.Opportunity, today time.Time) {
	opp.DaysToDue, opp.DueKnown = ingest.DaysToDue(opp.DueDate, today)

	text := strings.Join([]string{opp.Title, opp.Summary, opp.ParsedDocText}, " ")
	match := p.matcher.Match(text)
	opp.Portfolios = match.Portfolios
	opp.KeywordHits = match.Hits

	opp.FitScore = p.scorer.FitScore(len(match.Hits), opp.NAICS)
	opp.RiskScore = score.RiskScore(opp.SetAside, opp.DaysToDue, opp.DueKnown)
	opp.RevHash = models.RevisionHash(opp.Title, opp.DueDate, opp.AttachmentsCount)
}

// refreshRunway recomputes DaysToDue from the stored due date as of today.
// The persisted column is a snapshot from the last ingest; every read-side
// gate and label works from current runway, not the snapshot.
func refreshRunway(opps []models.Opportunity, today time.Time) []models.Opportunity {
	for i := range opps {
		opps[i].DaysToDue, opps[i].DueKnown = ingest.DaysToDue(opps[i].DueDate, today)
	}
	return opps
}

// priorityMatches picks out the opportunities from this run's changes whose
// agency or vehicle is on the configured priority lists, regardless of
// score. These are surfaced even when they miss the triage gates.
func (p *Pipeline) priorityMatches(opps []models.Opportunity) []models.Opportunity {
	if len(p.cfg.Filters.PriorityAgencies) == 0 && len(p.cfg.Filters.PriorityVehicles) == 0 {
		return nil
	}
	var out []models.Opportunity
	for _, o := range opps {
		if containsFold(p.cfg.Filters.PriorityAgencies, o.Agency) ||
			containsFold(p.cfg.Filters.PriorityVehicles, o.Vehicle) {
			out = append(out, o)
		}
	}
	return out
}

// containsFold reports whether any needle appears in s, case-insensitively.
func containsFold(needles []string, s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// dueSoonDays is the report horizon for "due soon"; distinct from the
// triage runway minimum.
func (p *Pipeline) dueSoonDays() int {
	if p.cfg.Scoring.DueSoonDays > 0 {
		return p.cfg.Scoring.DueSoonDays
	}
	return 14
}

func (p *Pipeline) thresholds() score.Thresholds {
	return score.Thresholds{
		MinFit:  int(p.cfg.Filters.FitThreshold),
		MaxRisk: int(p.cfg.Filters.RiskThreshold),
		MinDays: p.cfg.Filters.MinDaysToDue,
	}
}

// Triage returns the stored opportunities that clear the triage gates,
// ordered by fit.
func (p *Pipeline) Triage(ctx context.Context) ([]models.Opportunity, error) {
	all, err := p.store.List(ctx, db.ListParams{})
	if err != nil {
		return nil, err
	}
	all = refreshRunway(all, p.now())
	th := p.thresholds()
	var out []models.Opportunity
	for _, o := range all {
		if score.ShouldTriage(o.FitScore, o.RiskScore, o.DaysToDue, o.DueKnown, th) {
			out = append(out, o)
		}
	}
	return out, nil
}

// WriteReports renders the daily brief plus the CSV and NDJSON exports for
// the run, then the frontmattered run log. It returns the written paths.
func (p *Pipeline) WriteReports(ctx context.Context, sum Summary) ([]string, error) {
	day := sum.Started.Format("2006-01-02")
	dir := p.cfg.Paths.ExportDir

	triage, err := p.Triage(ctx)
	if err != nil {
		return nil, err
	}
	horizon := sum.Started.AddDate(0, 0, p.dueSoonDays()).Format("2006-01-02")
	dueSoon, err := p.store.List(ctx, db.ListParams{
		DueOnOrAfter:  day,
		DueOnOrBefore: horizon,
		OnlyDueKnown:  true,
	})
	if err != nil {
		return nil, err
	}
	dueSoon = refreshRunway(dueSoon, p.now())

	var paths []string
	daily := filepath.Join(dir, fmt.Sprintf("daily-%s.md", day))
	body := report.RenderDaily(report.Daily{
		Date:     sum.Started,
		Triage:   triage,
		DueSoon:  dueSoon,
		Priority: p.priorityMatches(sum.Changed),
		Changed:  sum.Changed,
	})
	if err := report.WriteMarkdown(daily, body); err != nil {
		return nil, err
	}
	paths = append(paths, daily)

	all, err := p.store.List(ctx, db.ListParams{})
	if err != nil {
		return nil, err
	}
	csvPath := filepath.Join(dir, fmt.Sprintf("opportunities-%s.csv", day))
	if err := report.WriteCSV(csvPath, all); err != nil {
		return nil, err
	}
	paths = append(paths, csvPath)

	ndjsonPath := filepath.Join(dir, fmt.Sprintf("opportunities-%s.ndjson", day))
	if err := report.WriteNDJSON(ndjsonPath, all); err != nil {
		return nil, err
	}
	paths = append(paths, ndjsonPath)

	status := "ok"
	var errMsg string
	if sum.Err != nil {
		status = "failed"
		errMsg = sum.Err.Error()
	}
	logBody, err := report.RenderRunLog(report.RunLog{
		RunID:       sum.RunID,
		Source:      sum.Source,
		StartedAt:   sum.Started.UTC(),
		Duration:    sum.Duration.Round(time.Millisecond).String(),
		Fetched:     sum.Counters.Fetched,
		Added:       sum.Counters.Added,
		Updated:     sum.Counters.Updated,
		Unchanged:   sum.Counters.Unchanged,
		Skipped:     sum.Counters.Skipped,
		Status:      status,
		Error:       errMsg,
		ReportPaths: paths,
	})
	if err != nil {
		return nil, err
	}
	runlogPath := filepath.Join(dir, fmt.Sprintf("run-%s.md", sum.RunID))
	if err := report.WriteMarkdown(runlogPath, logBody); err != nil {
		return nil, err
	}
	paths = append(paths, runlogPath)
	return paths, nil
}

// WriteWeekly renders the pipeline rollup to the export directory.
func (p *Pipeline) WriteWeekly(ctx context.Context) (string, error) {
	all, err := p.store.List(ctx, db.ListParams{})
	if err != nil {
		return "", err
	}
	stats, err := p.store.Stats(ctx, p.dueSoonDays())
	if err != nil {
		return "", err
	}

	weekAgo := p.now().AddDate(0, 0, -7).Format("2006-01-02")
	newHighFit, err := p.store.List(ctx, db.ListParams{
		PostedOnOrAfter: weekAgo,
		MinFit:          int(p.cfg.Filters.FitThreshold),
	})
	if err != nil {
		return "", err
	}
	qual, err := p.store.List(ctx, db.ListParams{Stage: models.StageQual})
	if err != nil {
		return "", err
	}
	bid, err := p.store.List(ctx, db.ListParams{Stage: models.StageBid})
	if err != nil {
		return "", err
	}
	changed, err := p.store.List(ctx, db.ListParams{
		UpdatedOnOrAfter: weekAgo,
		ChangedOnly:      true,
	})
	if err != nil {
		return "", err
	}

	today := p.now()
	body := report.RenderWeekly(report.Weekly{
		Date:       today,
		Open:       refreshRunway(all, today),
		ByStage:    stats.ByStage,
		NewHighFit: refreshRunway(newHighFit, today),
		InProgress: refreshRunway(append(qual, bid...), today),
		Changed:    changed,
	})
	path := filepath.Join(p.cfg.Paths.ExportDir,
		fmt.Sprintf("rollup-%s.md", p.now().Format("2006-01-02")))
	if err := report.WriteMarkdown(path, body); err != nil {
		return "", err
	}
	return path, nil
}
