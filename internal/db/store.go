package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/cleartrend/leadgen/internal/models"
)

// Store persists opportunities, their documents, portfolio definitions, and
// ingest run bookkeeping in a single SQLite file.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn, now: time.Now}
}

// UpsertOutcome classifies what an upsert did to the row.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Upsert inserts or refreshes one opportunity keyed by (source,
// opportunity_id), inside its own transaction.
//
// The revision counter only moves when the revision hash changes, so
// re-ingesting identical data is idempotent. The stored status stage is
// sticky: once a row leaves "new", upstream refreshes never pull it back.
func (s *Store) Upsert(ctx context.Context, opp *models.Opportunity) (UpsertOutcome, error) {
	if opp.Source == "" || opp.OpportunityID == "" {
		return OutcomeUnchanged, fmt.Errorf("upsert: missing identity (source=%q, opportunity_id=%q)", opp.Source, opp.OpportunityID)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var (
		prevHash  string
		prevRev   int
		prevStage string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT rev_hash, revision, status_stage FROM opportunities WHERE source = ? AND opportunity_id = ?`,
		opp.Source, opp.OpportunityID,
	).Scan(&prevHash, &prevRev, &prevStage)

	now := s.now().UTC().Format(time.RFC3339)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Revision 0 marks a first sighting; any positive revision means the
		// record has changed upstream since we first stored it.
		opp.Revision = 0
		opp.CreatedAt = now
		opp.UpdatedAt = now
		if opp.StatusStage == "" {
			opp.StatusStage = models.StageNew
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO opportunities (
			source, opportunity_id, title, agency, summary, url, vehicle,
			contract_type, naics, set_aside, est_value, posted_date, due_date,
			days_to_due, due_known, fit_score, risk_score, portfolios,
			keyword_hits, attachments_count, parsed_doc_text, status_stage,
			rev_hash, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			opp.Source, opp.OpportunityID, opp.Title, opp.Agency, opp.Summary,
			opp.URL, opp.Vehicle, opp.ContractType, opp.NAICS, opp.SetAside,
			opp.EstValue, opp.PostedDate, opp.DueDate, opp.DaysToDue,
			boolToInt(opp.DueKnown), opp.FitScore, opp.RiskScore,
			marshalList(opp.Portfolios), marshalList(opp.KeywordHits),
			opp.AttachmentsCount, opp.ParsedDocText, opp.StatusStage,
			opp.RevHash, opp.Revision, opp.CreatedAt, opp.UpdatedAt,
		); err != nil {
			return OutcomeUnchanged, fmt.Errorf("insert opportunity: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return OutcomeUnchanged, fmt.Errorf("commit insert: %w", err)
		}
		return OutcomeInserted, nil

	case err != nil:
		return OutcomeUnchanged, fmt.Errorf("lookup opportunity: %w", err)
	}

	outcome := OutcomeUnchanged
	opp.Revision = prevRev
	if opp.RevHash != prevHash {
		opp.Revision = prevRev + 1
		outcome = OutcomeUpdated
	}
	opp.StatusStage = prevStage
	opp.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `UPDATE opportunities SET
		title = ?, agency = ?, summary = ?, url = ?, vehicle = ?,
		contract_type = ?, naics = ?, set_aside = ?, est_value = ?,
		posted_date = ?, due_date = ?, days_to_due = ?, due_known = ?,
		fit_score = ?, risk_score = ?, portfolios = ?, keyword_hits = ?,
		attachments_count = ?, parsed_doc_text = ?, rev_hash = ?,
		revision = ?, updated_at = ?
	WHERE source = ? AND opportunity_id = ?`,
		opp.Title, opp.Agency, opp.Summary, opp.URL, opp.Vehicle,
		opp.ContractType, opp.NAICS, opp.SetAside, opp.EstValue,
		opp.PostedDate, opp.DueDate, opp.DaysToDue, boolToInt(opp.DueKnown),
		opp.FitScore, opp.RiskScore, marshalList(opp.Portfolios),
		marshalList(opp.KeywordHits), opp.AttachmentsCount, opp.ParsedDocText,
		opp.RevHash, opp.Revision, opp.UpdatedAt,
		opp.Source, opp.OpportunityID,
	); err != nil {
		return OutcomeUnchanged, fmt.Errorf("update opportunity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("commit update: %w", err)
	}
	return outcome, nil
}

// UpdateStage moves one opportunity through the pipeline stages by hand.
func (s *Store) UpdateStage(ctx context.Context, source, oppID, stage string) error {
	if !models.ValidStage(stage) {
		return fmt.Errorf("invalid stage %q", stage)
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE opportunities SET status_stage = ?, updated_at = ? WHERE source = ? AND opportunity_id = ?`,
		stage, s.now().UTC().Format(time.RFC3339), source, oppID,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("opportunity %s/%s not found", source, oppID)
	}
	return nil
}

// ListParams narrows a List query. Zero values mean no constraint. Window
// bounds are "YYYY-MM-DD" strings; they compare correctly against both the
// date columns and the RFC 3339 updated_at column.
type ListParams struct {
	Source           string
	Stage            string
	MinFit           int
	MaxRisk          int // 0 means unconstrained
	DueOnOrAfter     string
	DueOnOrBefore    string
	PostedOnOrAfter  string
	UpdatedOnOrAfter string
	OnlyDueKnown     bool
	// ChangedOnly keeps rows whose revision is positive, i.e. changed
	// upstream since first sighting.
	ChangedOnly bool
	Portfolio   string
	Limit       int
}

// List returns opportunities ordered by fit score descending, then due date.
func (s *Store) List(ctx context.Context, p ListParams) ([]models.Opportunity, error) {
	q := sq.Select(
		"source", "opportunity_id", "title", "agency", "summary", "url",
		"vehicle", "contract_type", "naics", "set_aside", "est_value",
		"posted_date", "due_date", "days_to_due", "due_known", "fit_score",
		"risk_score", "portfolios", "keyword_hits", "attachments_count",
		"parsed_doc_text", "status_stage", "rev_hash", "revision",
		"created_at", "updated_at",
	).From("opportunities").OrderBy("fit_score DESC", "due_date ASC")

	if p.Source != "" {
		q = q.Where(sq.Eq{"source": p.Source})
	}
	if p.Stage != "" {
		q = q.Where(sq.Eq{"status_stage": p.Stage})
	}
	if p.MinFit > 0 {
		q = q.Where(sq.GtOrEq{"fit_score": p.MinFit})
	}
	if p.MaxRisk > 0 {
		q = q.Where(sq.LtOrEq{"risk_score": p.MaxRisk})
	}
	if p.DueOnOrAfter != "" {
		q = q.Where(sq.And{sq.NotEq{"due_date": ""}, sq.GtOrEq{"due_date": p.DueOnOrAfter}})
	}
	if p.DueOnOrBefore != "" {
		q = q.Where(sq.And{sq.NotEq{"due_date": ""}, sq.LtOrEq{"due_date": p.DueOnOrBefore}})
	}
	if p.PostedOnOrAfter != "" {
		q = q.Where(sq.And{sq.NotEq{"posted_date": ""}, sq.GtOrEq{"posted_date": p.PostedOnOrAfter}})
	}
	if p.UpdatedOnOrAfter != "" {
		q = q.Where(sq.GtOrEq{"updated_at": p.UpdatedOnOrAfter})
	}
	if p.OnlyDueKnown {
		q = q.Where(sq.Eq{"due_known": 1})
	}
	if p.ChangedOnly {
		q = q.Where(sq.Gt{"revision": 0})
	}
	if p.Portfolio != "" {
		q = q.Where(sq.Like{"portfolios": "%" + `"` + p.Portfolio + `"` + "%"})
	}
	if p.Limit > 0 {
		q = q.Limit(uint64(p.Limit))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, opp)
	}
	return out, rows.Err()
}

// Get fetches one opportunity by identity.
func (s *Store) Get(ctx context.Context, source, oppID string) (models.Opportunity, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		source, opportunity_id, title, agency, summary, url, vehicle,
		contract_type, naics, set_aside, est_value, posted_date, due_date,
		days_to_due, due_known, fit_score, risk_score, portfolios,
		keyword_hits, attachments_count, parsed_doc_text, status_stage,
		rev_hash, revision, created_at, updated_at
	FROM opportunities WHERE source = ? AND opportunity_id = ?`, source, oppID)
	if err != nil {
		return models.Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Opportunity{}, err
		}
		return models.Opportunity{}, fmt.Errorf("opportunity %s/%s not found", source, oppID)
	}
	return scanOpportunity(rows)
}

func scanOpportunity(rows *sql.Rows) (models.Opportunity, error) {
	var (
		o                  models.Opportunity
		dueKnown           int
		portfolios, kwHits string
	)
	err := rows.Scan(
		&o.Source, &o.OpportunityID, &o.Title, &o.Agency, &o.Summary, &o.URL,
		&o.Vehicle, &o.ContractType, &o.NAICS, &o.SetAside, &o.EstValue,
		&o.PostedDate, &o.DueDate, &o.DaysToDue, &dueKnown, &o.FitScore,
		&o.RiskScore, &portfolios, &kwHits, &o.AttachmentsCount,
		&o.ParsedDocText, &o.StatusStage, &o.RevHash, &o.Revision,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, fmt.Errorf("scan opportunity: %w", err)
	}
	o.DueKnown = dueKnown != 0
	o.Portfolios = unmarshalList(portfolios)
	o.KeywordHits = unmarshalList(kwHits)
	return o, nil
}

// ReplaceDocuments swaps the stored document set for an opportunity.
func (s *Store) ReplaceDocuments(ctx context.Context, source, oppID string, docs []models.Document) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin documents: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE source = ? AND opportunity_id = ?`, source, oppID); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	for _, d := range docs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (source, opportunity_id, url, label) VALUES (?, ?, ?, ?)`,
			source, oppID, d.URL, d.Label); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}
	return tx.Commit()
}

// Documents lists the stored attachments for an opportunity in insert order.
func (s *Store) Documents(ctx context.Context, source, oppID string) ([]models.Document, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT url, label FROM documents WHERE source = ? AND opportunity_id = ? ORDER BY id`,
		source, oppID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d := models.Document{Source: source, OpportunityID: oppID}
		if err := rows.Scan(&d.URL, &d.Label); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SyncPortfolios mirrors the configured portfolio keyword lists into the
// database so reports can be reproduced from the file alone.
func (s *Store) SyncPortfolios(ctx context.Context, portfolios map[string][]string) error {
	now := s.now().UTC().Format(time.RFC3339)
	for name, keywords := range portfolios {
		if _, err := s.conn.ExecContext(ctx,
			`INSERT INTO portfolios (name, keywords, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET keywords = excluded.keywords, updated_at = excluded.updated_at`,
			name, marshalList(keywords), now); err != nil {
			return fmt.Errorf("sync portfolio %s: %w", name, err)
		}
	}
	return nil
}

// RunCounters is the per-run tally recorded in ingest_runs.
type RunCounters struct {
	Fetched   int
	Added     int
	Updated   int
	Unchanged int
	Skipped   int
}

// StartRun records the start of an ingest run and returns its id.
func (s *Store) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, started_at) VALUES (?, ?, ?)`,
		id, source, s.now().UTC().Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun closes out a run with its counters; a non-empty errMsg marks it
// failed.
func (s *Store) FinishRun(ctx context.Context, id string, c RunCounters, errMsg string) error {
	status := "ok"
	if errMsg != "" {
		status = "failed"
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE ingest_runs SET finished_at = ?, fetched = ?, added = ?, updated = ?,
		 unchanged = ?, skipped = ?, status = ?, error = ? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339), c.Fetched, c.Added, c.Updated,
		c.Unchanged, c.Skipped, status, errMsg, id); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Stats summarizes the pipeline's current state.
type Stats struct {
	Total   int
	ByStage map[string]int
	DueSoon int // known due date within horizonDays of today
}

func (s *Store) Stats(ctx context.Context, horizonDays int) (Stats, error) {
	st := Stats{ByStage: map[string]int{}}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("count opportunities: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT status_stage, COUNT(*) FROM opportunities GROUP BY status_stage`)
	if err != nil {
		return st, fmt.Errorf("count by stage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return st, fmt.Errorf("scan stage count: %w", err)
		}
		st.ByStage[stage] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	today := s.now().UTC().Format("2006-01-02")
	horizon := s.now().UTC().AddDate(0, 0, horizonDays).Format("2006-01-02")
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE due_known = 1 AND due_date >= ? AND due_date <= ?`,
		today, horizon).Scan(&st.DueSoon); err != nil {
		return st, fmt.Errorf("count due soon: %w", err)
	}
	return st, nil
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
