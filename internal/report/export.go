package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cleartrend/leadgen/internal/models"
)

var csvHeader = []string{
	"source", "opportunity_id", "title", "agency", "url", "naics",
	"set_aside", "est_value", "posted_date", "due_date", "days_to_due",
	"fit_score", "risk_score", "portfolios", "keyword_hits", "status_stage",
	"revision",
}

// WriteCSV exports opportunities as a flat CSV for spreadsheet review.
// List fields are joined with ";" so the row stays one cell per column.
func WriteCSV(path string, opps []models.Opportunity) error {
	f, err := createExport(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, o := range opps {
		row := []string{
			o.Source, o.OpportunityID, o.Title, o.Agency, o.URL, o.NAICS,
			o.SetAside, strconv.FormatFloat(o.EstValue, 'f', -1, 64),
			o.PostedDate, o.DueDate, daysLabel(o),
			strconv.Itoa(o.FitScore), strconv.Itoa(o.RiskScore),
			strings.Join(o.Portfolios, ";"), strings.Join(o.KeywordHits, ";"),
			o.StatusStage, strconv.Itoa(o.Revision),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteNDJSON exports one JSON object per line, the full record, for
// downstream tooling.
func WriteNDJSON(path string, opps []models.Opportunity) error {
	f, err := createExport(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, o := range opps {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

// WriteMarkdown writes a rendered report to disk.
func WriteMarkdown(path, body string) error {
	f, err := createExport(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}

func createExport(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return f, nil
}
