package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FileAdapter reads opportunity records exported from a portal as CSV or
// XLSX. Header names pass through the same alias tables as API payloads, so
// a column named "noticeId" or "Solicitation Number" both land on the
// opportunity identifier.
type FileAdapter struct {
	Path       string
	SourceName string
}

func NewFileAdapter(path, source string) *FileAdapter {
	if source == "" {
		source = "file"
	}
	return &FileAdapter{Path: path, SourceName: source}
}

func (f *FileAdapter) Source() string { return f.SourceName }

func (f *FileAdapter) Fetch(ctx context.Context) ([]RawRecord, error) {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".csv":
		return f.readCSV(ctx)
	case ".xlsx":
		return f.readXLSX(ctx)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(f.Path))
	}
}

func (f *FileAdapter) readCSV(ctx context.Context) ([]RawRecord, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rowsToRecords(ctx, rows)
}

func (f *FileAdapter) readXLSX(ctx context.Context) ([]RawRecord, error) {
	wb, err := excelize.OpenFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rowsToRecords(ctx, rows)
}

// rowsToRecords treats the first row as headers and zips each following row
// into a RawRecord. Short rows are padded; blank rows are skipped.
func rowsToRecords(ctx context.Context, rows [][]string) ([]RawRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = normalizeHeader(h)
	}

	out := make([]RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := RawRecord{}
		blank := true
		for i, h := range headers {
			if h == "" {
				continue
			}
			var v string
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			if v != "" {
				blank = false
			}
			rec[h] = v
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out, nil
}

// normalizeHeader folds spreadsheet column headings onto the alias-table
// spellings: "Notice ID" -> "noticeId" style camel case is left to the alias
// tables; here we only trim and collapse spaces to camelCase-free keys that
// the tables already list (e.g. "set_aside", "due_date").
func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	// Exact header already known to the alias tables wins.
	if aliasKnown(h) {
		return h
	}
	lowered := strings.ToLower(strings.Join(strings.Fields(h), "_"))
	return lowered
}

func aliasKnown(h string) bool {
	for _, aliases := range fieldAliases {
		for _, a := range aliases {
			if a == h {
				return true
			}
		}
	}
	return false
}
