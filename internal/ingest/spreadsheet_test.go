package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestFileAdapterCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv")
	csv := "Notice ID,Title,Due Date,Set Aside\n" +
		"N-1,Cyber Support,2026-09-15,SBA\n" +
		",,,\n" +
		"N-2,Data Platform,09/20/2026,\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	recs, err := NewFileAdapter(path, "csv-export").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (blank row skipped)", len(recs))
	}

	opp := MapRecord("csv-export", recs[0])
	if opp.OpportunityID != "N-1" {
		t.Fatalf("OpportunityID = %q, want N-1", opp.OpportunityID)
	}
	if opp.DueDate != "2026-09-15" {
		t.Fatalf("DueDate = %q", opp.DueDate)
	}
	if opp.SetAside != "SBA" {
		t.Fatalf("SetAside = %q", opp.SetAside)
	}

	opp2 := MapRecord("csv-export", recs[1])
	if opp2.DueDate != "2026-09-20" {
		t.Fatalf("slash date normalized to %q", opp2.DueDate)
	}
}

func TestFileAdapterXLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.xlsx")

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	rows := [][]string{
		{"noticeId", "title", "responseDeadLine"},
		{"X-9", "Network Modernization", "2026-10-01"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := wb.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	wb.Close()

	recs, err := NewFileAdapter(path, "").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	opp := MapRecord("file", recs[0])
	if opp.OpportunityID != "X-9" || opp.DueDate != "2026-10-01" {
		t.Fatalf("mapped = %q / %q", opp.OpportunityID, opp.DueDate)
	}
}

func TestFileAdapterUnsupportedExtension(t *testing.T) {
	if _, err := NewFileAdapter("notes.txt", "").Fetch(context.Background()); err == nil {
		t.Fatal("want error for unsupported extension")
	}
}

func TestDocumentURLs(t *testing.T) {
	raw := RawRecord{
		"resourceLinks": []any{
			"https://sam.gov/api/file/1",
			"https://sam.gov/api/file/1", // duplicate
			map[string]any{"url": "https://sam.gov/api/file/2"},
		},
		"description": "See https://agency.example/sow.pdf for details.",
	}
	urls := DocumentURLs(raw)
	want := []string{
		"https://sam.gov/api/file/1",
		"https://sam.gov/api/file/2",
		"https://agency.example/sow.pdf",
	}
	if len(urls) != len(want) {
		t.Fatalf("got %d urls %v, want %d", len(urls), urls, len(want))
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}
