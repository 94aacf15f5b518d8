package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractPDFTextRejectsGarbage(t *testing.T) {
	if _, err := ExtractPDFText([]byte("not a pdf at all"), 1000); err == nil {
		t.Fatal("want error for non-PDF input")
	}
	// Truncated header exercises the parser's panic path; it must surface
	// as an error, not a crash.
	if _, err := ExtractPDFText([]byte("%PDF-1.4\n"), 1000); err == nil {
		t.Fatal("want error for truncated PDF")
	}
}

func TestFetchPDFTextSkipsBadCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("html, not pdf"))
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/listing.html", // no .pdf, skipped without a request
		srv.URL + "/broken.pdf",   // fetched but unparseable
	}
	if got := FetchPDFText(context.Background(), srv.Client(), urls, 1000); got != "" {
		t.Fatalf("got %q, want empty text", got)
	}
}
