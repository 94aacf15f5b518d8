package ingest

import (
	"testing"
	"unicode/utf8"
)

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<div><p>Sources  sought:</p> <b>cyber</b> services</div>")
	if got != "Sources sought: cyber services" {
		t.Fatalf("HTMLToText = %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	if got := TruncateText("short", 80); got != "short" {
		t.Fatalf("no-op truncate = %q", got)
	}
	got := TruncateText("abcdefghij", 8)
	if got != "abcde..." {
		t.Fatalf("truncated = %q", got)
	}
}

func TestTruncateTextMultibyte(t *testing.T) {
	// Rune-based cutting must never split a multibyte sequence.
	s := "Solicitação de propostas — modernização"
	got := TruncateText(s, 12)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after truncation: %q", got)
	}
	if got != "Solicitaç..." {
		t.Fatalf("truncated = %q", got)
	}
}
