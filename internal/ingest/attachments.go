package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"rsc.io/pdf"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// DocumentURLs collects attachment and resource links for a record: the
// structured list keys first, then any URLs embedded in the description
// text. Order is preserved and duplicates are dropped.
func DocumentURLs(raw RawRecord) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.TrimSpace(strings.TrimRight(u, ".,;"))
		if u == "" || seen[u] {
			return
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, k := range attachmentKeys {
		list, ok := raw[k].([]any)
		if !ok {
			continue
		}
		for _, e := range list {
			switch v := e.(type) {
			case string:
				add(v)
			case map[string]any:
				for _, uk := range []string{"url", "link", "href", "uri"} {
					if s, ok := v[uk].(string); ok {
						add(s)
					}
				}
			}
		}
	}

	if desc := firstAlias(raw, fieldAliases["summary"]); desc != "" {
		for _, m := range urlPattern.FindAllString(desc, -1) {
			add(m)
		}
	}
	return out
}

const maxPDFDownload = 10 << 20 // 10 MiB

// FetchPDFText downloads the first PDF among urls and extracts its text,
// capped at maxLen runes. A URL that is unreachable or not a parseable PDF
// is skipped; running out of candidates returns empty text, not an error,
// since attachment text only enriches scoring.
func FetchPDFText(ctx context.Context, client *http.Client, urls []string, maxLen int) string {
	if client == nil {
		client = http.DefaultClient
	}
	for _, u := range urls {
		if !strings.Contains(strings.ToLower(u), ".pdf") {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFDownload))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		text, err := ExtractPDFText(data, maxLen)
		if err != nil || text == "" {
			continue
		}
		return text
	}
	return ""
}

// ExtractPDFText pulls plain text out of a PDF attachment, capped at maxLen
// runes. The pdf library panics on malformed files, so recovery converts
// those into an error rather than taking down the run.
func ExtractPDFText(data []byte, maxLen int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, t := range page.Content().Text {
			b.WriteString(t.S)
			b.WriteByte(' ')
		}
		if b.Len() > maxLen*4 {
			break
		}
	}
	return TruncateText(normalizeSpace(b.String()), maxLen), nil
}
