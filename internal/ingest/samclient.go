package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// listContainerKeys are the top-level keys the API has used for the result
// list across versions, in probe order.
var listContainerKeys = []string{"opportunitiesData", "data", "results", "searchResults", "opportunities", "records"}

// SAMQuery bounds one fetch: a posted-date window, an optional free-text
// query, and a page size.
type SAMQuery struct {
	From  time.Time
	To    time.Time
	Text  string
	Limit int
}

// SAMClient fetches opportunity records from the SAM.gov search API with
// retry, backoff, and steady-state pacing. The limiter slows down after
// repeated 429 responses and stays slowed for the remainder of the run.
type SAMClient struct {
	BaseURL    string
	APIKey     string
	Query      SAMQuery
	Client     *http.Client
	MaxRetries int

	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewSAMClient builds a client with the defaults used in production runs:
// 45s request timeout, 5 retries, one request per 2 seconds steady state.
func NewSAMClient(baseURL, apiKey string, q SAMQuery) *SAMClient {
	return &SAMClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Query:      q,
		Client:     &http.Client{Timeout: 45 * time.Second},
		MaxRetries: 5,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:        logrus.WithField("source", "sam"),
	}
}

func (c *SAMClient) Source() string { return "sam" }

func (c *SAMClient) buildURL() string {
	q := url.Values{}
	q.Set("api_key", c.APIKey)
	q.Set("limit", fmt.Sprintf("%d", c.Query.Limit))
	q.Set("postedFrom", c.Query.From.Format("01/02/2006"))
	q.Set("postedTo", c.Query.To.Format("01/02/2006"))
	if c.Query.Text != "" {
		q.Set("q", c.Query.Text)
	}
	return c.BaseURL + "?" + q.Encode()
}

// Fetch retrieves one page of raw records. Rate-limit (429) and transient
// server errors are retried with exponential backoff plus jitter up to
// MaxRetries; exhausting retries fails the run loudly.
func (c *SAMClient) Fetch(ctx context.Context) ([]RawRecord, error) {
	reqURL := c.buildURL()

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			jitter := time.Duration(rand.Intn(500)) * time.Millisecond
			c.log.WithFields(logrus.Fields{"attempt": attempt, "wait": backoff + jitter}).Warn("retrying fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		payload, status, err := c.get(ctx, reqURL)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusOK:
			items := extractItems(payload)
			c.log.WithField("count", len(items)).Info("fetched page")
			return items, nil
		case status == http.StatusTooManyRequests:
			c.slowDown()
			lastErr = fmt.Errorf("rate limited (status %d)", status)
		case status >= 500:
			lastErr = fmt.Errorf("server error (%d)", status)
		default:
			return nil, fmt.Errorf("sam fetch: unexpected status %d", status)
		}
	}
	return nil, fmt.Errorf("sam fetch: retries exhausted: %w", lastErr)
}

func (c *SAMClient) get(ctx context.Context, reqURL string) (map[string]any, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode payload: %w", err)
	}
	return payload, resp.StatusCode, nil
}

// slowDown halves the steady-state request rate after a 429, flooring at one
// request per 30 seconds.
func (c *SAMClient) slowDown() {
	current := float64(c.limiter.Limit())
	next := current / 2
	if next < 1.0/30.0 {
		next = 1.0 / 30.0
	}
	c.limiter.SetLimit(rate.Limit(next))
	c.log.WithField("rps", next).Warn("adaptive slowdown after 429")
}

// extractItems probes the known list-container keys, then falls back to the
// first list value anywhere in the payload (one level of nesting), tolerating
// key-name drift across API versions.
func extractItems(payload map[string]any) []RawRecord {
	toRecords := func(list []any) []RawRecord {
		out := make([]RawRecord, 0, len(list))
		for _, e := range list {
			if m, ok := e.(map[string]any); ok {
				out = append(out, RawRecord(m))
			}
		}
		return out
	}

	for _, k := range listContainerKeys {
		if list, ok := payload[k].([]any); ok && len(list) > 0 {
			return toRecords(list)
		}
	}
	for _, v := range payload {
		if list, ok := v.([]any); ok && len(list) > 0 {
			return toRecords(list)
		}
		if nested, ok := v.(map[string]any); ok {
			for _, vv := range nested {
				if list, ok := vv.([]any); ok && len(list) > 0 {
					return toRecords(list)
				}
			}
		}
	}
	return nil
}
