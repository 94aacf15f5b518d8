package score

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeText lowercases and folds punctuation to single spaces so that
// "AI-driven" and "ai driven" compare equal.
func normalizeText(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// expandKeyword turns a compound keyword into its matchable variants. A
// keyword like "zero-trust" or "CI/CD" yields the space-joined phrase plus
// each part, so "zero trust architecture" still hits. Parts shorter than
// minLen are kept only when allowlisted, which stops two-letter fragments
// like "it" from matching everything.
func expandKeyword(kw string, minLen int, allow map[string]bool) []string {
	norm := normalizeText(kw)
	if norm == "" {
		return nil
	}
	variants := []string{norm}
	if strings.ContainsAny(kw, "/-") {
		for _, part := range strings.Fields(norm) {
			if len(part) >= minLen || allow[part] {
				variants = append(variants, part)
			}
		}
	}

	seen := map[string]bool{}
	out := variants[:0]
	for _, v := range variants {
		if len(v) < minLen && !allow[v] {
			continue
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Matcher matches normalized text against portfolio keyword lists using
// word-boundary patterns with an optional plural "s".
type Matcher struct {
	portfolios map[string][]compiled
}

type compiled struct {
	keyword string
	res     []*regexp.Regexp
}

// NewMatcher compiles the portfolio keyword lists once. minLen is the
// minimum keyword length; shorter keywords only match when allowlisted.
func NewMatcher(portfolios map[string][]string, minLen int, shortAllowlist []string) *Matcher {
	allow := make(map[string]bool, len(shortAllowlist))
	for _, a := range shortAllowlist {
		allow[strings.ToLower(a)] = true
	}

	m := &Matcher{portfolios: make(map[string][]compiled, len(portfolios))}
	for name, keywords := range portfolios {
		for _, kw := range keywords {
			variants := expandKeyword(kw, minLen, allow)
			if len(variants) == 0 {
				logrus.WithFields(logrus.Fields{"portfolio": name, "keyword": kw}).
					Debug("keyword below minimum length, skipped")
				continue
			}
			c := compiled{keyword: kw}
			for _, v := range variants {
				c.res = append(c.res, regexp.MustCompile(`\b`+regexp.QuoteMeta(v)+`s?\b`))
			}
			m.portfolios[name] = append(m.portfolios[name], c)
		}
	}
	return m
}

// MatchResult reports which portfolios an opportunity belongs to and the
// distinct keywords that hit, both sorted for stable output.
type MatchResult struct {
	Portfolios []string
	Hits       []string
}

// Match runs every portfolio's keywords over the combined opportunity text.
func (m *Matcher) Match(text string) MatchResult {
	norm := normalizeText(text)
	if norm == "" {
		return MatchResult{}
	}

	var res MatchResult
	hitSet := map[string]bool{}
	for name, keywords := range m.portfolios {
		matched := false
		for _, c := range keywords {
			for _, re := range c.res {
				if re.MatchString(norm) {
					matched = true
					hitSet[c.keyword] = true
					break
				}
			}
		}
		if matched {
			res.Portfolios = append(res.Portfolios, name)
		}
	}
	for h := range hitSet {
		res.Hits = append(res.Hits, h)
	}
	sort.Strings(res.Portfolios)
	sort.Strings(res.Hits)
	return res
}
