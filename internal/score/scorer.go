package score

import (
	"math"
	"strings"
)

// hitSaturation is the distinct-keyword count at which the keyword component
// maxes out. More hits than this add nothing.
const hitSaturation = 3

// Weights splits the fit score between its components. The three weights
// must sum to 1.0; config validation enforces that before a run starts.
type Weights struct {
	Keyword  float64
	NAICS    float64
	Semantic float64
}

// Scorer computes fit and risk on a 0-100 scale.
type Scorer struct {
	Weights    Weights
	NAICSAllow map[string]bool
}

func NewScorer(w Weights, naicsAllow []string) *Scorer {
	allow := make(map[string]bool, len(naicsAllow))
	for _, c := range naicsAllow {
		allow[strings.TrimSpace(c)] = true
	}
	return &Scorer{Weights: w, NAICSAllow: allow}
}

// FitScore combines keyword hit strength with NAICS alignment. The keyword
// component ramps linearly to 100 at hitSaturation distinct hits. With no
// NAICS allowlist configured the NAICS component grants full credit, since
// the profile expresses no code preference. The semantic component is a
// hook for embedding similarity and scores zero until one is wired in.
func (s *Scorer) FitScore(hits int, naics string) int {
	kw := 100 * math.Min(float64(hits)/hitSaturation, 1)

	var nc float64
	switch {
	case len(s.NAICSAllow) == 0:
		nc = 100
	case s.NAICSAllow[strings.TrimSpace(naics)]:
		nc = 100
	}

	raw := s.Weights.Keyword*kw + s.Weights.NAICS*nc + s.Weights.Semantic*0
	return clamp(int(math.Round(raw)))
}

// smallBusinessMarkers are substrings of set-aside labels that indicate a
// small-business preference (SBA, 8(a), HUBZone, SDVOSB, WOSB and friends).
var smallBusinessMarkers = []string{"sba", "small", "8(a)", "8a", "hubzone", "sdvosb", "wosb", "edwosb", "vosb"}

func isSmallBusinessSetAside(setAside string) bool {
	s := strings.ToLower(setAside)
	if s == "" {
		return false
	}
	for _, m := range smallBusinessMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// RiskScore starts at a neutral 50 and adjusts for pursuit risk: a
// small-business set-aside narrows the field (-30), a long runway gives time
// to position (-20 beyond 60 days), and a tight deadline raises it (+20
// under 15 days). Unknown due dates take neither date adjustment.
func RiskScore(setAside string, daysToDue int, dueKnown bool) int {
	risk := 50
	if isSmallBusinessSetAside(setAside) {
		risk -= 30
	}
	if dueKnown {
		if daysToDue > 60 {
			risk -= 20
		} else if daysToDue < 15 {
			risk += 20
		}
	}
	return clamp(risk)
}

// Thresholds gate which opportunities surface in the triage report.
type Thresholds struct {
	MinFit  int
	MaxRisk int
	MinDays int
}

// ShouldTriage reports whether an opportunity clears the triage gates. An
// unknown due date passes the runway check; the report flags it instead of
// hiding the opportunity.
func ShouldTriage(fit, risk, daysToDue int, dueKnown bool, t Thresholds) bool {
	if fit < t.MinFit || risk > t.MaxRisk {
		return false
	}
	if dueKnown && daysToDue < t.MinDays {
		return false
	}
	return true
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
