package models

// Stage values for the opportunity workflow. Ingestion never moves a row
// backward: once a stage other than StageNew is set it is preserved verbatim
// on subsequent runs.
const (
	StageNew       = "new"
	StageScreen    = "screen"
	StageQual      = "qual"
	StageBid       = "bid"
	StageNoBid     = "no-bid"
	StageSubmitted = "submitted"
	StageWon       = "won"
	StageLost      = "lost"
)

// ValidStage reports whether s is one of the workflow stages.
func ValidStage(s string) bool {
	switch s {
	case StageNew, StageScreen, StageQual, StageBid, StageNoBid, StageSubmitted, StageWon, StageLost:
		return true
	}
	return false
}

// Opportunity is the canonical record every source adapter maps into.
// Identity is the (Source, OpportunityID) pair; neither half alone is valid.
// PostedDate and DueDate are "YYYY-MM-DD" or the empty string when the
// upstream value was absent or unparseable.
type Opportunity struct {
	Source        string `json:"source"`
	OpportunityID string `json:"opportunity_id"`

	Title        string  `json:"title"`
	Agency       string  `json:"agency"`
	Summary      string  `json:"summary"`
	URL          string  `json:"url"`
	Vehicle      string  `json:"vehicle"`
	ContractType string  `json:"contract_type"`
	NAICS        string  `json:"naics"`
	SetAside     string  `json:"set_aside"`
	EstValue     float64 `json:"est_value"`

	PostedDate string `json:"posted_date"`
	DueDate    string `json:"due_date"`

	// DaysToDue is derived from DueDate at scoring time and recomputed every
	// run; DueKnown is false when DueDate is the unknown sentinel.
	DaysToDue int  `json:"days_to_due"`
	DueKnown  bool `json:"due_known"`

	FitScore    int      `json:"fit_score"`
	RiskScore   int      `json:"risk_score"`
	Portfolios  []string `json:"portfolios,omitempty"`
	KeywordHits []string `json:"keyword_hits,omitempty"`

	AttachmentsCount int    `json:"attachments_count"`
	ParsedDocText    string `json:"parsed_doc_text,omitempty"`

	StatusStage string `json:"status_stage"`
	RevHash     string `json:"rev_hash"`
	Revision    int    `json:"revision"`

	// RFC 3339 timestamps managed by the store.
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Document is a URL discovered in an opportunity's attachment list or free
// text. Documents are written with the parent's ingestion run and have no
// independent lifecycle.
type Document struct {
	Source        string `json:"source"`
	OpportunityID string `json:"opportunity_id"`
	URL           string `json:"url"`
	Label         string `json:"label,omitempty"`
}
