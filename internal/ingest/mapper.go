package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cleartrend/leadgen/internal/models"
)

// fieldAliases maps each canonical field to the upstream key names observed
// across SAM.gov API versions and spreadsheet exports, in priority order.
// The first alias with a non-empty value wins.
var fieldAliases = map[string][]string{
	"opportunity_id": {"id", "noticeId", "noticeID", "notice_id", "solicitationNumber", "solicitation_number", "notice_number", "opportunity_id"},
	"title":          {"title", "noticeTitle", "subject", "opportunity_title"},
	"agency":         {"agency", "agencyName", "organizationName", "department", "fullParentPathName", "agency_name"},
	"summary":        {"description", "summary", "synopsis", "solicitationDescription", "text"},
	"due_date":       {"responseDeadLine", "responseDate", "dueDate", "offersDueDate", "response_deadline", "due_date", "due", "closeDate"},
	"posted_date":    {"postedDate", "publishDate", "datePosted", "postedOn", "posted_date", "posted", "openDate"},
	"est_value":      {"estimatedValue", "value", "awardCeiling", "ceiling", "baseAndAllOptionsValue", "est_value"},
	"naics":          {"naics", "naicsCode", "primaryNaics", "primaryNaicsCode", "naics_code"},
	"set_aside":      {"typeOfSetAside", "setAside", "setAsideCode", "set_aside"},
	"contract_type":  {"typeOfContract", "contractType", "contract_type"},
	"vehicle":        {"vehicle", "contractVehicle", "contract_vehicle"},
	"url":            {"uiLink", "link", "url", "samLink", "detailUrl"},
}

// attachmentKeys are the upstream keys whose list length yields the
// attachment count used in the revision-hash basis.
var attachmentKeys = []string{"resourceLinks", "attachments", "documents", "fileUrls", "links"}

// firstAlias returns the first non-empty value among the alias keys, as a
// trimmed string. A present-but-nil or present-but-empty value counts as
// absent.
func firstAlias(raw RawRecord, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s := coerceString(v); s != "" {
			return s
		}
	}
	return ""
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; render integers without exponent.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		// Some fields arrive as single-element lists of objects (e.g. point
		// of contact); take the first usable element.
		for _, e := range t {
			if s := coerceString(e); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range []string{"name", "fullName", "value", "code"} {
			if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func coerceFloat(s string) float64 {
	if s == "" {
		return 0
	}
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return f
}

func countAttachments(raw RawRecord) int {
	for _, k := range attachmentKeys {
		if list, ok := raw[k].([]any); ok {
			return len(list)
		}
	}
	return 0
}

// inferVehicle detects well-known contract vehicles mentioned in free text.
func inferVehicle(text string) string {
	t := strings.ToUpper(text)
	switch {
	case strings.Contains(t, "SEWP"):
		return "SEWP"
	case strings.Contains(t, "CIO-SP3") || strings.Contains(t, "CIOSP3"):
		return "CIO-SP3"
	case strings.Contains(t, "GWAC"):
		return "GWAC"
	}
	return ""
}

// MapRecord resolves a raw upstream record into the canonical Opportunity
// through the alias table. It is a pure function: no I/O, no mutation of raw.
// Missing fields map to empty values; rejecting records with no identity is
// the pipeline's job, not the mapper's.
func MapRecord(source string, raw RawRecord) models.Opportunity {
	opp := models.Opportunity{
		Source:        source,
		OpportunityID: firstAlias(raw, fieldAliases["opportunity_id"]),
		Title:         firstAlias(raw, fieldAliases["title"]),
		Agency:        firstAlias(raw, fieldAliases["agency"]),
		Summary:       firstAlias(raw, fieldAliases["summary"]),
		URL:           firstAlias(raw, fieldAliases["url"]),
		Vehicle:       firstAlias(raw, fieldAliases["vehicle"]),
		ContractType:  firstAlias(raw, fieldAliases["contract_type"]),
		NAICS:         firstAlias(raw, fieldAliases["naics"]),
		SetAside:      firstAlias(raw, fieldAliases["set_aside"]),
		EstValue:      coerceFloat(firstAlias(raw, fieldAliases["est_value"])),

		PostedDate: NormalizeDate(firstAlias(raw, fieldAliases["posted_date"])),
		DueDate:    NormalizeDate(firstAlias(raw, fieldAliases["due_date"])),

		AttachmentsCount: countAttachments(raw),
		StatusStage:      models.StageNew,
	}

	if opp.Summary != "" && strings.Contains(opp.Summary, "<") {
		opp.Summary = HTMLToText(opp.Summary)
	}
	if opp.URL == "" && opp.OpportunityID != "" && source == "sam" {
		opp.URL = fmt.Sprintf("https://sam.gov/opp/%s/view", opp.OpportunityID)
	}
	if opp.Vehicle == "" {
		opp.Vehicle = inferVehicle(opp.Title + " " + opp.Summary)
	}
	return opp
}
