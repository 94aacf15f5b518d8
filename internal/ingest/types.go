package ingest

import "context"

// RawRecord is an untrusted upstream record: a string-keyed mapping whose
// key names vary by source and API version. The Mapper resolves it into a
// canonical Opportunity through alias lists.
type RawRecord map[string]any

// SourceAdapter produces raw records from one upstream source. Implementations
// exist for the SAM.gov API and for CSV/XLSX spreadsheet exports.
type SourceAdapter interface {
	// Source is the label used as the first half of the identity key.
	Source() string
	// Fetch returns one bounded batch of raw records.
	Fetch(ctx context.Context) ([]RawRecord, error)
}
