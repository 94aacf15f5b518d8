package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RevisionHash fingerprints the change-detection basis of an opportunity:
// title, due date, and attachment count. Scores and timestamps are excluded
// deliberately so a rescoring run does not look like an upstream change.
func RevisionHash(title, dueDate string, attachments int) string {
	basis := fmt.Sprintf("%s|%s|%d", title, dueDate, attachments)
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}
