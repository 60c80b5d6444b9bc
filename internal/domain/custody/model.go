package custody

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	ToMortuary   Direction = "to_mortuary"
	FromMortuary Direction = "from_mortuary"
)

// Transfer is one hand-over of physical custody. Transfers are append-only.
type Transfer struct {
	ID            uuid.UUID `json:"id"`
	CaseID        uuid.UUID `json:"case_id"`
	ScannedCode   string    `json:"scanned_code"`
	Direction     Direction `json:"direction"`
	FromUser      string    `json:"from_user"`
	ToUser        string    `json:"to_user"`
	FromState     string    `json:"from_state"`
	ToState       string    `json:"to_state"`
	TransferredAt time.Time `json:"transferred_at"`
}

// NormalizeCode canonicalizes a scanned case code: surrounding whitespace
// is dropped and letters are upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
