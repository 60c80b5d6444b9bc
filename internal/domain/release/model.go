// Package release decides whether a case may leave the mortuary by asking
// every configured hold source whether it still blocks the case.
package release

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Reason names a kind of release hold.
type Reason string

const (
	ReasonEconomicDebt       Reason = "economic_debt"
	ReasonBloodDebt          Reason = "blood_debt"
	ReasonLegalAuthorization Reason = "legal_authorization"
)

// CaseRef is what a hold source needs to know about a case.
type CaseRef struct {
	ID        uuid.UUID
	Code      string
	LegalCase bool
}

// Hold is one active condition blocking release.
type Hold struct {
	Reason  Reason `json:"reason"`
	Source  string `json:"source"`
	Message string `json:"message,omitempty"`
}

// HoldSource answers whether a case has an active hold. A source that
// cannot answer returns an error; it never reports "no hold" in that case.
type HoldSource interface {
	Name() string
	Check(ctx context.Context, ref CaseRef) (Hold, bool, error)
}

// Reasons returns the distinct hold reasons, sorted.
func Reasons(holds []Hold) []string {
	seen := make(map[Reason]bool, len(holds))
	out := make([]string, 0, len(holds))
	for _, h := range holds {
		if !seen[h.Reason] {
			seen[h.Reason] = true
			out = append(out, string(h.Reason))
		}
	}
	sort.Strings(out)
	return out
}

func sortHolds(holds []Hold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].Reason != holds[j].Reason {
			return holds[i].Reason < holds[j].Reason
		}
		return holds[i].Source < holds[j].Source
	})
}
