package server

import (
	"fmt"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/status"
)

// Badge is the summary a badge renderer needs: a severity, the roll-up
// counts and a ready-made label.
type Badge struct {
	Severity string          `json:"severity"`
	Label    string          `json:"label"`
	Counts   *status.Summary `json:"counts,omitempty"`
	Stale    bool            `json:"stale,omitempty"`
	Error    apperr.Code     `json:"error,omitempty"`
}

func newBadge(sum status.Summary, stale bool) Badge {
	return Badge{
		Severity: sum.Severity.String(),
		Label:    badgeLabel(sum),
		Counts:   &sum,
		Stale:    stale,
	}
}

func badgeLabel(sum status.Summary) string {
	switch sum.Severity {
	case status.Insecure:
		return "insecure"
	case status.Outdated:
		return fmt.Sprintf("%d of %d outdated", sum.Outdated, sum.Total)
	case status.Unknown:
		return "unknown"
	default:
		if sum.Total == 0 {
			return "none"
		}
		return "up to date"
	}
}

// errorBadge renders a failure as a badge state of its own.
func errorBadge(err error) Badge {
	info := classify(err)
	return Badge{Severity: "error", Label: info.label, Error: info.code}
}
