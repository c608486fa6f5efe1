// ABOUTME: Point-in-time resolution outcomes
// ABOUTME: "No revision applies" is a first-class result, not an error

package policy

import "time"

// NotFoundReason explains a resolution that yielded no revision.
type NotFoundReason string

const (
	// ReasonBeforeFirstRevision means the date precedes every revision of
	// the source.
	ReasonBeforeFirstRevision NotFoundReason = "date_before_first_revision"

	// ReasonDateInGap means the date falls after a revision's end and
	// before any successor's start.
	ReasonDateInGap NotFoundReason = "date_in_gap"
)

// Resolution is the answer to "which revision of this source was in force
// on this date". Revision is nil exactly when Found is false, in which case
// Reason says why nothing applied.
type Resolution struct {
	Source   string         `json:"source"`
	Date     time.Time      `json:"date"`
	Found    bool           `json:"found"`
	Revision *Revision      `json:"revision,omitempty"`
	Reason   NotFoundReason `json:"reason,omitempty"`
}

// Found builds a successful resolution.
func FoundResolution(source string, date time.Time, rev *Revision) Resolution {
	return Resolution{Source: source, Date: date, Found: true, Revision: rev}
}

// NotFoundResolution builds a no-revision-applies resolution.
func NotFoundResolution(source string, date time.Time, reason NotFoundReason) Resolution {
	return Resolution{Source: source, Date: date, Reason: reason}
}
