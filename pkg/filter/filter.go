// ABOUTME: Builds vector-index filter criteria from resolution results
// ABOUTME: Constructs criteria only; the gateway caller runs the actual query

package filter

import (
	"errors"
	"sort"
	"time"

	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/policy"
)

// Metadata field names chunks carry in the external index schema.
const (
	FieldSource        = "source"
	FieldRevisionID    = "revision_id"
	FieldVersionLabel  = "version_label"
	FieldEffectiveFrom = "effective_from_code"
	FieldEffectiveTo   = "effective_to_code"
)

// ErrNoResolvedRevisions is returned when a revision filter is requested
// but none of the supplied resolutions found a revision.
var ErrNoResolvedRevisions = errors.New("filter: no resolved revisions to filter on")

// Criteria is a conjunctive restriction over chunk metadata. Set fields
// match membership; DateRange matches chunks whose encoded interval
// contains the encoded date. All non-empty fields apply together.
type Criteria struct {
	Sources     []string
	RevisionIDs []string
	DateRange   *DateRange
}

// DateRange selects chunks in force on a single encoded date:
// effective_from_code <= Encoded AND effective_to_code >= Encoded.
// Open-ended chunks carry the sentinel, so no null handling is needed.
type DateRange struct {
	Encoded int32
}

// BuildRevisionFilter narrows a similarity search to the exact revisions
// a set of resolutions found. Not-found resolutions are skipped; if none
// resolved, there is nothing meaningful to search against.
func BuildRevisionFilter(results ...policy.Resolution) (*Criteria, error) {
	sources := make(map[string]struct{})
	ids := make(map[string]struct{})

	for _, res := range results {
		if !res.Found {
			continue
		}
		sources[res.Revision.Source] = struct{}{}
		ids[res.Revision.RevisionID] = struct{}{}
	}
	if len(ids) == 0 {
		return nil, ErrNoResolvedRevisions
	}

	return &Criteria{
		Sources:     sortedKeys(sources),
		RevisionIDs: sortedKeys(ids),
	}, nil
}

// BuildSnapshotFilter builds a revision filter from a full snapshot.
func BuildSnapshotFilter(snapshot map[string]policy.Resolution) (*Criteria, error) {
	results := make([]policy.Resolution, 0, len(snapshot))
	for _, res := range snapshot {
		results = append(results, res)
	}
	return BuildRevisionFilter(results...)
}

// BuildDateRangeFilter selects chunks from any revision in force on the
// given date, independent of resolution.
func BuildDateRangeFilter(date time.Time) *Criteria {
	return &Criteria{
		DateRange: &DateRange{Encoded: datecode.Encode(datecode.Normalize(date))},
	}
}

// Empty reports whether the criteria restrict nothing.
func (c *Criteria) Empty() bool {
	return c == nil || (len(c.Sources) == 0 && len(c.RevisionIDs) == 0 && c.DateRange == nil)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
