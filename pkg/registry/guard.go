// ABOUTME: Admission control for candidate revisions
// ABOUTME: Decides auto-supersession or rejects true interval overlaps

package registry

import (
	"time"

	"github.com/plancite/policystore/pkg/policy"
)

// admission is the adjustment set a candidate needs to enter the sequence
// without breaking the non-overlap invariants. supersede, when set, is the
// open-ended predecessor to close at closeAt and mark superseded, in the
// same transaction as the insert.
type admission struct {
	supersede *policy.Revision
	closeAt   time.Time
}

// planAdmission validates a candidate against the existing revisions of its
// source (ordered by effective_from ascending) and computes the adjustments
// the insert needs. It mutates nothing.
//
// An identical effective_from is always a conflict regardless of status:
// start dates are the index key and ties are never allowed. Failed
// revisions otherwise never block a candidate, but processing ones do — a
// revision still ingesting holds its claimed interval.
func planAdmission(existing []*policy.Revision, cand *policy.Revision) (*admission, error) {
	if len(existing) == 0 {
		return &admission{}, nil
	}

	for _, r := range existing {
		if r.EffectiveFrom.Equal(cand.EffectiveFrom) {
			return nil, &policy.OverlapError{
				Source:            cand.Source,
				CandidateInterval: cand.Interval(),
				Conflicting:       r,
			}
		}
	}

	var pred, next *policy.Revision
	for _, r := range existing {
		if r.Status == policy.StatusFailed {
			continue
		}
		if r.EffectiveFrom.Before(cand.EffectiveFrom) {
			pred = r
		} else if next == nil {
			next = r
		}
	}

	adm := &admission{}

	if pred != nil {
		if pred.OpenEnded() {
			// The common supersession path: a new edition closes the one
			// currently in force the day before it starts. Only an active
			// revision can be superseded; an open-ended revision still
			// ingesting holds its claim.
			if pred.Status != policy.StatusActive {
				return nil, &policy.OverlapError{
					Source:            cand.Source,
					CandidateInterval: cand.Interval(),
					Conflicting:       pred,
				}
			}
			adm.supersede = pred
			adm.closeAt = cand.EffectiveFrom.AddDate(0, 0, -1)
		} else if !cand.EffectiveFrom.After(*pred.EffectiveTo) {
			return nil, &policy.OverlapError{
				Source:            cand.Source,
				CandidateInterval: cand.Interval(),
				Conflicting:       pred,
			}
		}
	}

	if next != nil {
		// An open-ended candidate reaches infinity, so any successor is a
		// conflict. A bounded candidate is legal inside a gap as long as it
		// ends before the successor starts; ending exactly the day before
		// is adjacency, not overlap.
		if cand.EffectiveTo == nil || !cand.EffectiveTo.Before(next.EffectiveFrom) {
			return nil, &policy.OverlapError{
				Source:            cand.Source,
				CandidateInterval: cand.Interval(),
				Conflicting:       next,
			}
		}
	}

	return adm, nil
}
