// ABOUTME: Point-in-time effective-date resolution
// ABOUTME: Predecessor lookup over the per-source index, then bounds check

package registry

import (
	"time"

	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/policy"
	"github.com/plancite/policystore/pkg/store"
)

// resolveInTxn answers "which revision of source was in force on date"
// within an open snapshot transaction. It walks the index backwards from
// the largest effective_from <= date, skipping revisions that are not
// resolvable (processing or failed), and then checks the end bound:
// a date past the found revision's effective_to is a gap, and a date
// before every resolvable start is before the first revision.
func resolveInTxn(tx *store.Txn, source string, date time.Time) (policy.Resolution, error) {
	if _, err := getDocument(tx, source); err != nil {
		return policy.Resolution{}, err
	}

	var candidate *policy.Revision

	err := tx.ScanReverse(
		indexPrefix(source),
		indexKey(source, datecode.Encode(date)),
		func(key, val []byte) (bool, error) {
			rev, err := getRevision(tx, source, string(val))
			if err != nil {
				return false, err
			}
			if rev.Status != policy.StatusActive && rev.Status != policy.StatusSuperseded {
				return true, nil
			}
			candidate = rev
			return false, nil
		})
	if err != nil {
		return policy.Resolution{}, err
	}

	if candidate == nil {
		return policy.NotFoundResolution(source, date, policy.ReasonBeforeFirstRevision), nil
	}

	if !candidate.InForceOn(date) {
		return policy.NotFoundResolution(source, date, policy.ReasonDateInGap), nil
	}

	return policy.FoundResolution(source, date, candidate), nil
}

// snapshotInTxn resolves every known source independently for one date.
// Sources with nothing in force are present with a not-found reason; the
// caller decides whether that is acceptable.
func snapshotInTxn(tx *store.Txn, date time.Time) (map[string]policy.Resolution, error) {
	docs, err := listDocuments(tx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]policy.Resolution, len(docs))
	for _, doc := range docs {
		res, err := resolveInTxn(tx, doc.Source, date)
		if err != nil {
			return nil, err
		}
		out[doc.Source] = res
	}
	return out, nil
}
