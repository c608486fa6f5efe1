// ABOUTME: Policy revision registry with temporal effective-date resolution
// ABOUTME: Mutations are serialized per source; reads run on lock-free snapshots

package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/policy"
	"github.com/plancite/policystore/pkg/store"
)

// Registry tracks, for each policy source, an ordered non-overlapping
// sequence of dated revisions, and answers point-in-time queries against it.
//
// Every mutating operation runs inside the source's mutex and commits in a
// single store transaction, so a failed mutation leaves the store exactly
// as it was and readers only ever observe committed states.
type Registry struct {
	kv    *store.Store
	locks *sourceLocks
	now   func() time.Time
}

// New creates a registry over an opened store.
func New(kv *store.Store) *Registry {
	return &Registry{
		kv:    kv,
		locks: newSourceLocks(),
		now:   time.Now,
	}
}

// CreatePolicy registers a new policy source. The source slug must be
// unique; documents are never auto-created by ingestion.
func (r *Registry) CreatePolicy(source, title string, category policy.Category) (*policy.Document, error) {
	if source == "" {
		return nil, fmt.Errorf("registry: source slug is required")
	}
	if !category.Valid() {
		return nil, fmt.Errorf("registry: %w: %q", policy.ErrInvalidCategory, category)
	}

	unlock := r.locks.acquire(source)
	defer unlock()

	now := r.now().UTC()
	doc := &policy.Document{
		Source:    source,
		Title:     title,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.kv.Update(func(tx *store.Txn) error {
		if _, ok, err := tx.Get(documentKey(source)); err != nil {
			return err
		} else if ok {
			return &policy.DuplicateSourceError{Source: source}
		}
		return putDocument(tx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateRevision admits a new revision for a source. The candidate is
// validated by the admission guard; auto-supersession of a trailing
// open-ended revision is applied in the same transaction as the insert,
// and the superseded predecessor (if any) is returned alongside the new
// revision. The revision starts in processing status until the ingesting
// caller reports the outcome.
func (r *Registry) CreateRevision(source, versionLabel string, effectiveFrom time.Time, effectiveTo *time.Time, sourceFile string) (*policy.Revision, *policy.Revision, error) {
	from := datecode.Normalize(effectiveFrom)
	var to *time.Time
	if effectiveTo != nil {
		t := datecode.Normalize(*effectiveTo)
		if t.Before(from) {
			return nil, nil, fmt.Errorf("registry: %w: effective_to %s before effective_from %s",
				datecode.ErrInvalidDate, t.Format("2006-01-02"), from.Format("2006-01-02"))
		}
		to = &t
	}

	unlock := r.locks.acquire(source)
	defer unlock()

	now := r.now().UTC()
	rev := &policy.Revision{
		Source:        source,
		RevisionID:    uuid.NewString(),
		VersionLabel:  versionLabel,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Status:        policy.StatusProcessing,
		SourceFile:    sourceFile,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var superseded *policy.Revision
	err := r.kv.Update(func(tx *store.Txn) error {
		superseded = nil

		if _, err := getDocument(tx, source); err != nil {
			return err
		}

		existing, err := listRevisionsAsc(tx, source)
		if err != nil {
			return err
		}

		adm, err := planAdmission(existing, rev)
		if err != nil {
			return err
		}

		if adm.supersede != nil {
			if err := policy.Transition(adm.supersede.Status, policy.StatusSuperseded); err != nil {
				return err
			}
			closed := *adm.supersede
			closeAt := adm.closeAt
			closed.EffectiveTo = &closeAt
			closed.Status = policy.StatusSuperseded
			closed.UpdatedAt = now
			if err := putRevision(tx, &closed); err != nil {
				return err
			}
			superseded = &closed
		}

		return insertRevision(tx, rev)
	})
	if err != nil {
		return nil, nil, err
	}
	return rev, superseded, nil
}

// MarkRevisionActive records successful content ingestion.
func (r *Registry) MarkRevisionActive(source, revisionID string, chunkCount int) (*policy.Revision, error) {
	return r.updateStatus(source, revisionID, policy.StatusActive, func(rev *policy.Revision) {
		rev.ChunkCount = chunkCount
		rev.ErrorDetail = ""
	})
}

// MarkRevisionFailed records an ingestion failure. Failed is terminal
// except for deletion.
func (r *Registry) MarkRevisionFailed(source, revisionID, detail string) (*policy.Revision, error) {
	return r.updateStatus(source, revisionID, policy.StatusFailed, func(rev *policy.Revision) {
		rev.ErrorDetail = detail
	})
}

func (r *Registry) updateStatus(source, revisionID string, to policy.Status, apply func(*policy.Revision)) (*policy.Revision, error) {
	unlock := r.locks.acquire(source)
	defer unlock()

	var updated *policy.Revision
	err := r.kv.Update(func(tx *store.Txn) error {
		rev, err := getRevision(tx, source, revisionID)
		if err != nil {
			return err
		}
		if err := policy.Transition(rev.Status, to); err != nil {
			return err
		}

		rev.Status = to
		apply(rev)
		rev.UpdatedAt = r.now().UTC()
		updated = rev
		return putRevision(tx, rev)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRevision removes a revision and its index entry. Deleting the only
// active revision of a source is refused. Deleting an open-ended revision
// does not reopen a superseded predecessor: deletion is not an undo, and
// the resulting gap is deliberate.
func (r *Registry) DeleteRevision(source, revisionID string) error {
	unlock := r.locks.acquire(source)
	defer unlock()

	return r.kv.Update(func(tx *store.Txn) error {
		rev, err := getRevision(tx, source, revisionID)
		if err != nil {
			return err
		}

		if rev.Status == policy.StatusActive {
			existing, err := listRevisionsAsc(tx, source)
			if err != nil {
				return err
			}
			if countActive(existing) == 1 {
				return &policy.SoleActiveRevisionError{Source: source, RevisionID: revisionID}
			}
		}

		return removeRevision(tx, rev)
	})
}

// DeletePolicy removes a policy document. Only documents with no remaining
// revisions can be deleted.
func (r *Registry) DeletePolicy(source string) error {
	unlock := r.locks.acquire(source)
	defer unlock()

	return r.kv.Update(func(tx *store.Txn) error {
		if _, err := getDocument(tx, source); err != nil {
			return err
		}

		revs, err := listRevisionsAsc(tx, source)
		if err != nil {
			return err
		}
		if len(revs) > 0 {
			return fmt.Errorf("registry: %w: %q has %d revisions", policy.ErrDocumentHasRevisions, source, len(revs))
		}

		return tx.Delete(documentKey(source))
	})
}

// ListPolicies returns every known policy document.
func (r *Registry) ListPolicies() ([]*policy.Document, error) {
	var docs []*policy.Document
	err := r.kv.View(func(tx *store.Txn) error {
		var err error
		docs, err = listDocuments(tx)
		return err
	})
	return docs, err
}

// GetRevision fetches one revision.
func (r *Registry) GetRevision(source, revisionID string) (*policy.Revision, error) {
	var rev *policy.Revision
	err := r.kv.View(func(tx *store.Txn) error {
		var err error
		rev, err = getRevision(tx, source, revisionID)
		return err
	})
	return rev, err
}

// ListRevisions returns a source's revisions ordered newest
// effective_from first.
func (r *Registry) ListRevisions(source string) ([]*policy.Revision, error) {
	var revs []*policy.Revision
	err := r.kv.View(func(tx *store.Txn) error {
		if _, err := getDocument(tx, source); err != nil {
			return err
		}
		var err error
		revs, err = listRevisionsAsc(tx, source)
		return err
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(revs)
	return revs, nil
}

// ResolveForPolicy answers which revision of source was in force on date.
// Read-only and idempotent; takes no registry locks.
func (r *Registry) ResolveForPolicy(source string, date time.Time) (policy.Resolution, error) {
	date = datecode.Normalize(date)

	var res policy.Resolution
	err := r.kv.View(func(tx *store.Txn) error {
		var err error
		res, err = resolveInTxn(tx, source, date)
		return err
	})
	return res, err
}

// ResolveSnapshot resolves the in-force revision of every known source for
// one date. The map has exactly one entry per source. All resolutions come
// from a single store snapshot.
func (r *Registry) ResolveSnapshot(date time.Time) (map[string]policy.Resolution, error) {
	date = datecode.Normalize(date)

	var snap map[string]policy.Resolution
	err := r.kv.View(func(tx *store.Txn) error {
		var err error
		snap, err = snapshotInTxn(tx, date)
		return err
	})
	return snap, err
}
