// ABOUTME: Record layout and per-source ordered index for the registry
// ABOUTME: One record per document, one per revision, one index entry per start date

package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/policy"
	"github.com/plancite/policystore/pkg/store"
)

// Key prefixes. The effective index maps (source, encoded effective_from)
// to a revision id and is the structure predecessor lookups run against.
const (
	prefixDocument       = uint32(1000)
	prefixRevision       = uint32(2000)
	prefixEffectiveIndex = uint32(3000)
)

func documentKey(source string) []byte {
	return store.EncodeKey(prefixDocument, store.Bytes(source))
}

func documentPrefix() []byte {
	return store.KeyPrefix(prefixDocument)
}

func revisionKey(source, revisionID string) []byte {
	return store.EncodeKey(prefixRevision, store.Bytes(source), store.Bytes(revisionID))
}

func indexKey(source string, encodedFrom int32) []byte {
	return store.EncodeKey(prefixEffectiveIndex, store.Bytes(source), store.Int32(encodedFrom))
}

func indexPrefix(source string) []byte {
	return store.KeyPrefix(prefixEffectiveIndex, store.Bytes(source))
}

func getDocument(tx *store.Txn, source string) (*policy.Document, error) {
	val, ok, err := tx.Get(documentKey(source))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &policy.SourceNotFoundError{Source: source}
	}

	var doc policy.Document
	if err := json.Unmarshal(val, &doc); err != nil {
		return nil, fmt.Errorf("registry: decode document %q: %w", source, err)
	}
	return &doc, nil
}

func putDocument(tx *store.Txn, doc *policy.Document) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("registry: encode document %q: %w", doc.Source, err)
	}
	return tx.Set(documentKey(doc.Source), val)
}

func listDocuments(tx *store.Txn) ([]*policy.Document, error) {
	var docs []*policy.Document

	err := tx.Scan(documentPrefix(), func(key, val []byte) (bool, error) {
		var doc policy.Document
		if err := json.Unmarshal(val, &doc); err != nil {
			return false, fmt.Errorf("registry: decode document: %w", err)
		}
		docs = append(docs, &doc)
		return true, nil
	})
	return docs, err
}

func getRevision(tx *store.Txn, source, revisionID string) (*policy.Revision, error) {
	val, ok, err := tx.Get(revisionKey(source, revisionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &policy.RevisionNotFoundError{Source: source, RevisionID: revisionID}
	}

	var rev policy.Revision
	if err := json.Unmarshal(val, &rev); err != nil {
		return nil, fmt.Errorf("registry: decode revision %s/%s: %w", source, revisionID, err)
	}
	return &rev, nil
}

func putRevision(tx *store.Txn, rev *policy.Revision) error {
	val, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("registry: encode revision %s/%s: %w", rev.Source, rev.RevisionID, err)
	}
	return tx.Set(revisionKey(rev.Source, rev.RevisionID), val)
}

// insertRevision writes the revision record together with its index entry.
// Overlap validation belongs to the guard; this only maintains the layout,
// and must run in the same transaction as any guard adjustments.
func insertRevision(tx *store.Txn, rev *policy.Revision) error {
	if err := putRevision(tx, rev); err != nil {
		return err
	}
	return tx.Set(indexKey(rev.Source, datecode.Encode(rev.EffectiveFrom)), []byte(rev.RevisionID))
}

func removeRevision(tx *store.Txn, rev *policy.Revision) error {
	if err := tx.Delete(revisionKey(rev.Source, rev.RevisionID)); err != nil {
		return err
	}
	return tx.Delete(indexKey(rev.Source, datecode.Encode(rev.EffectiveFrom)))
}

// listRevisionsAsc returns every revision of a source ordered by
// effective_from ascending, walking the index so the order comes from the
// key layout rather than a sort.
func listRevisionsAsc(tx *store.Txn, source string) ([]*policy.Revision, error) {
	var revs []*policy.Revision

	err := tx.Scan(indexPrefix(source), func(key, val []byte) (bool, error) {
		rev, err := getRevision(tx, source, string(val))
		if err != nil {
			return false, err
		}
		revs = append(revs, rev)
		return true, nil
	})
	return revs, err
}

// sortNewestFirst orders revisions by effective_from descending, the order
// the listing API promises.
func sortNewestFirst(revs []*policy.Revision) {
	sort.Slice(revs, func(i, j int) bool {
		return revs[i].EffectiveFrom.After(revs[j].EffectiveFrom)
	})
}

func countActive(revs []*policy.Revision) int {
	n := 0
	for _, r := range revs {
		if r.Status == policy.StatusActive {
			n++
		}
	}
	return n
}
