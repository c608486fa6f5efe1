// ABOUTME: Abstract gateway to the external vector index
// ABOUTME: Chunk metadata carries encoded dates so the index filters without null handling

package vectorindex

import (
	"context"

	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/filter"
	"github.com/plancite/policystore/pkg/policy"
)

// Chunk is one ingested fragment of a revision's source document.
type Chunk struct {
	Ordinal int
	Text    string
	Vector  []float32
}

// RankedChunk is a similarity-search hit with its revision provenance.
type RankedChunk struct {
	Source       string
	RevisionID   string
	VersionLabel string
	Ordinal      int
	Text         string
	Certainty    float64
}

// Gateway is the store this core writes chunk metadata to and queries
// against. The registry never calls it; ingestion and the tool surface do.
type Gateway interface {
	// Upsert writes the revision's chunks with their temporal metadata
	// and returns the number of chunks stored.
	Upsert(ctx context.Context, rev *policy.Revision, chunks []Chunk) (int, error)

	// DeleteByRevision removes every chunk belonging to the revision and
	// returns the number removed.
	DeleteByRevision(ctx context.Context, source, revisionID string) (int, error)

	// Query runs a similarity search restricted by the criteria.
	Query(ctx context.Context, embedding []float32, criteria *filter.Criteria, limit int) ([]RankedChunk, error)
}

// chunkProperties maps a chunk and its owning revision to index metadata.
// Dates are stored encoded, the open end as the sentinel, so range
// predicates work directly on integers.
func chunkProperties(rev *policy.Revision, c Chunk) map[string]interface{} {
	toCode := datecode.EncodeOpenEnded()
	if rev.EffectiveTo != nil {
		toCode = datecode.Encode(*rev.EffectiveTo)
	}

	return map[string]interface{}{
		"text":                    c.Text,
		"ordinal":                 c.Ordinal,
		filter.FieldSource:        rev.Source,
		filter.FieldRevisionID:    rev.RevisionID,
		filter.FieldVersionLabel:  rev.VersionLabel,
		filter.FieldEffectiveFrom: datecode.Encode(rev.EffectiveFrom),
		filter.FieldEffectiveTo:   toCode,
	}
}
