// ABOUTME: Weaviate-backed implementation of the vector index gateway
// ABOUTME: Batch upsert/delete by revision, nearVector query with where-filters

package vectorindex

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/plancite/policystore/pkg/filter"
	"github.com/plancite/policystore/pkg/policy"
)

// WeaviateConfig configures the gateway adapter.
type WeaviateConfig struct {
	Host   string
	Scheme string
	Class  string
	Logger *zerolog.Logger
}

// WeaviateGateway implements Gateway over a Weaviate instance.
type WeaviateGateway struct {
	client *weaviate.Client
	class  string
	log    zerolog.Logger
}

// NewWeaviateGateway connects to the configured Weaviate host.
func NewWeaviateGateway(cfg WeaviateConfig) (*WeaviateGateway, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("vectorindex: weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Class == "" {
		cfg.Class = "PolicyChunk"
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: failed to create weaviate client: %w", err)
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &WeaviateGateway{client: client, class: cfg.Class, log: log}, nil
}

func (g *WeaviateGateway) Upsert(ctx context.Context, rev *policy.Revision, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:      g.class,
			ID:         strfmt.UUID(chunkID(rev.RevisionID, c.Ordinal)),
			Vector:     c.Vector,
			Properties: chunkProperties(rev, c),
		}
	}

	resp, err := g.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: batch upsert failed: %w", err)
	}

	stored := 0
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors == nil {
			stored++
		}
	}
	if stored != len(chunks) {
		g.log.Warn().
			Str("revision_id", rev.RevisionID).
			Int("requested", len(chunks)).
			Int("stored", stored).
			Msg("Partial batch upsert")
	}

	return stored, nil
}

func (g *WeaviateGateway) DeleteByRevision(ctx context.Context, source, revisionID string) (int, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{filter.FieldSource}).
				WithOperator(filters.Equal).
				WithValueText(source),
			filters.Where().
				WithPath([]string{filter.FieldRevisionID}).
				WithOperator(filters.Equal).
				WithValueText(revisionID),
		})

	resp, err := g.client.Batch().ObjectsBatchDeleter().
		WithClassName(g.class).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: batch delete failed: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}

	if resp.Results.Failed > 0 {
		g.log.Warn().
			Str("revision_id", revisionID).
			Int64("failed", resp.Results.Failed).
			Msg("Partial batch delete")
	}

	return int(resp.Results.Successful), nil
}

func (g *WeaviateGateway) Query(ctx context.Context, embedding []float32, criteria *filter.Criteria, limit int) ([]RankedChunk, error) {
	if limit <= 0 {
		limit = 10
	}

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "ordinal"},
		{Name: filter.FieldSource},
		{Name: filter.FieldRevisionID},
		{Name: filter.FieldVersionLabel},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	query := g.client.GraphQL().Get().
		WithClassName(g.class).
		WithFields(fields...).
		WithNearVector(g.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)).
		WithLimit(limit)

	if where := buildWhere(criteria); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vectorindex: query error: %s", result.Errors[0].Message)
	}

	return g.parseHits(result)
}

// buildWhere translates filter criteria into a Weaviate where clause.
// Set membership becomes an Or of equality operands; the date range
// becomes a pair of integer bound comparisons against the encoded dates.
func buildWhere(criteria *filter.Criteria) *filters.WhereBuilder {
	if criteria.Empty() {
		return nil
	}

	var operands []*filters.WhereBuilder
	if len(criteria.Sources) > 0 {
		operands = append(operands, anyOf(filter.FieldSource, criteria.Sources))
	}
	if len(criteria.RevisionIDs) > 0 {
		operands = append(operands, anyOf(filter.FieldRevisionID, criteria.RevisionIDs))
	}
	if criteria.DateRange != nil {
		encoded := int64(criteria.DateRange.Encoded)
		operands = append(operands,
			filters.Where().
				WithPath([]string{filter.FieldEffectiveFrom}).
				WithOperator(filters.LessThanEqual).
				WithValueInt(encoded),
			filters.Where().
				WithPath([]string{filter.FieldEffectiveTo}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(encoded),
		)
	}

	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func anyOf(field string, values []string) *filters.WhereBuilder {
	if len(values) == 1 {
		return filters.Where().
			WithPath([]string{field}).
			WithOperator(filters.Equal).
			WithValueText(values[0])
	}

	operands := make([]*filters.WhereBuilder, len(values))
	for i, v := range values {
		operands[i] = filters.Where().
			WithPath([]string{field}).
			WithOperator(filters.Equal).
			WithValueText(v)
	}
	return filters.Where().WithOperator(filters.Or).WithOperands(operands)
}

func (g *WeaviateGateway) parseHits(result *models.GraphQLResponse) ([]RankedChunk, error) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []RankedChunk{}, nil
	}
	objects, ok := data[g.class].([]interface{})
	if !ok {
		return []RankedChunk{}, nil
	}

	hits := make([]RankedChunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		hit := RankedChunk{
			Source:       getString(m, filter.FieldSource),
			RevisionID:   getString(m, filter.FieldRevisionID),
			VersionLabel: getString(m, filter.FieldVersionLabel),
			Ordinal:      getInt(m, "ordinal"),
			Text:         getString(m, "text"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			hit.Certainty = getFloat64(add, "certainty")
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// chunkID derives a stable deterministic object id so re-ingesting a
// revision overwrites its chunks instead of duplicating them.
func chunkID(revisionID string, ordinal int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", revisionID, ordinal)))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
