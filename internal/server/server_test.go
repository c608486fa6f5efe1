// Integration tests for the policy store HTTP API
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plancite/policystore/internal/logger"
	"github.com/plancite/policystore/internal/metrics"
	"github.com/plancite/policystore/pkg/filter"
	"github.com/plancite/policystore/pkg/policy"
	"github.com/plancite/policystore/pkg/registry"
	"github.com/plancite/policystore/pkg/store"
	"github.com/plancite/policystore/pkg/vectorindex"
)

// Prometheus collectors register globally, so all tests share one set.
var testMetrics = metrics.NewMetrics()

func newTestServer(t *testing.T) *Server {
	return newTestServerWithIndex(t, nil)
}

func newTestServerWithIndex(t *testing.T, vix vectorindex.Gateway) *Server {
	t.Helper()

	kv, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	log := logger.NewLogger(logger.Config{Level: "error", Output: io.Discard})
	return NewServer(":0", registry.New(kv), vix, testMetrics, log)
}

// stubGateway records gateway calls and serves canned query hits.
type stubGateway struct {
	queried      *filter.Criteria
	queryLimit   int
	hits         []vectorindex.RankedChunk
	purgedSource string
	purgedID     string
	purgeCount   int
}

func (g *stubGateway) Upsert(ctx context.Context, rev *policy.Revision, chunks []vectorindex.Chunk) (int, error) {
	return len(chunks), nil
}

func (g *stubGateway) DeleteByRevision(ctx context.Context, source, revisionID string) (int, error) {
	g.purgedSource = source
	g.purgedID = revisionID
	return g.purgeCount, nil
}

func (g *stubGateway) Query(ctx context.Context, embedding []float32, criteria *filter.Criteria, limit int) ([]vectorindex.RankedChunk, error) {
	g.queried = criteria
	g.queryLimit = limit
	return g.hits, nil
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func createTestPolicy(t *testing.T, s *Server, source string) {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/policies", CreatePolicyRequest{
		Source:   source,
		Title:    source,
		Category: string(policy.CategoryNationalPolicy),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to create policy %s: %d %s", source, w.Code, w.Body.String())
	}
}

func createTestRevision(t *testing.T, s *Server, source, from, to string) policy.Revision {
	t.Helper()
	w := doJSON(t, s, "POST", fmt.Sprintf("/v1/policies/%s/revisions", source), CreateRevisionRequest{
		VersionLabel:  from,
		EffectiveFrom: from,
		EffectiveTo:   to,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to create revision: %d %s", w.Code, w.Body.String())
	}

	var created CreateRevisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}
	rev := *created.Revision

	w = doJSON(t, s, "POST",
		fmt.Sprintf("/v1/policies/%s/revisions/%s/activate", source, rev.RevisionID),
		ActivateRevisionRequest{ChunkCount: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to activate revision: %d %s", w.Code, w.Body.String())
	}

	return rev
}

func TestCreatePolicyEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/policies", CreatePolicyRequest{
		Source:   "NPPF",
		Title:    "National Planning Policy Framework",
		Category: "national_policy",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Duplicate slug is a conflict.
	w = doJSON(t, s, "POST", "/v1/policies", CreatePolicyRequest{
		Source:   "NPPF",
		Title:    "Again",
		Category: "national_policy",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate source, got %d", w.Code)
	}
}

func TestCreatePolicyValidationErrors(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/policies", map[string]string{"title": "no source"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing source, got %d", w.Code)
	}

	w = doJSON(t, s, "POST", "/v1/policies", CreatePolicyRequest{
		Source:   "X",
		Category: "galactic_policy",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad category, got %d", w.Code)
	}
}

func TestCreateRevisionEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")

	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "Sept 2023",
		EffectiveFrom: "2023-09-05",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created CreateRevisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}
	if created.Revision.Status != policy.StatusProcessing {
		t.Errorf("Expected processing status, got %s", created.Revision.Status)
	}
	if created.Superseded != nil {
		t.Errorf("Expected no superseded revision, got %+v", created.Superseded)
	}
}

func TestCreateRevisionReportsSupersession(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	existing := createTestRevision(t, s, "NPPF", "2018-07-24", "")

	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "Feb 2019",
		EffectiveFrom: "2019-02-19",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created CreateRevisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}
	if created.Superseded == nil || created.Superseded.RevisionID != existing.RevisionID {
		t.Fatalf("Expected %s reported as superseded, got %+v",
			existing.RevisionID, created.Superseded)
	}
	if created.Superseded.Status != policy.StatusSuperseded {
		t.Errorf("Expected superseded status, got %s", created.Superseded.Status)
	}
}

func TestCreateRevisionOverlapConflict(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	existing := createTestRevision(t, s, "NPPF", "2023-09-05", "")

	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "dup",
		EffectiveFrom: "2023-09-05",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body["conflicting_revision_id"] != existing.RevisionID {
		t.Errorf("Expected conflicting revision %s in body, got %v",
			existing.RevisionID, body["conflicting_revision_id"])
	}
}

func TestCreateRevisionUnknownSource(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/policies/missing/revisions", CreateRevisionRequest{
		VersionLabel:  "v1",
		EffectiveFrom: "2020-01-01",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestCreateRevisionBadDate(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")

	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "v1",
		EffectiveFrom: "05/09/2023",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed date, got %d", w.Code)
	}
}

func TestFailRevisionEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")

	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "v1",
		EffectiveFrom: "2023-09-05",
	})
	var created CreateRevisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}

	w = doJSON(t, s, "POST",
		fmt.Sprintf("/v1/policies/NPPF/revisions/%s/fail", created.Revision.RevisionID),
		FailRevisionRequest{Error: "extraction produced no chunks"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var failed policy.Revision
	if err := json.Unmarshal(w.Body.Bytes(), &failed); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}
	if failed.Status != policy.StatusFailed {
		t.Errorf("Expected failed status, got %s", failed.Status)
	}
}

func TestDeleteSoleActiveRevisionConflict(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	rev := createTestRevision(t, s, "NPPF", "2023-09-05", "")

	w := doJSON(t, s, "DELETE",
		fmt.Sprintf("/v1/policies/NPPF/revisions/%s", rev.RevisionID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for sole active revision, got %d", w.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	rev := createTestRevision(t, s, "NPPF", "2023-09-05", "")

	w := doJSON(t, s, "GET", "/v1/policies/NPPF/resolve?date=2024-01-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res policy.Resolution
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to decode resolution: %v", err)
	}
	if !res.Found || res.Revision.RevisionID != rev.RevisionID {
		t.Errorf("Expected found resolution for %s, got %+v", rev.RevisionID, res)
	}

	// A pre-history date is still a 200 with a not-found result.
	w = doJSON(t, s, "GET", "/v1/policies/NPPF/resolve?date=2010-01-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to decode resolution: %v", err)
	}
	if res.Found || res.Reason != policy.ReasonBeforeFirstRevision {
		t.Errorf("Expected before_first result, got %+v", res)
	}
}

func TestResolveMissingDate(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")

	w := doJSON(t, s, "GET", "/v1/policies/NPPF/resolve", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing date, got %d", w.Code)
	}
}

func TestResolveSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	createTestPolicy(t, s, "LTN_1_20")
	createTestRevision(t, s, "NPPF", "2023-09-05", "")

	w := doJSON(t, s, "GET", "/v1/resolve?date=2024-01-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Date    string                       `json:"date"`
		Results map[string]policy.Resolution `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("Expected 2 snapshot entries, got %d", len(body.Results))
	}
	if !body.Results["NPPF"].Found {
		t.Error("Expected NPPF to resolve")
	}
	if body.Results["LTN_1_20"].Found {
		t.Error("Expected LTN_1_20 not to resolve")
	}
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t)
	createTestPolicy(t, s, "NPPF")
	createTestRevision(t, s, "NPPF", "2018-07-24", "2019-02-18")
	createTestRevision(t, s, "NPPF", "2019-02-19", "")

	w := doJSON(t, s, "GET", "/v1/policies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = doJSON(t, s, "GET", "/v1/policies/NPPF/revisions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body struct {
		Revisions []policy.Revision `json:"revisions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode revisions: %v", err)
	}
	if len(body.Revisions) != 2 {
		t.Fatalf("Expected 2 revisions, got %d", len(body.Revisions))
	}
	// Newest effective_from first.
	if !body.Revisions[0].EffectiveFrom.After(body.Revisions[1].EffectiveFrom) {
		t.Error("Expected newest-first ordering")
	}
}

func TestSearchEndpoint(t *testing.T) {
	stub := &stubGateway{hits: []vectorindex.RankedChunk{
		{Source: "NPPF", Ordinal: 3, Text: "Plans should promote sustainable transport", Certainty: 0.91},
	}}
	s := newTestServerWithIndex(t, stub)
	createTestPolicy(t, s, "NPPF")
	rev := createTestRevision(t, s, "NPPF", "2018-07-24", "")

	w := doJSON(t, s, "POST", "/v1/search", SearchRequest{
		Embedding: []float32{0.1, 0.2, 0.3},
		Date:      "2023-09-05",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if stub.queried == nil {
		t.Fatal("Expected a gateway query")
	}
	if len(stub.queried.RevisionIDs) != 1 || stub.queried.RevisionIDs[0] != rev.RevisionID {
		t.Errorf("Expected criteria pinned to %s, got %v", rev.RevisionID, stub.queried.RevisionIDs)
	}
	if stub.queryLimit != 10 {
		t.Errorf("Expected default limit 10, got %d", stub.queryLimit)
	}

	var body struct {
		Results []vectorindex.RankedChunk `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode results: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Ordinal != 3 {
		t.Errorf("Expected the stub hit back, got %+v", body.Results)
	}
}

func TestSearchNothingInForce(t *testing.T) {
	s := newTestServerWithIndex(t, &stubGateway{})
	createTestPolicy(t, s, "NPPF")
	createTestRevision(t, s, "NPPF", "2018-07-24", "")

	w := doJSON(t, s, "POST", "/v1/search", SearchRequest{
		Embedding: []float32{0.1},
		Date:      "2010-01-01",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when nothing was in force, got %d", w.Code)
	}
}

func TestSearchWithoutIndexConfigured(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/search", SearchRequest{
		Embedding: []float32{0.1},
		Date:      "2023-09-05",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a vector index, got %d", w.Code)
	}
}

func TestDeleteRevisionPurgesChunks(t *testing.T) {
	stub := &stubGateway{purgeCount: 7}
	s := newTestServerWithIndex(t, stub)
	createTestPolicy(t, s, "NPPF")
	createTestRevision(t, s, "NPPF", "2018-07-24", "")

	// Still processing, so it is deletable without tripping the
	// sole-active guard.
	w := doJSON(t, s, "POST", "/v1/policies/NPPF/revisions", CreateRevisionRequest{
		VersionLabel:  "v2",
		EffectiveFrom: "2019-02-19",
	})
	var created CreateRevisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode revision: %v", err)
	}

	w = doJSON(t, s, "DELETE",
		fmt.Sprintf("/v1/policies/NPPF/revisions/%s", created.Revision.RevisionID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if stub.purgedID != created.Revision.RevisionID || stub.purgedSource != "NPPF" {
		t.Errorf("Expected purge of NPPF/%s, got %s/%s",
			created.Revision.RevisionID, stub.purgedSource, stub.purgedID)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["chunks_purged"] != float64(7) {
		t.Errorf("Expected 7 purged chunks in body, got %v", body["chunks_purged"])
	}
}
