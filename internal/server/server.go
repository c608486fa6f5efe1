// Package server exposes the policy registry as a JSON HTTP API
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plancite/policystore/internal/logger"
	"github.com/plancite/policystore/internal/metrics"
	"github.com/plancite/policystore/pkg/datecode"
	"github.com/plancite/policystore/pkg/filter"
	"github.com/plancite/policystore/pkg/policy"
	"github.com/plancite/policystore/pkg/registry"
	"github.com/plancite/policystore/pkg/vectorindex"
)

// Server hosts the registry API.
type Server struct {
	reg  *registry.Registry
	vix  vectorindex.Gateway
	m    *metrics.Metrics
	log  *logger.Logger
	http *http.Server
}

// NewServer creates the API server on the given listen address. The vector
// index gateway may be nil, in which case search is unavailable and deleted
// revisions are not purged from the index.
func NewServer(addr string, reg *registry.Registry, vix vectorindex.Gateway, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{reg: reg, vix: vix, m: m, log: log}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	v1 := router.Group("/v1")
	RegisterRoutes(v1, s)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterRoutes attaches the registry endpoints to a router group.
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	rg.POST("/policies", s.handleCreatePolicy)
	rg.GET("/policies", s.handleListPolicies)
	rg.DELETE("/policies/:source", s.handleDeletePolicy)

	rg.POST("/policies/:source/revisions", s.handleCreateRevision)
	rg.GET("/policies/:source/revisions", s.handleListRevisions)
	rg.GET("/policies/:source/revisions/:id", s.handleGetRevision)
	rg.DELETE("/policies/:source/revisions/:id", s.handleDeleteRevision)
	rg.POST("/policies/:source/revisions/:id/activate", s.handleActivateRevision)
	rg.POST("/policies/:source/revisions/:id/fail", s.handleFailRevision)

	rg.GET("/policies/:source/resolve", s.handleResolve)
	rg.GET("/resolve", s.handleResolveSnapshot)

	rg.POST("/search", s.handleSearch)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.LogServerReady(s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.LogServerShutdown()
	return s.http.Shutdown(ctx)
}

// ========== Policy operations ==========

// CreatePolicyRequest is the body for POST /v1/policies.
type CreatePolicyRequest struct {
	Source   string `json:"source" binding:"required"`
	Title    string `json:"title"`
	Category string `json:"category" binding:"required"`
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := s.reg.CreatePolicy(req.Source, req.Title, policy.Category(req.Category))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleListPolicies(c *gin.Context) {
	docs, err := s.reg.ListPolicies()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": docs})
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	if err := s.reg.DeletePolicy(c.Param("source")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ========== Revision operations ==========

// CreateRevisionRequest is the body for POST /v1/policies/:source/revisions.
// Dates use ISO 8601 calendar form; effective_to empty means open-ended.
type CreateRevisionRequest struct {
	VersionLabel  string `json:"version_label" binding:"required"`
	EffectiveFrom string `json:"effective_from" binding:"required"`
	EffectiveTo   string `json:"effective_to"`
	SourceFile    string `json:"source_file"`
}

// CreateRevisionResponse reports the admitted revision and, when the
// admission auto-closed an open-ended predecessor, the superseded revision.
type CreateRevisionResponse struct {
	Revision   *policy.Revision `json:"revision"`
	Superseded *policy.Revision `json:"superseded,omitempty"`
}

func (s *Server) handleCreateRevision(c *gin.Context) {
	var req CreateRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from, err := parseDate(req.EffectiveFrom)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var to *time.Time
	if req.EffectiveTo != "" {
		parsed, err := parseDate(req.EffectiveTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		to = &parsed
	}

	rev, superseded, err := s.reg.CreateRevision(c.Param("source"), req.VersionLabel, from, to, req.SourceFile)
	if err != nil {
		if errors.Is(err, policy.ErrRevisionOverlap) {
			s.m.OverlapsRejectedTotal.Inc()
		}
		s.renderError(c, err)
		return
	}

	s.m.RevisionsCreatedTotal.Inc()
	if superseded != nil {
		s.m.SupersessionsTotal.Inc()
	}
	c.JSON(http.StatusCreated, CreateRevisionResponse{Revision: rev, Superseded: superseded})
}

func (s *Server) handleListRevisions(c *gin.Context) {
	revs, err := s.reg.ListRevisions(c.Param("source"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (s *Server) handleGetRevision(c *gin.Context) {
	rev, err := s.reg.GetRevision(c.Param("source"), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rev)
}

func (s *Server) handleDeleteRevision(c *gin.Context) {
	source, id := c.Param("source"), c.Param("id")
	if err := s.reg.DeleteRevision(source, id); err != nil {
		s.renderError(c, err)
		return
	}
	s.m.RevisionsDeletedTotal.Inc()

	body := gin.H{"status": "deleted"}
	if s.vix != nil {
		purged, err := s.vix.DeleteByRevision(c.Request.Context(), source, id)
		if err != nil {
			// The registry delete already committed; the index is cleaned
			// up opportunistically and a failure here is not fatal.
			s.log.Warn("Failed to purge revision chunks").
				Err(err).Str("source", source).Str("revision_id", id).Send()
		} else {
			body["chunks_purged"] = purged
		}
	}
	c.JSON(http.StatusOK, body)
}

// ActivateRevisionRequest reports successful ingestion of a revision.
type ActivateRevisionRequest struct {
	ChunkCount int `json:"chunk_count"`
}

func (s *Server) handleActivateRevision(c *gin.Context) {
	var req ActivateRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rev, err := s.reg.MarkRevisionActive(c.Param("source"), c.Param("id"), req.ChunkCount)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rev)
}

// FailRevisionRequest reports a failed ingestion of a revision.
type FailRevisionRequest struct {
	Error string `json:"error" binding:"required"`
}

func (s *Server) handleFailRevision(c *gin.Context) {
	var req FailRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rev, err := s.reg.MarkRevisionFailed(c.Param("source"), c.Param("id"), req.Error)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rev)
}

// ========== Resolution operations ==========

func (s *Server) handleResolve(c *gin.Context) {
	date, err := parseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.reg.ResolveForPolicy(c.Param("source"), date)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.m.RecordResolution(resolutionOutcome(res))
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleResolveSnapshot(c *gin.Context) {
	date, err := parseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.reg.ResolveSnapshot(date)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.m.SnapshotQueriesTotal.Inc()
	for _, res := range snap {
		s.m.RecordResolution(resolutionOutcome(res))
	}
	c.JSON(http.StatusOK, gin.H{"date": c.Query("date"), "results": snap})
}

// ========== Search ==========

// SearchRequest is the body for POST /v1/search. The query embedding is
// matched only against chunks of revisions in force on the given date;
// sources narrows the snapshot to the named policies.
type SearchRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Date      string    `json:"date" binding:"required"`
	Sources   []string  `json:"sources"`
	Limit     int       `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	if s.vix == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index is not configured"})
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	criteria, err := s.searchCriteria(req.Sources, date)
	if err != nil {
		if errors.Is(err, filter.ErrNoResolvedRevisions) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.renderError(c, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	hits, err := s.vix.Query(c.Request.Context(), req.Embedding, criteria, limit)
	if err != nil {
		s.log.Error("Vector index query failed").Err(err).Send()
		c.JSON(http.StatusBadGateway, gin.H{"error": "vector index query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": req.Date, "results": hits})
}

// searchCriteria pins the search to the revisions in force on the date:
// the full snapshot, or per-policy resolutions when sources are named.
func (s *Server) searchCriteria(sources []string, date time.Time) (*filter.Criteria, error) {
	if len(sources) == 0 {
		snap, err := s.reg.ResolveSnapshot(date)
		if err != nil {
			return nil, err
		}
		return filter.BuildSnapshotFilter(snap)
	}

	results := make([]policy.Resolution, 0, len(sources))
	for _, source := range sources {
		res, err := s.reg.ResolveForPolicy(source, date)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return filter.BuildRevisionFilter(results...)
}

func resolutionOutcome(res policy.Resolution) string {
	if res.Found {
		return metrics.OutcomeFound
	}
	return string(res.Reason)
}

// ========== Error rendering ==========

// renderError maps the registry error taxonomy to HTTP statuses.
// Conflict rejections keep their structured detail so callers can see
// which revision they collided with.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, policy.ErrSourceNotFound),
		errors.Is(err, policy.ErrRevisionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, policy.ErrDuplicateSource),
		errors.Is(err, policy.ErrRevisionOverlap),
		errors.Is(err, policy.ErrSoleActiveRevision),
		errors.Is(err, policy.ErrDocumentHasRevisions):
		status = http.StatusConflict
	case errors.Is(err, policy.ErrInvalidCategory),
		errors.Is(err, policy.ErrInvalidTransition),
		errors.Is(err, datecode.ErrInvalidDate):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.Error("Request failed").Err(err).Send()
	}

	body := gin.H{"error": err.Error()}
	var overlap *policy.OverlapError
	if errors.As(err, &overlap) && overlap.Conflicting != nil {
		body["conflicting_revision_id"] = overlap.Conflicting.RevisionID
		body["conflicting_interval"] = overlap.Conflicting.Interval()
	}

	c.JSON(status, body)
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required (YYYY-MM-DD)")
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return parsed, nil
}
