package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsmend/opsmend/internal/engine"
	"github.com/opsmend/opsmend/internal/memory"
	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/patch"
)

// Server exposes the triage pipeline over HTTP.
type Server struct {
	logger    *slog.Logger
	engine    *engine.Engine
	store     *memory.Store
	generator *patch.Generator
	manager   *patch.Manager
	router    *gin.Engine
	http      *http.Server
}

// NewServer wires the HTTP routes. gin runs in release mode; request logging
// goes through the shared slog logger.
func NewServer(
	logger *slog.Logger,
	triage *engine.Engine,
	store *memory.Store,
	generator *patch.Generator,
	manager *patch.Manager,
	address string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		logger:    logger,
		engine:    triage,
		store:     store,
		generator: generator,
		manager:   manager,
		router:    router,
		http: &http.Server{
			Addr:              address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/triage", s.handleTriage)
		v1.GET("/incidents", s.handleSearch)
		v1.GET("/incidents/:id", s.handleGetIncident)
		v1.GET("/incidents/:id/similar", s.handleSimilar)
		v1.POST("/incidents/:id/resolution", s.handleResolution)
		v1.GET("/stats", s.handleStats)
		v1.GET("/clusters", s.handleClusters)
		v1.POST("/patches/:id/apply", s.handleApplyPatch)
		v1.POST("/patches/:id/rollback", s.handleRollbackPatch)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, gracefulTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("address", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type triageRequest struct {
	Message   string            `json:"message" binding:"required"`
	Level     string            `json:"level"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

func (s *Server) handleTriage(c *gin.Context) {
	var req triageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := models.LogEntry{
		Timestamp: req.Timestamp,
		Level:     req.Level,
		Message:   req.Message,
		Source:    req.Source,
		Fields:    req.Fields,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.engine.Triage(c.Request.Context(), entry)
	if err != nil {
		s.logger.Error("triage request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "triage failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := models.IncidentQuery{
		ErrorType: c.Query("error_type"),
		Severity:  models.Severity(c.Query("severity")),
		Message:   c.Query("message"),
	}
	if v := c.Query("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.StartTime = t
		}
	}
	if v := c.Query("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.EndTime = t
		}
	}
	incidents := s.store.Search(query)
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	incident, err := s.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) handleSimilar(c *gin.Context) {
	incident, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	similar := s.store.SimilarTo(incident, 0.5, 20)
	c.JSON(http.StatusOK, gin.H{"incidents": similar, "count": len(similar)})
}

type resolutionRequest struct {
	Status models.ResolutionStatus `json:"status" binding:"required"`
}

func (s *Server) handleResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case models.ResolutionPending, models.ResolutionResolved, models.ResolutionDuplicate, models.ResolutionFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution status"})
		return
	}
	if err := s.store.UpdateResolution(c.Param("id"), req.Status); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": c.Param("id"), "status": req.Status})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Stats())
}

func (s *Server) handleClusters(c *gin.Context) {
	clusters := s.store.Clusters(0.5)
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

type patchRequest struct {
	TargetDir string `json:"target_dir" binding:"required"`
}

func (s *Server) handleApplyPatch(c *gin.Context) {
	s.handlePatchOperation(c, s.manager.Apply)
}

func (s *Server) handleRollbackPatch(c *gin.Context) {
	s.handlePatchOperation(c, s.manager.Rollback)
}

func (s *Server) handlePatchOperation(c *gin.Context, operate func(context.Context, *models.Patch, string) *models.PatchResult) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.generator.Load(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "patch not found"})
		return
	}

	result := operate(c.Request.Context(), p, req.TargetDir)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "incidents": s.store.Size()})
}

// requestLogger emits one slog line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(started)))
	}
}
