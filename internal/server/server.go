// Package server exposes plan execution over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sourceplane/stepflow/internal/loader"
	"github.com/sourceplane/stepflow/internal/logger"
	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/store"
)

// Executor runs one plan
type Executor interface {
	Execute(ctx context.Context, plan *model.Plan, vars map[string]interface{}) (*model.ExecutionReport, error)
}

// ReportStore keeps finished reports for later lookup
type ReportStore interface {
	Save(ctx context.Context, report *model.ExecutionReport) error
	Get(ctx context.Context, runID string) (*model.ExecutionReport, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
}

// ExecutionRequest is the body of POST /api/v1/executions. Plan may be a
// plan object, a bare array of steps, or a string holding raw planner output.
type ExecutionRequest struct {
	Plan      json.RawMessage        `json:"plan"`
	Variables map[string]interface{} `json:"variables"`
}

// Server wires the executor into a gin engine
type Server struct {
	executor Executor
	reports  ReportStore
	logger   *slog.Logger
	engine   *gin.Engine
}

// New builds the server and its routes
func New(executor Executor, reports ReportStore, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if reports == nil {
		reports = store.NewMemory(0)
	}

	s := &Server{
		executor: executor,
		reports:  reports,
		logger:   log,
		engine:   gin.New(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/v1")
	api.GET("/health", s.health)
	api.POST("/executions", s.createExecution)
	api.GET("/executions", s.listExecutions)
	api.GET("/executions/:id", s.getExecution)

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	s.logger.Info("server_stopped")
	return nil
}

// requestLogger writes one structured line per request and injects a request ID
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.NewString()
		c.Set("request_id", reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)

		c.Next()

		s.logger.Info("http_request",
			"rid", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createExecution(c *gin.Context) {
	var req ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Plan) == 0 || string(req.Plan) == "null" {
		errorResponse(c, http.StatusBadRequest, "plan is required")
		return
	}

	raw := []byte(req.Plan)
	var text string
	if err := json.Unmarshal(req.Plan, &text); err == nil {
		raw = []byte(text)
	}

	plan, err := loader.ParsePlan(raw, ".json")
	if err != nil {
		s.planError(c, err)
		return
	}

	report, err := s.executor.Execute(c.Request.Context(), plan, req.Variables)
	if err != nil {
		s.planError(c, err)
		return
	}

	if err := s.reports.Save(c.Request.Context(), report); err != nil {
		s.logger.Error("report_save_failed", "run_id", report.RunID, "error", err)
	}

	c.Header("Location", "/api/v1/executions/"+report.RunID)
	c.JSON(http.StatusOK, report)
}

func (s *Server) planError(c *gin.Context, err error) {
	var invalid *planner.InvalidPlanError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    planner.ErrInvalidPlan.Error(),
			"kind":     model.KindInvalidPlan,
			"problems": invalid.Problems,
		})
		return
	}
	errorResponse(c, http.StatusBadRequest, err.Error())
}

func (s *Server) getExecution(c *gin.Context) {
	report, err := s.reports.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listExecutions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	summaries, err := s.reports.List(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": summaries})
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}
