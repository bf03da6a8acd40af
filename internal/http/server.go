// Package http provides the HTTP API for themeagent.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/archive"
	"github.com/fyrsmithlabs/themeagent/internal/coordinator"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/outcome"
	"github.com/fyrsmithlabs/themeagent/internal/runs"
	"github.com/fyrsmithlabs/themeagent/internal/services"
	"github.com/fyrsmithlabs/themeagent/internal/strategy"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"
)

// Server provides HTTP endpoints for themeagent.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the SSE keep-alive interval. Zero uses 15s.
	Heartbeat time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(registry services.Registry, logger *logging.Logger, cfg *Config) (*Server, error) {
	if registry == nil || registry.Runs() == nil {
		return nil, fmt.Errorf("registry with a run manager is required")
	}
	if registry.Scrubber() == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8088,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/events", s.handleEvents)
	v1.GET("/runs/:id/transcript", s.handleTranscript)
	v1.POST("/runs/:id/cancel", s.handleCancel)
	v1.GET("/conversations/:id/arc", s.handleGetArc)
	v1.DELETE("/conversations/:id/arc", s.handleResetArc)
	v1.POST("/scrub", s.handleScrub)
}

// Echo exposes the underlying router for additional routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: len(s.registry.Runs().Active()),
	})
}

// handleStartRun starts a run in the background.
func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	if req.Tier != "" {
		if _, err := strategy.ParseTier(req.Tier); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	run, err := s.registry.Runs().Start(c.Request().Context(), coordinator.Request{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Plan:           req.Plan,
		Tier:           req.Tier,
		Scope:          req.Scope,
		FileHints:      req.FileHints,
	})
	switch {
	case errors.Is(err, runs.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Tier:           string(run.Strategy.Tier),
		MaxIterations:  run.Strategy.MaxIterations,
		EventsURL:      "/api/v1/runs/" + run.ID + "/events",
	})
}

// handleListRuns lists archived runs.
func (s *Server) handleListRuns(c echo.Context) error {
	store := s.registry.Archive()
	if store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run archive is disabled")
	}
	req := archive.ListRequest{
		ConversationID: c.QueryParam("conversation_id"),
		Status:         outcome.Status(c.QueryParam("status")),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		req.Limit = n
	}
	recs, err := store.List(c.Request().Context(), req)
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing runs failed")
	}
	if recs == nil {
		recs = []*archive.Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

// handleGetRun reports a live run, falling back to the archive.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	if run, err := s.registry.Runs().Get(id); err == nil {
		return c.JSON(http.StatusOK, liveStatus(run))
	}
	rec, err := s.archived(c.Request().Context(), id)
	if err != nil {
		return err
	}
	o := rec.Outcome
	return c.JSON(http.StatusOK, RunStatus{
		RunID:          rec.RunID,
		ConversationID: rec.ConversationID,
		Request:        rec.Request,
		Tier:           rec.Tier,
		State:          string(coordinator.StateTerminated),
		Iterations:     rec.Iterations,
		CostCents:      rec.CostCents,
		Outcome:        &o,
		Archived:       true,
	})
}

func liveStatus(run *coordinator.Run) RunStatus {
	cost, in, out := run.Usage()
	st := RunStatus{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Request:        run.Request.Text,
		Tier:           string(run.Strategy.Tier),
		State:          string(run.State()),
		Iterations:     run.Iterations(),
		CostCents:      cost,
		InputTokens:    in,
		OutputTokens:   out,
		PendingCalls:   run.Pending(),
	}
	if o, ok := run.Outcome(); ok {
		st.Outcome = &o
	}
	return st
}

// archived loads an archived run or returns a 404.
func (s *Server) archived(ctx context.Context, id string) (*archive.Record, error) {
	store := s.registry.Archive()
	if store == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	rec, err := store.Get(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Error(ctx, "loading archived run failed", zap.String("run_id", id), zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "loading run failed")
	}
	return rec, nil
}

// history returns the events of a live or archived run.
func (s *Server) history(ctx context.Context, id string) ([]events.Event, error) {
	if run, err := s.registry.Runs().Get(id); err == nil {
		return run.Bus().History(), nil
	}
	if _, err := s.archived(ctx, id); err != nil {
		return nil, err
	}
	evs, err := s.registry.Archive().Events(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "loading archived events failed", zap.String("run_id", id), zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "loading events failed")
	}
	return evs, nil
}

// handleTranscript structures a run's events into a transcript.
func (s *Server) handleTranscript(c echo.Context) error {
	evs, err := s.history(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transcript.Build(evs, transcript.Options{}))
}

// handleCancel cancels a live run. Cancelling a finished run succeeds and
// changes nothing.
func (s *Server) handleCancel(c echo.Context) error {
	var req CancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by client"
	}
	id := c.Param("id")
	err := s.registry.Runs().Cancel(id, req.Reason)
	if errors.Is(err, runs.ErrNotFound) {
		if _, aerr := s.archived(c.Request().Context(), id); aerr != nil {
			return aerr
		}
		return c.NoContent(http.StatusAccepted)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// handleGetArc reports a conversation's arc.
func (s *Server) handleGetArc(c echo.Context) error {
	id := c.Param("id")
	st := s.registry.Arcs().Get(id)
	return c.JSON(http.StatusOK, ArcResponse{
		ConversationID:   id,
		Turns:            st.Turns(),
		Escalations:      st.Escalations(),
		EscalationFactor: st.EscalationFactor(),
		SuggestionLevel:  st.SuggestionLevel(),
	})
}

// handleResetArc clears a conversation's arc.
func (s *Server) handleResetArc(c echo.Context) error {
	s.registry.Arcs().Reset(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// handleScrub scrubs secrets from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	scrubbed, n := s.registry.Scrubber().Scrub(req.Content)
	return c.JSON(http.StatusOK, ScrubResponse{Content: scrubbed, FindingsCount: n})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
