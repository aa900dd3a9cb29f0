package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// Server exposes the status endpoints.
type Server struct {
	echo     *echo.Echo
	registry *validation.Registry
	tracker  *Tracker
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// NewServer creates a status server. A nil tracker serves an empty run list.
func NewServer(registry *validation.Registry, tracker *Tracker, logger *logging.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:9464"}
	}
	if tracker == nil {
		tracker = NewTracker(0)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug(c.Request().Context(), "http request",
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
		tracker:  tracker,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/procedures", s.handleProcedures)
	v1.GET("/runs", s.handleRuns)
	v1.GET("/runs/:run_id", s.handleRun)
}

// Tracker returns the run tracker backing the runs endpoints.
func (s *Server) Tracker() *Tracker { return s.tracker }

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RuleInfo describes one registered rule.
type RuleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ProcedureInfo is one entry of GET /api/v1/procedures.
type ProcedureInfo struct {
	Name      string     `json:"name"`
	PreRules  []RuleInfo `json:"pre_rules"`
	PostRules []RuleInfo `json:"post_rules"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Runs []RunStatus `json:"runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleProcedures(c echo.Context) error {
	names := s.registry.Names()
	procs := make([]ProcedureInfo, 0, len(names))
	for _, name := range names {
		v, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		procs = append(procs, ProcedureInfo{
			Name:      name,
			PreRules:  ruleInfos(v.PreRules()),
			PostRules: ruleInfos(v.PostRules()),
		})
	}
	return c.JSON(http.StatusOK, procs)
}

func (s *Server) handleRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, RunsResponse{Runs: s.tracker.List()})
}

func (s *Server) handleRun(c echo.Context) error {
	run, ok := s.tracker.Get(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func ruleInfos(rs []validation.Rule) []RuleInfo {
	infos := make([]RuleInfo, len(rs))
	for i, r := range rs {
		infos[i] = RuleInfo{
			Name:        r.Name(),
			Description: r.Description(),
			Severity:    string(r.Severity()),
		}
	}
	return infos
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting status server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down status server")
	return s.echo.Shutdown(ctx)
}
