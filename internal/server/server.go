// Package server exposes the report pipeline and memory store over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/archive"
	"github.com/quilldeep/quill/internal/memory"
	"github.com/quilldeep/quill/internal/pipeline"
)

// Server wires the HTTP API. Coordinators are built per request because a
// coordinator carries per-run scheduler state.
type Server struct {
	cfg            *config.Config
	store          *memory.Store
	archive        *archive.Archive
	newCoordinator func() *pipeline.Coordinator
	logger         *log.Logger
}

// New builds the server. arch may be nil when the run archive is disabled;
// report listing then returns 503.
func New(cfg *config.Config, store *memory.Store, arch *archive.Archive, newCoordinator func() *pipeline.Coordinator) *Server {
	return &Server{
		cfg:            cfg,
		store:          store,
		archive:        arch,
		newCoordinator: newCoordinator,
		logger:         log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
}

// Run starts the HTTP listener and, when configured, the retention sweep.
// It blocks until the listener stops.
func (s *Server) Run(ctx context.Context) error {
	e := s.router()

	if s.cfg.Server.RetentionCron != "" {
		go s.retentionLoop(ctx)
	}

	return e.Start(s.cfg.Server.Address)
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/reports", s.createReport)
	api.GET("/reports", s.listReports)
	api.GET("/reports/:id", s.getReport)
	api.GET("/memory/stats", s.memoryStats)
	api.POST("/memory/cleanup", s.memoryCleanup)
	return e
}

type createReportReq struct {
	Topic string `json:"topic"`
}

func (s *Server) createReport(c echo.Context) error {
	var req createReportReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	result := s.newCoordinator().Execute(c.Request().Context(), req.Topic)
	if s.archive != nil {
		if err := s.archive.Save(c.Request().Context(), result); err != nil {
			s.logger.Printf("archiving run %s failed: %v", result.RunID, err)
		}
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) listReports(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run archive is disabled")
	}
	runs, err := s.archive.List(c.Request().Context(), 50)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getReport(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run archive is disabled")
	}
	res, err := s.archive.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) memoryStats(c echo.Context) error {
	stats, err := s.store.Statistics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

type cleanupReq struct {
	Days          int  `json:"days"`
	KeepImportant bool `json:"keep_important"`
}

func (s *Server) memoryCleanup(c echo.Context) error {
	req := cleanupReq{Days: s.cfg.Memory.RetentionDays, KeepImportant: s.cfg.Memory.KeepImportant}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Days <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "days must be positive")
	}
	removed, err := s.store.CleanupOld(c.Request().Context(), req.Days, req.KeepImportant)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// retentionLoop sweeps old memories on the configured cron schedule.
func (s *Server) retentionLoop(ctx context.Context) {
	expr, err := cronexpr.Parse(s.cfg.Server.RetentionCron)
	if err != nil {
		s.logger.Printf("invalid retention_cron %q: %v", s.cfg.Server.RetentionCron, err)
		return
	}
	days := s.cfg.Memory.RetentionDays
	if days <= 0 {
		s.logger.Printf("retention_cron set but memory.retention_days is not, sweep disabled")
		return
	}
	for {
		next := expr.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		removed, err := s.store.CleanupOld(ctx, days, s.cfg.Memory.KeepImportant)
		if err != nil {
			s.logger.Printf("retention sweep failed: %v", err)
			continue
		}
		s.logger.Printf("retention sweep removed %d memories", removed)
	}
}
