// Package server exposes the HTTP control surface: scheduler CRUD,
// manual pipeline runs, run-report listing, and health. It is a thin
// translation layer over the scheduler and pipeline interfaces.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
	"github.com/pressridge/blogidx/internal/health"
	"github.com/pressridge/blogidx/internal/pipeline"
	"github.com/pressridge/blogidx/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// HealthRunner produces the aggregate health report.
type HealthRunner interface {
	Run(ctx context.Context) health.Report
}

// Server wires the HTTP facade.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	sched   *scheduler.Scheduler
	engine  *pipeline.Engine
	checker HealthRunner
	logger  *slog.Logger
}

// New creates the server with standard middleware and all routes.
func New(cfg *config.Config, sched *scheduler.Scheduler, engine *pipeline.Engine, checker HealthRunner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	s := &Server{
		echo:    e,
		cfg:     cfg,
		sched:   sched,
		engine:  engine,
		checker: checker,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/scheduler/status", s.handleSchedulerStatus)
	s.echo.GET("/scheduler/jobs", s.handleListJobs)
	s.echo.POST("/scheduler/jobs/cron", s.handleCreateCronJob)
	s.echo.POST("/scheduler/jobs/interval", s.handleCreateIntervalJob)
	s.echo.POST("/scheduler/jobs/onetime", s.handleCreateOneTimeJob)
	s.echo.DELETE("/scheduler/jobs/:id", s.handleDeleteJob)
	s.echo.POST("/scheduler/jobs/:id/trigger", s.handleTriggerJob)
	s.echo.POST("/pipeline/run", s.handlePipelineRun)
	s.echo.GET("/pipeline/reports", s.handleListReports)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.ListenAddr
	}
	s.logger.Info("http server listening", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// errorBody is the uniform HTTP error shape.
type errorBody struct {
	ErrorKind string            `json:"error_kind"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// writeError maps an error to the uniform shape and a status code.
func writeError(c echo.Context, err error) error {
	kind := idxerrors.GetKind(err)
	status := http.StatusInternalServerError
	switch idxerrors.GetCode(err) {
	case idxerrors.ErrCodeJobNotFound:
		status = http.StatusNotFound
	case idxerrors.ErrCodeJobDuplicate:
		status = http.StatusConflict
	case idxerrors.ErrCodeTriggerInvalid, idxerrors.ErrCodeConfigInvalid:
		status = http.StatusBadRequest
	}
	if kind == "" {
		kind = idxerrors.KindInternal
	}

	body := errorBody{ErrorKind: string(kind), Message: err.Error()}
	if ie, ok := err.(*idxerrors.IndexError); ok && len(ie.Details) > 0 {
		body.Details = ie.Details
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody{
		ErrorKind: string(idxerrors.KindConfig),
		Message:   message,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	report := s.checker.Run(c.Request().Context())
	status := http.StatusOK
	if report.Overall == health.StatusUnhealthy || report.Overall == health.StatusError {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) handleSchedulerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.Stats())
}

func (s *Server) handleListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"jobs": s.sched.ListJobs()})
}

// jobRequest is the shared job creation payload. Trigger fields are
// interpreted per endpoint; Config overrides are applied on top of the
// process defaults.
type jobRequest struct {
	ID         string         `json:"id"`
	Expression string         `json:"expression"`
	Minute     string         `json:"minute"`
	Hour       string         `json:"hour"`
	DayOfWeek  string         `json:"day_of_week"`
	Minutes    int            `json:"minutes"`
	Hours      int            `json:"hours"`
	Days       int            `json:"days"`
	RunAt      string         `json:"run_at"`
	Config     *config.Config `json:"config"`
}

func (s *Server) createJob(c echo.Context, req jobRequest, trigger scheduler.Trigger) error {
	cfg := req.Config
	if cfg == nil {
		cfg = s.cfg.Clone()
	}
	job, err := s.sched.CreateJob(req.ID, trigger, cfg)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":             job.ID,
		"trigger":        job.Trigger.Describe(),
		"next_fire_time": job.NextFireTime,
	})
}

func (s *Server) handleCreateCronJob(c echo.Context) error {
	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return s.createJob(c, req, scheduler.Trigger{
		Type:       scheduler.TriggerCron,
		Expression: req.Expression,
		Minute:     req.Minute,
		Hour:       req.Hour,
		DayOfWeek:  req.DayOfWeek,
	})
}

func (s *Server) handleCreateIntervalJob(c echo.Context) error {
	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return s.createJob(c, req, scheduler.Trigger{
		Type:    scheduler.TriggerInterval,
		Minutes: req.Minutes,
		Hours:   req.Hours,
		Days:    req.Days,
	})
}

func (s *Server) handleCreateOneTimeJob(c echo.Context) error {
	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	runAt, err := time.Parse(time.RFC3339, req.RunAt)
	if err != nil {
		return badRequest(c, "run_at must be an ISO-8601 UTC timestamp")
	}
	return s.createJob(c, req, scheduler.Trigger{
		Type:  scheduler.TriggerOneShot,
		RunAt: runAt.UTC(),
	})
}

func (s *Server) handleDeleteJob(c echo.Context) error {
	if err := s.sched.DeleteJob(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTriggerJob(c echo.Context) error {
	if err := s.sched.TriggerNow(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
}

// handlePipelineRun executes an ad-hoc run with the supplied config
// overrides. The run is not persisted as a job.
func (s *Server) handlePipelineRun(c echo.Context) error {
	cfg := s.cfg.Clone()
	if c.Request().ContentLength > 0 {
		if err := c.Bind(cfg); err != nil {
			return badRequest(c, "invalid config override")
		}
	}
	if err := cfg.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	report := s.engine.Run(c.Request().Context(), "manual", cfg)
	status := http.StatusOK
	if report.Status == pipeline.StatusFailure {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, report)
}

func (s *Server) handleListReports(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	reports, err := pipeline.ReadReports(s.cfg.ReportsPath, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reports": reports})
}

func parsePositiveInt(v string) (int, error) {
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, echo.ErrBadRequest
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, echo.ErrBadRequest
	}
	return n, nil
}
