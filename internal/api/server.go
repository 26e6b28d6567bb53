package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/grant-enhancer/internal/auth"
	"github.com/david/grant-enhancer/internal/db"
	"github.com/david/grant-enhancer/internal/jobs"
	"github.com/david/grant-enhancer/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const jobTimeout = 30 * time.Minute

type Options struct {
	CORSOrigins []string
	// MatchLimit caps /grants/match results.
	MatchLimit int
	// MonitorLimit is the default batch size of an admin monitor run.
	MonitorLimit int
}

type Server struct {
	Runner *jobs.Runner
	Admin  *auth.Admin
	Echo   *echo.Echo
	opts   Options

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(runner *jobs.Runner, admin *auth.Admin, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			zap.L().Info("api: request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.HeaderAdminSecret},
	}))

	if opts.MatchLimit <= 0 {
		opts.MatchLimit = 20
	}
	if opts.MonitorLimit <= 0 {
		opts.MonitorLimit = 10
	}

	s := &Server{
		Runner: runner,
		Admin:  admin,
		Echo:   e,
		opts:   opts,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleListGrants)
	api.POST("/grants/match", s.handleMatch)
	api.GET("/grants/:id", s.handleGetGrant)
	api.GET("/grants/:id/complexity", s.handleComplexity)
	api.GET("/grants/:id/status", s.handleCheckStatus)
	api.GET("/stats", s.handleGetStats)
	api.GET("/status-report", s.handleStatusReport)

	admin := api.Group("/admin")
	admin.Use(s.Admin.Middleware)
	admin.POST("/monitor", s.handleMonitor)
	admin.POST("/enhance", s.handleEnhance)
	admin.POST("/dedupe", s.handleDedupe)
	admin.GET("/job/:id", s.handleJobStatus)
}

func (s *Server) Start(port int) error {
	return s.Echo.Start(fmt.Sprintf(":%d", port))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListGrants(c echo.Context) error {
	f := db.Filter{
		Bucket:     strings.TrimSpace(c.QueryParam("bucket")),
		Status:     strings.TrimSpace(c.QueryParam("status")),
		Sector:     strings.TrimSpace(c.QueryParam("sector")),
		State:      strings.TrimSpace(c.QueryParam("state")),
		Complexity: strings.TrimSpace(c.QueryParam("complexity")),
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_amount"), 64); err == nil && v >= 0 {
		f.MinAmount = &v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_amount"), 64); err == nil && v >= 0 {
		f.MaxAmount = &v
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		f.Limit = l
	}
	f.IncludeDuplicates = strings.EqualFold(c.QueryParam("include_duplicates"), "true")

	if f.Status != "" && !strings.EqualFold(f.Status, "all") {
		if _, err := models.ParseStatus(f.Status); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	if f.Complexity != "" {
		if _, err := models.ParseComplexity(f.Complexity); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	grants, err := s.Runner.Store().Query(c.Request().Context(), f)
	if err != nil {
		zap.L().Error("api: list grants failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"grants": grants,
		"count":  len(grants),
	})
}

func (s *Server) handleGetGrant(c echo.Context) error {
	g, err := s.loadGrant(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleMatch(c echo.Context) error {
	var profile models.StartupProfile
	if err := c.Bind(&profile); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid startup profile"})
	}

	limit := s.opts.MatchLimit
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}

	matches, err := s.Runner.Match(c.Request().Context(), profile, limit)
	if err != nil {
		zap.L().Error("api: match failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleComplexity(c echo.Context) error {
	g, err := s.loadGrant(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Runner.Pipeline().AnalyzeComplexity(g))
}

// handleCheckStatus probes a grant on demand. The result is not persisted.
func (s *Server) handleCheckStatus(c echo.Context) error {
	g, err := s.loadGrant(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Runner.Pipeline().CheckStatus(c.Request().Context(), g))
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Runner.Store().Stats(c.Request().Context())
	if err != nil {
		zap.L().Error("api: stats failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleStatusReport(c echo.Context) error {
	report, err := s.Runner.Report(c.Request().Context())
	if err != nil {
		zap.L().Error("api: status report failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, report)
}

// loadGrant writes the error response itself; callers return its error as is.
func (s *Server) loadGrant(c echo.Context) (*models.Grant, error) {
	id := c.Param("id")
	g, err := s.Runner.Store().Get(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		zap.L().Error("api: get grant failed", zap.String("grant_id", id), zap.Error(err))
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return g, nil
}

func (s *Server) handleMonitor(c echo.Context) error {
	limit := s.opts.MonitorLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	return s.startJob(c, "monitor", func(ctx context.Context) (any, error) {
		res, err := s.Runner.Monitor(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"checked":        res.Checked,
			"expired":        res.Expired,
			"website_issues": res.WebsiteIssues,
			"failed":         res.Failed,
			"limit_used":     limit,
		}, nil
	})
}

func (s *Server) handleEnhance(c echo.Context) error {
	res, err := s.Runner.Enhance(c.Request().Context())
	if err != nil {
		zap.L().Error("api: enhance failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDedupe(c echo.Context) error {
	dryRun := strings.EqualFold(c.QueryParam("dry_run"), "true")
	stats, err := s.Runner.Dedupe(c.Request().Context(), dryRun)
	if err != nil {
		zap.L().Error("api: dedupe failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dry_run": dryRun,
		"stats":   stats,
	})
}

// startJob runs fn in the background and answers 202 with a poll URL. Only
// one job runs at a time.
func (s *Server) startJob(c echo.Context, kind string, fn func(ctx context.Context) (any, error)) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  fmt.Sprintf("A %s job is already running", job.Kind),
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from the HTTP request but keeps its values.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), jobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		result, err := fn(jobCtx)

		s.jobMu.Lock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
		} else {
			job.Status = "completed"
			job.Result = result
		}
		s.jobMu.Unlock()

		if err != nil {
			zap.L().Error("api: job failed", zap.String("job_id", jobID), zap.String("kind", kind), zap.Error(err))
			return
		}
		zap.L().Info("api: job completed", zap.String("job_id", jobID), zap.String("kind", kind))
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": fmt.Sprintf("%s job started", kind),
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	return c.JSON(http.StatusOK, resp)
}
