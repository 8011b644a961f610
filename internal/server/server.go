package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// RunFactory wires a pipeline for one run of cfg.
type RunFactory func(ctx context.Context, cfg *config.Config) (*core.Pipeline, error)

type run struct {
	pipeline *core.Pipeline
	report   *core.Report
	err      error
}

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	newRun   RunFactory

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*run
}

// NewServer serves runs of cfg. Runs outlive the request that started them
// and are cancelled by Shutdown.
func NewServer(cfg *config.Config, logger *zap.Logger, gatherer prometheus.Gatherer, newRun RunFactory) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		logger:   logger,
		gatherer: gatherer,
		newRun:   newRun,
		baseCtx:  ctx,
		cancel:   cancel,
		runs:     make(map[string]*run),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.POST("/runs", s.StartRun)
	r.GET("/runs/:id", s.GetRun)
	r.GET("/runs/:id/alignment", s.GetAlignment)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Serve listens on addr until ctx ends, then stops accepting requests and
// shuts running pipelines down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serr := s.Shutdown(shutdownCtx); err == nil {
		err = serr
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels running pipelines and waits for them to record their
// failure, or until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type StartRunRequest struct {
	Mode    string `json:"mode"`
	Realign *bool  `json:"realign"`
}

func (s *Server) StartRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	cfg := *s.cfg
	if req.Mode != "" {
		cfg.Pipeline.Mode = req.Mode
	}
	if req.Realign != nil {
		cfg.Pipeline.Realign = *req.Realign
	}

	p, err := s.newRun(c.Request.Context(), &cfg)
	if err != nil {
		if config.IsConfigurationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to start run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
		return
	}

	r := &run{pipeline: p}
	id := p.Session().RunID
	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer p.Close()
		report, err := p.Run(s.baseCtx)
		s.mu.Lock()
		r.report, r.err = report, err
		s.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "state": p.Session().Current()})
}

type RunResponse struct {
	core.Status
	Error         string       `json:"error,omitempty"`
	LastCompleted core.State   `json:"last_completed,omitempty"`
	Report        *core.Report `json:"report,omitempty"`
}

func (s *Server) lookup(c *gin.Context) (*run, bool) {
	s.mu.RLock()
	r, ok := s.runs[c.Param("id")]
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown run"})
	}
	return r, ok
}

func (s *Server) GetRun(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	resp := RunResponse{Status: r.pipeline.Session().Status()}
	s.mu.RLock()
	resp.Report = r.report
	if r.err != nil {
		resp.Error = r.err.Error()
		var runErr *core.RunError
		if errors.As(r.err, &runErr) {
			resp.LastCompleted = runErr.LastCompleted
		}
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, resp)
}

type AlignmentResponse struct {
	RunID    string                 `json:"run_id"`
	Mappings []model.RefinedMapping `json:"mappings"`
}

// GetAlignment only answers once the run is Done; a failed or running run
// has no refined alignment to show.
func (s *Server) GetAlignment(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	s.mu.RLock()
	report := r.report
	s.mu.RUnlock()
	if report == nil || report.State != core.StateDone {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Run has not completed",
			"state": r.pipeline.Session().Current(),
		})
		return
	}
	c.JSON(http.StatusOK, AlignmentResponse{RunID: report.RunID, Mappings: report.Refined})
}
