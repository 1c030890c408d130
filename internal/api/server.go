// Package api serves the REST interface, the websocket event stream and
// the Prometheus endpoint.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/monitor"
	"github.com/pulsewatch/internal/report"
	"github.com/rs/zerolog"
)

type Deps struct {
	Monitor  *monitor.HealthMonitor
	Detector *anomaly.Detector
	Alerts   *alert.Manager
	Hub      *Hub
	Reports  *report.Generator
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type Server struct {
	monitor  *monitor.HealthMonitor
	detector *anomaly.Detector
	alerts   *alert.Manager
	hub      *Hub
	reports  *report.Generator
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	router   *gin.Engine

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

func NewServer(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		monitor:  d.Monitor,
		detector: d.Detector,
		alerts:   d.Alerts,
		hub:      d.Hub,
		reports:  d.Reports,
		gatherer: d.Gatherer,
		logger:   d.Logger.With().Str("component", "api").Logger(),
		router:   gin.New(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.GET("/health/history", s.getHealthHistory)
	api.GET("/metrics/latest", s.getLatestMetrics)
	api.POST("/metrics/evaluate", s.evaluateMetric)

	alerts := api.Group("/alerts")
	{
		alerts.GET("", s.listActiveAlerts)
		alerts.GET("/history", s.getAlertHistory)
		alerts.GET("/stats", s.getAlertStats)
		alerts.GET("/states", s.getAlertStates)
		alerts.POST("/:rule/suppress", s.suppressAlert)
	}

	rules := api.Group("/rules")
	{
		rules.GET("", s.listRules)
		rules.POST("", s.createRule)
		rules.DELETE("/:name", s.deleteRule)
		rules.POST("/validate", s.validateRule)
	}

	channels := api.Group("/channels")
	{
		channels.GET("", s.listChannels)
		channels.POST("", s.createChannel)
		channels.DELETE("/:name", s.deleteChannel)
	}

	api.GET("/anomaly/models", s.listModels)
	api.POST("/anomaly/models/:metric", s.updateModel)
	api.GET("/anomaly/forecast/:metric", s.getForecast)

	if s.reports != nil {
		api.GET("/report", s.getReport)
	}
	if s.hub != nil {
		api.GET("/events", s.hub.ServeWS)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until Shutdown is called. It returns nil at once
// when Shutdown already ran.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http.Addr = addr
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops the server and the event hub. A Start that has not begun
// listening yet returns without serving.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"monitor": s.monitor.GetStatus(),
		"alerts":  s.alerts.GetHealthStatus(),
		"stats":   s.alerts.GetAlertStats(),
		"anomaly": gin.H{
			"training": s.detector.IsTraining(),
			"models":   len(s.detector.GetModelInfo()),
		},
	})
}

func parseTime(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q is not RFC3339", key, v)
	}
	return t, nil
}

func (s *Server) getHealthHistory(c *gin.Context) {
	start, err := parseTime(c, "start")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseTime(c, "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.monitor.GetHealthHistory(c.Request.Context(), models.TimeRange{Start: start, End: end})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) getLatestMetrics(c *gin.Context) {
	m, err := s.monitor.GetLatestMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

type EvaluateRequest struct {
	Query string   `json:"query" binding:"required"`
	Value *float64 `json:"value" binding:"required"`
}

func (s *Server) evaluateMetric(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.alerts.EvaluateMetric(req.Query, *req.Value); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, alert.ErrDestroyed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.alerts.GetAlertStates())
}

func (s *Server) listActiveAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.GetActiveAlerts())
}

func (s *Server) getAlertHistory(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = l
	}
	c.JSON(http.StatusOK, s.alerts.GetAlertHistory(limit))
}

func (s *Server) getAlertStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.GetAlertStats())
}

func (s *Server) getAlertStates(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.GetAlertStates())
}

type SuppressRequest struct {
	Duration string `json:"duration" binding:"required"`
}

func (s *Server) suppressAlert(c *gin.Context) {
	var req SuppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid duration %q", req.Duration)})
		return
	}

	rule := c.Param("rule")
	if !s.alerts.SuppressAlert(rule, d) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("rule %s not found", rule)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule, "until": time.Now().Add(d)})
}

func (s *Server) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.GetRules())
}

func (s *Server) createRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.alerts.AddRule(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, alert.ErrDestroyed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) deleteRule(c *gin.Context) {
	name := c.Param("name")
	if !s.alerts.RemoveRule(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("rule %s not found", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted successfully"})
}

func (s *Server) validateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule is valid"})
}

func (s *Server) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.GetChannels())
}

func (s *Server) createChannel(c *gin.Context) {
	var ch models.AlertChannel
	if err := c.ShouldBindJSON(&ch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.alerts.AddChannel(ch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) deleteChannel(c *gin.Context) {
	name := c.Param("name")
	if name == alert.ConsoleChannel {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the console channel cannot be removed"})
		return
	}
	if !s.alerts.RemoveChannel(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("channel %s not found", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "channel deleted successfully"})
}

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.detector.GetModelInfo())
}

type UpdateModelRequest struct {
	Data []float64 `json:"data" binding:"required"`
}

func (s *Server) updateModel(c *gin.Context) {
	var req UpdateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metric := c.Param("metric")
	err := s.detector.UpdateModel(c.Request.Context(), metric, req.Data)

	var unknown *anomaly.UnknownMetricError
	var insufficient *anomaly.InsufficientDataError
	switch {
	case err == nil:
		m, _ := s.detector.Model(metric)
		c.JSON(http.StatusOK, m)
	case errors.As(err, &unknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// getForecast projects the model of a metric; horizon counts model steps
// and defaults to the detector's forecast horizon.
func (s *Server) getForecast(c *gin.Context) {
	horizon := 0
	if raw := c.Query("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid horizon %q", raw)})
			return
		}
		horizon = n
	}

	f, err := s.detector.Forecast(c.Param("metric"), horizon)
	var unknown *anomaly.UnknownMetricError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, f)
	case errors.As(err, &unknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// getReport defaults to the last 24 hours. format=html renders the page,
// anything else returns JSON.
func (s *Server) getReport(c *gin.Context) {
	start, err := parseTime(c, "start")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseTime(c, "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}

	d, err := s.reports.Generate(c.Request.Context(), start, end)
	switch {
	case errors.Is(err, report.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") != "html" {
		c.JSON(http.StatusOK, d)
		return
	}
	var buf bytes.Buffer
	if err := s.reports.Render(&buf, d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
