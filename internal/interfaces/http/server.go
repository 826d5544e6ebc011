// Package http exposes the orchestrator over a REST surface.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/application"
	"github.com/pocketportal/pocketportal/internal/domain/valueobject"
)

// Server hosts the REST API.
type Server struct {
	orch   *application.Orchestrator
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the gin router and its routes. eventStream, when
// non-nil, is mounted at /ws/events for live event subscribers.
func NewServer(addr string, orch *application.Orchestrator, eventStream http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		orch:   orch,
		logger: logger.With(zap.String("component", "http")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	if eventStream != nil {
		router.GET("/ws/events", gin.WrapH(eventStream))
	}

	api := router.Group("/api/v1")
	api.POST("/messages", s.handleMessage)
	api.POST("/tools/:name", s.handleTool)
	api.GET("/stats", s.handleStats)
	api.GET("/tools", s.handleToolList)
	api.GET("/events/recent", s.handleRecentEvents)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type messageRequest struct {
	ChatID    string `json:"chat_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Interface string `json:"interface"`
	UserID    string `json:"user_id"`
	Verbose   bool   `json:"verbose"`
	Terse     bool   `json:"terse"`
}

func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := valueobject.ParseInterfaceType(req.Interface)
	if tag == valueobject.InterfaceUnknown && req.Interface == "" {
		tag = valueobject.InterfaceAPI
	}

	res := s.orch.ProcessMessage(c.Request.Context(), req.ChatID, req.Message, tag, valueobject.UserContext{
		UserID:      req.UserID,
		Preferences: valueobject.Preferences{Verbose: req.Verbose, Terse: req.Terse},
	})

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":        res.Success,
		"response":       res.Response,
		"chat_id":        res.ChatID,
		"trace_id":       res.TraceID,
		"model_used":     res.ModelUsed,
		"tokens":         res.Tokens,
		"elapsed_ms":     res.ElapsedMs,
		"fallbacks_used": res.FallbacksUsed,
		"error_kind":     string(res.ErrorKind),
	})
}

func (s *Server) handleTool(c *gin.Context) {
	var params map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		params = map[string]any{}
	}

	res := s.orch.ExecuteTool(c.Request.Context(), c.Param("name"), params,
		c.Query("chat_id"), c.Query("user_id"))

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":    res.Success,
		"tool":       res.ToolName,
		"output":     res.Output,
		"elapsed_ms": res.ElapsedMs,
		"error_kind": string(res.ErrorKind),
		"error":      res.Error,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.orch.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.GetStats())
}

func (s *Server) handleToolList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.orch.GetToolList()})
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		limit = 50
	}
	c.JSON(http.StatusOK, gin.H{"events": s.orch.RecentEvents(limit)})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)))
	}
}
