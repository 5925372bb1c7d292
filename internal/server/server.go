package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lodestar/internal/api"
	"lodestar/internal/config"
	"lodestar/internal/progress"
)

// Server HTTP服务器
type Server struct {
	router  *gin.Engine
	http    *http.Server
	tracker *progress.Tracker
	log     *zap.Logger

	retention time.Duration
	interval  time.Duration
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, h *api.Handler, tracker *progress.Tracker, log *zap.Logger) *Server {
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	router.MaxMultipartMemory = cfg.Server.MaxUploadSize

	s := &Server{
		router:    router,
		tracker:   tracker,
		log:       log,
		retention: time.Duration(cfg.Progress.RetentionMinutes) * time.Minute,
		interval:  time.Duration(cfg.Progress.CleanupMinutes) * time.Minute,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes(h)
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(h *api.Handler) {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.ActorHeader)
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, "+api.TaskIDHeader)
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := s.router.Group("/api")
	{
		h.RegisterRoutes(apiGroup)
	}
}

// requestLogger 访问日志
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Run 启动服务器并定期清理已结束的任务，直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) cleanupLoop(ctx context.Context) {
	if s.tracker == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tracker.Cleanup(s.retention); n > 0 {
				s.log.Debug("progress tasks purged", zap.Int("count", n))
			}
		}
	}
}

// Handler 返回路由（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}
