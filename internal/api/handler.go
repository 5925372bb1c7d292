// Package api 提供上传、对账、指标与进度查询的 HTTP 接口。
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lodestar/internal/exporter"
	"lodestar/internal/importer"
	"lodestar/internal/metrics"
	"lodestar/internal/model"
	"lodestar/internal/progress"
	"lodestar/internal/reconcile"
	"lodestar/internal/store"
)

const (
	// ActorHeader 调用方身份，由外部鉴权层写入
	ActorHeader = "X-Actor-Id"
	// TaskIDHeader 导出任务的进度 ID
	TaskIDHeader = "X-Task-Id"
)

// Handler API 处理器
type Handler struct {
	store         *store.Store
	importer      *importer.Coordinator
	engine        *reconcile.Engine
	calculator    *metrics.Calculator
	exporter      *exporter.Exporter
	tracker       *progress.Tracker
	log           *zap.Logger
	maxUploadSize int64
}

// Deps 处理器依赖
type Deps struct {
	Store         *store.Store
	Importer      *importer.Coordinator
	Engine        *reconcile.Engine
	Calculator    *metrics.Calculator
	Exporter      *exporter.Exporter
	Tracker       *progress.Tracker
	Log           *zap.Logger
	MaxUploadSize int64
}

// NewHandler 创建处理器
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxSize := d.MaxUploadSize
	if maxSize <= 0 {
		maxSize = 64 << 20
	}
	return &Handler{
		store:         d.Store,
		importer:      d.Importer,
		engine:        d.Engine,
		calculator:    d.Calculator,
		exporter:      d.Exporter,
		tracker:       d.Tracker,
		log:           log,
		maxUploadSize: maxSize,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 数据导入
	router.POST("/import", h.Import)
	router.GET("/imports/:id", h.GetImportLog)

	// 对账与指标
	router.POST("/reconcile", h.Reconcile)
	router.POST("/metrics", h.ComputeMetrics)

	// 导出
	router.GET("/export", h.Export)

	// 进度
	router.GET("/progress", h.ListProgress)
	router.GET("/progress/:id", h.GetProgress)
}

// Response 统一响应
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func errorResponse(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:    status,
		Message: message,
		Data:    data,
	})
}

// statusFor 错误类型到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrPreconditionMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 按错误类型返回；部分结果随 data 一并返回
func (h *Handler) fail(c *gin.Context, err error, partial interface{}) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	errorResponse(c, status, err.Error(), partial)
}
