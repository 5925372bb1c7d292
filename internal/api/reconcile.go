package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lodestar/internal/daylock"
)

// ReconcileRequest 对账请求
type ReconcileRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Reconcile 对指定日期范围执行合并与各台账关联
// POST /api/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求参数", nil)
		return
	}
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		req.To = req.From
	}
	days, err := daylock.Expand(req.From, req.To)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(days) == 0 {
		errorResponse(c, http.StatusBadRequest, "结束日期早于开始日期", nil)
		return
	}

	report, err := h.engine.Reconcile(c.Request.Context(), req.From, req.To)
	if err != nil {
		h.fail(c, err, report)
		return
	}
	success(c, report)
}

// MetricsRequest 指标计算请求
type MetricsRequest struct {
	Day string `json:"day"`
}

// ComputeMetrics 计算单日派生指标
// POST /api/metrics
func (h *Handler) ComputeMetrics(c *gin.Context) {
	var req MetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求参数", nil)
		return
	}
	day := strings.TrimSpace(req.Day)
	if _, err := daylock.Expand(day, day); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	report, err := h.calculator.ComputeDay(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err, report)
		return
	}
	success(c, report)
}
