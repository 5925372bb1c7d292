package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetProgress 查询任务进度
// GET /api/progress/:id
func (h *Handler) GetProgress(c *gin.Context) {
	snap, ok := h.tracker.Get(c.Param("id"))
	if !ok {
		errorResponse(c, http.StatusNotFound, "任务不存在", nil)
		return
	}
	success(c, snap)
}

// ListProgress 列出全部任务
// GET /api/progress
func (h *Handler) ListProgress(c *gin.Context) {
	success(c, h.tracker.List())
}
