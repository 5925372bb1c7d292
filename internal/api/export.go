package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lodestar/internal/daylock"
	"lodestar/internal/exporter"
)

// Export 导出对账结果 Excel
// GET /api/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) Export(c *gin.Context) {
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.DefaultQuery("to", from))
	days, err := daylock.Expand(from, to)
	if err != nil || len(days) == 0 {
		errorResponse(c, http.StatusBadRequest, "无效的日期范围", nil)
		return
	}

	// 调用方可自带 taskId，在下载过程中轮询 /api/progress/:id
	taskID := strings.TrimSpace(c.Query("taskId"))
	if taskID == "" {
		taskID = "export-" + uuid.NewString()
	}
	h.tracker.Create(taskID, 100)
	c.Header(TaskIDHeader, taskID)

	report := func(evt exporter.ProgressEvent) {
		h.tracker.Update(taskID, evt.Percent, evt.Stage, map[string]int{"rows": evt.Rows, "total": evt.Total})
	}
	file, err := h.exporter.Export(c.Request.Context(), exporter.ExportOptions{From: from, To: to, Progress: report})
	if err != nil {
		h.tracker.Error(taskID, err.Error())
		h.fail(c, err, nil)
		return
	}
	defer file.Close()
	h.tracker.Complete(taskID)

	c.Header("Content-Disposition", buildExportContentDisposition(from, to))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		h.fail(c, err, nil)
	}
}

func buildExportContentDisposition(from, to string) string {
	ascii := fmt.Sprintf("reconcile-%s-%s.xlsx", from, to)
	utf8Name := fmt.Sprintf("对账结果-%s至%s.xlsx", from, to)
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", ascii, url.PathEscape(utf8Name))
}
