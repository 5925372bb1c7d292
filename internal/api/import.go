package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lodestar/internal/daylock"
	"lodestar/internal/importer"
	"lodestar/internal/parser"
)

// Import 上传导出文件，后台导入，返回任务 ID
// POST /api/import  multipart: file, platform, kind, day, store
func (h *Handler) Import(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "未找到上传文件", nil)
		return
	}
	if fh.Size > h.maxUploadSize {
		errorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("文件超过上限 %d 字节", h.maxUploadSize), nil)
		return
	}

	kind, ok := parser.ParseTableKind(strings.TrimSpace(c.PostForm("kind")))
	if !ok {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("未知表类型: %q", c.PostForm("kind")), nil)
		return
	}
	platform, ok := parser.ParsePlatform(strings.TrimSpace(c.PostForm("platform")))
	if !ok {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("未知平台: %q", c.PostForm("platform")), nil)
		return
	}
	day := strings.TrimSpace(c.PostForm("day"))
	if day != "" {
		if _, err := daylock.Expand(day, day); err != nil {
			errorResponse(c, http.StatusBadRequest, "无效日期: "+day, nil)
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "读取上传文件失败", nil)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadSize+1))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "读取上传文件失败", nil)
		return
	}
	if int64(len(data)) > h.maxUploadSize {
		errorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("文件超过上限 %d 字节", h.maxUploadSize), nil)
		return
	}

	taskID := h.importer.Start(c.Request.Context(), importer.Request{
		Data:     data,
		Filename: fh.Filename,
		Platform: platform,
		Kind:     kind,
		Day:      day,
		StoreID:  strings.TrimSpace(c.PostForm("store")),
		ActorID:  c.GetHeader(ActorHeader),
	})
	h.log.Info("import accepted",
		zap.String("task", taskID),
		zap.String("file", fh.Filename),
		zap.String("kind", string(kind)),
		zap.String("actor", c.GetHeader(ActorHeader)),
	)

	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    gin.H{"taskId": taskID},
	})
}

// GetImportLog 查询导入记录
// GET /api/imports/:id
func (h *Handler) GetImportLog(c *gin.Context) {
	l, err := h.store.GetImportLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	success(c, l)
}
