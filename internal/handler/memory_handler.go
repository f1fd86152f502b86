package handler

import (
	"net/http"

	"civicfix-go/internal/model"
	"civicfix-go/internal/service"
	"civicfix-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// MemoryHandler 负责处理用户记忆相关的 API 请求。
type MemoryHandler struct {
	orchestrator service.OrchestratorService
}

// NewMemoryHandler 创建一个新的 MemoryHandler 实例。
func NewMemoryHandler(orchestrator service.OrchestratorService) *MemoryHandler {
	return &MemoryHandler{orchestrator: orchestrator}
}

// DeleteMemory 永久删除用户的全部长期记忆（被遗忘权）。
func (h *MemoryHandler) DeleteMemory(c *gin.Context) {
	var req model.MemoryDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[MemoryHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}

	if err := h.orchestrator.Forget(c.Request.Context(), req.UserID); err != nil {
		status, msg := statusForError(err)
		log.Errorf("[MemoryHandler] 记忆删除失败, user: %s, error: %v", req.UserID, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	log.Infof("[MemoryHandler] 用户记忆已删除, user: %s", req.UserID)
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "用户记忆已删除"})
}
