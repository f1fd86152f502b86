// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"
	"civicfix-go/internal/service"
	"civicfix-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AssistHandler 负责处理投诉协助相关的 API 请求。
type AssistHandler struct {
	orchestrator service.OrchestratorService
}

// NewAssistHandler 创建一个新的 AssistHandler 实例。
func NewAssistHandler(orchestrator service.OrchestratorService) *AssistHandler {
	return &AssistHandler{orchestrator: orchestrator}
}

// Assist 是统一的投诉协助入口：一次请求一个意图。
func (h *AssistHandler) Assist(c *gin.Context) {
	var req model.AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[AssistHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	log.Infof("[AssistHandler] 收到协助请求, intent: %s, user: %s, session: %s", req.Intent, req.UserID, req.SessionID)

	resp, err := h.orchestrator.Assist(c.Request.Context(), &req)
	if err != nil {
		status, msg := statusForError(err)
		log.Errorf("[AssistHandler] 协助请求处理失败, intent: %s, error: %v", req.Intent, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": resp, "message": "success"})
}

// ListTickets 返回用户的工单列表（按创建时间倒序）。
func (h *AssistHandler) ListTickets(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 user_id 参数"})
		return
	}
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	tickets, err := h.orchestrator.ListTickets(c.Request.Context(), userID, limit)
	if err != nil {
		status, msg := statusForError(err)
		log.Errorf("[AssistHandler] 工单列表获取失败, user: %s, error: %v", userID, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": tickets, "message": "success"})
}

// statusForError 把结构化错误映射为 HTTP 状态码。
func statusForError(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidationError:
		return http.StatusBadRequest, err.Error()
	case apperr.KindNotFound:
		return http.StatusNotFound, err.Error()
	case apperr.KindInvalidTransition:
		return http.StatusConflict, err.Error()
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable, "依赖的存储暂不可用，请稍后重试"
	default:
		return http.StatusInternalServerError, "服务内部错误"
	}
}
