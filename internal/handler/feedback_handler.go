package handler

import (
	"net/http"

	"civicfix-go/internal/model"
	"civicfix-go/internal/service"
	"civicfix-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FeedbackHandler 负责处理结果反馈相关的 API 请求。
type FeedbackHandler struct {
	orchestrator service.OrchestratorService
}

// NewFeedbackHandler 创建一个新的 FeedbackHandler 实例。
func NewFeedbackHandler(orchestrator service.OrchestratorService) *FeedbackHandler {
	return &FeedbackHandler{orchestrator: orchestrator}
}

// Feedback 记录用户对一次投诉结果的反馈。
func (h *FeedbackHandler) Feedback(c *gin.Context) {
	var req model.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[FeedbackHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	log.Infof("[FeedbackHandler] 收到反馈, user: %s, outcome: %s, ticket: %s", req.UserID, req.Outcome, req.TicketID)

	if err := h.orchestrator.Feedback(c.Request.Context(), &req); err != nil {
		status, msg := statusForError(err)
		log.Errorf("[FeedbackHandler] 反馈处理失败, user: %s, error: %v", req.UserID, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "反馈已记录"})
}
