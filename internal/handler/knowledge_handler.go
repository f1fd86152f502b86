package handler

import (
	"net/http"

	"civicfix-go/internal/model"
	"civicfix-go/pkg/kafka"
	"civicfix-go/pkg/log"
	"civicfix-go/pkg/tasks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// KnowledgeHandler 负责触发流程文档的异步索引。
type KnowledgeHandler struct{}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler() *KnowledgeHandler {
	return &KnowledgeHandler{}
}

// IndexDocument 接受一个已上传到对象存储的流程文档，投递异步索引任务。
// 同一 source_doc_id 重复投递是安全的：处理端按来源文档整体替换。
func (h *KnowledgeHandler) IndexDocument(c *gin.Context) {
	var req model.IndexDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[KnowledgeHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	if req.SourceDocID == "" || req.ObjectName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_doc_id 与 object_name 不能为空"})
		return
	}

	task := tasks.DocumentIndexingTask{
		TaskID:      uuid.NewString(),
		SourceDocID: req.SourceDocID,
		ObjectName:  req.ObjectName,
		FileName:    req.FileName,
		City:        req.City,
		WardID:      req.WardID,
		Department:  req.Department,
		Category:    req.Category,
		Language:    req.Language,
		Source:      req.Source,
	}
	if err := kafka.ProduceIndexingTask(task); err != nil {
		log.Errorf("[KnowledgeHandler] 索引任务投递失败, source_doc_id: %s, error: %v", req.SourceDocID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "索引任务投递失败"})
		return
	}

	log.Infof("[KnowledgeHandler] 索引任务已投递, task_id: %s, source_doc_id: %s", task.TaskID, req.SourceDocID)
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": gin.H{"task_id": task.TaskID}, "message": "索引任务已接受"})
}
