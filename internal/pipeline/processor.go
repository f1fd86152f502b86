// Package pipeline 实现了流程文档的异步索引管道。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/pkg/embedding"
	"civicfix-go/pkg/es"
	"civicfix-go/pkg/log"
	"civicfix-go/pkg/storage"
	"civicfix-go/pkg/tasks"
	"civicfix-go/pkg/tika"

	"github.com/minio/minio-go/v7"
)

const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// Processor 消费文档索引任务：下载原始文档、提取文本、分块取向量后
// 整体替换写入知识库索引。同一来源文档重复处理是幂等的。
type Processor struct {
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	minioCfg        config.MinIOConfig
	esCfg           config.ElasticsearchConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	tikaClient *tika.Client,
	embeddingClient embedding.Client,
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
) *Processor {
	return &Processor{
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		minioCfg:        minioCfg,
		esCfg:           esCfg,
	}
}

// Process 执行一个文档索引任务的完整流程。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIndexingTask) error {
	log.Infof("[Pipeline] 开始处理文档: %s (object: %s)", task.SourceDocID, task.ObjectName)

	object, err := storage.MinioClient.GetObject(ctx, p.minioCfg.BucketName, task.ObjectName, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("下载文档对象失败: %w", err)
	}
	defer object.Close()

	text, err := p.tikaClient.ExtractText(object, task.FileName)
	if err != nil {
		return fmt.Errorf("文本提取失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warnf("[Pipeline] 文档无可提取文本, 跳过: %s", task.SourceDocID)
		return nil
	}

	chunks := splitText(text, chunkSize, chunkOverlap)
	log.Infof("[Pipeline] 文本提取完成, 长度: %d, 分块数: %d", len(text), len(chunks))

	freshness := time.Now().Unix()
	docs := make([]model.EvidenceDocument, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunk)
		if err != nil {
			return fmt.Errorf("分块向量化失败 (chunk %d): %w", i, err)
		}
		docs = append(docs, model.EvidenceDocument{
			DocID:       fmt.Sprintf("%s-%d", task.SourceDocID, i),
			SourceDocID: task.SourceDocID,
			ChunkID:     i,
			Text:        chunk,
			Vector:      vector,
			City:        task.City,
			WardID:      task.WardID,
			Department:  task.Department,
			Category:    task.Category,
			Language:    task.Language,
			Source:      task.Source,
			FreshnessTS: freshness,
		})
	}

	// 全部分块向量化成功后才整体替换，避免删旧失败留下半成品索引。
	if err := es.DeleteBySourceDoc(ctx, p.esCfg.KnowledgeIndex, task.SourceDocID); err != nil {
		return fmt.Errorf("清理旧分块失败: %w", err)
	}
	for _, doc := range docs {
		if err := es.IndexDocument(ctx, p.esCfg.KnowledgeIndex, doc); err != nil {
			return fmt.Errorf("写入分块失败 (%s): %w", doc.DocID, err)
		}
	}

	log.Infof("[Pipeline] 文档索引完成: %s, 共 %d 个分块", task.SourceDocID, len(docs))
	return nil
}

// splitText 按固定窗口加重叠切分文本，按 rune 计数以兼容多字节字符。
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
