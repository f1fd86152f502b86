// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// knowledgeMapping 是文本知识库索引的映射：稠密向量 + 全文字段 + 辖区元数据。
const knowledgeMapping = `{
	"mappings": {
		"properties": {
			"doc_id": { "type": "keyword" },
			"source_doc_id": { "type": "keyword" },
			"chunk_id": { "type": "integer" },
			"text": { "type": "text" },
			"vector": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			},
			"city": { "type": "keyword" },
			"ward_id": { "type": "keyword" },
			"department": { "type": "keyword" },
			"category": { "type": "keyword" },
			"language": { "type": "keyword" },
			"channels": { "type": "keyword" },
			"sla_days": { "type": "integer" },
			"required_fields": { "type": "keyword" },
			"template": { "type": "keyword", "index": false },
			"source": { "type": "keyword" },
			"freshness_ts": { "type": "long" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端，并确保两个逻辑集合
// （文本知识库、图像派生语料）各自的索引存在。
func InitES(esCfg config.ElasticsearchConfig, embCfg config.EmbeddingConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client

	if err := createIndexIfNotExists(esCfg.KnowledgeIndex, embCfg.Dimensions); err != nil {
		return err
	}
	return createIndexIfNotExists(esCfg.CaseImageIndex, embCfg.ImageDimensions)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则按指定向量维度创建。
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(knowledgeMapping, dims)
	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 将单条证据文档索引到指定索引。
func IndexDocument(ctx context.Context, indexName string, doc model.EvidenceDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// DeleteBySourceDoc 删除某来源文档的全部分块，用于整体替换式重建索引。
func DeleteBySourceDoc(ctx context.Context, indexName, sourceDocID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"source_doc_id": sourceDocID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := ESClient.DeleteByQuery([]string{indexName}, &buf,
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按来源文档删除出错: %s", res.String())
		return errors.New("failed to delete by source doc")
	}
	return nil
}
