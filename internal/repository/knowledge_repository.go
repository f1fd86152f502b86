// Package repository 提供了数据访问层的实现。
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"
	"civicfix-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ScoredDocument 是知识库返回的 (文档, 得分) 对。
type ScoredDocument struct {
	Doc   model.EvidenceDocument
	Score float64
}

// KnowledgeRepository 定义了对知识库（Elasticsearch）的查询接口。
// 稠密与词法两条通路互相独立，由检索服务负责融合。
type KnowledgeRepository interface {
	// DenseSearch 对指定索引执行 kNN 向量检索。
	DenseSearch(ctx context.Context, index string, vector []float32, filter model.EvidenceFilter, k int) ([]ScoredDocument, error)
	// LexicalSearch 在同一过滤子集上执行 BM25 词法检索。
	LexicalSearch(ctx context.Context, index string, query string, filter model.EvidenceFilter, k int) ([]ScoredDocument, error)
}

type esKnowledgeRepository struct {
	esClient *elasticsearch.Client
}

// NewKnowledgeRepository 创建一个新的 KnowledgeRepository 实例。
func NewKnowledgeRepository(esClient *elasticsearch.Client) KnowledgeRepository {
	return &esKnowledgeRepository{esClient: esClient}
}

// buildFilterClauses 把元数据过滤条件编译为 term 合取子句。
func buildFilterClauses(filter model.EvidenceFilter) []map[string]interface{} {
	var clauses []map[string]interface{}
	add := func(field, value string) {
		if value != "" {
			clauses = append(clauses, map[string]interface{}{
				"term": map[string]interface{}{field: value},
			})
		}
	}
	add("city", filter.City)
	add("ward_id", filter.WardID)
	add("department", filter.Department)
	add("category", filter.Category)
	add("language", filter.Language)
	return clauses
}

// DenseSearch 对指定索引执行 kNN 向量检索。
func (r *esKnowledgeRepository) DenseSearch(ctx context.Context, index string, vector []float32, filter model.EvidenceFilter, k int) ([]ScoredDocument, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": k * 10,
	}
	if clauses := buildFilterClauses(filter); clauses != nil {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"must": clauses},
		}
	}
	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": k,
	}
	return r.execute(ctx, index, esQuery)
}

// LexicalSearch 在同一过滤子集上执行 BM25 词法检索。
func (r *esKnowledgeRepository) LexicalSearch(ctx context.Context, index string, query string, filter model.EvidenceFilter, k int) ([]ScoredDocument, error) {
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"match": map[string]interface{}{"text": query},
		},
	}
	if clauses := buildFilterClauses(filter); clauses != nil {
		boolQuery["filter"] = clauses
	}
	esQuery := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  k,
	}
	return r.execute(ctx, index, esQuery)
}

func (r *esKnowledgeRepository) execute(ctx context.Context, index string, esQuery map[string]interface{}) ([]ScoredDocument, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(index),
		r.esClient.Search.WithBody(&buf),
		r.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[KnowledgeRepository] 向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "知识库不可达", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[KnowledgeRepository] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "知识库查询失败",
			fmt.Errorf("elasticsearch returned an error: %s", res.Status()))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EvidenceDocument `json:"_source"`
				Score  float64                `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	// 空命中返回空序列，不是错误。
	results := make([]ScoredDocument, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, ScoredDocument{Doc: hit.Source, Score: hit.Score})
	}
	return results, nil
}
