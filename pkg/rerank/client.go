// Package rerank 提供了交叉比对重排模型的客户端。
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"civicfix-go/internal/config"
	"civicfix-go/pkg/log"
)

// Client 对 (query, document) 对打分，得分直接替换融合得分。
type Client interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

type httpClient struct {
	cfg    config.RerankConfig
	client *http.Client
}

// NewClient 创建一个新的重排客户端实例。
func NewClient(cfg config.RerankConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score 返回与 documents 一一对应的相关性得分。
func (c *httpClient) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	log.Infof("[RerankClient] 开始调用 Rerank API, model: %s, docs: %d", c.cfg.Model, len(documents))

	reqBytes, err := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/rerank", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[RerankClient] 调用 Rerank API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[RerankClient] Rerank API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("rerank api returned non-200 status: %s", resp.Status)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		log.Errorf("[RerankClient] 解析 Rerank API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range rr.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
