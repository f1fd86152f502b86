// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sort"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/internal/repository"
	"civicfix-go/pkg/embedding"
	"civicfix-go/pkg/log"
	"civicfix-go/pkg/rerank"

	"golang.org/x/sync/errgroup"
)

// RetrievalService 定义了混合检索操作：稠密 + 词法双通路融合，可选重排。
type RetrievalService interface {
	// Retrieve 返回按最终得分排序的证据片段。query 与 imageB64 至少其一非空；
	// 纯图像查询同样可以执行。结果有限且不可续读，新查询重新执行检索。
	Retrieve(ctx context.Context, query string, imageB64 string, filter model.EvidenceFilter, k int) ([]model.EvidenceSnippet, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	rerankClient    rerank.Client
	knowledgeRepo   repository.KnowledgeRepository
	esCfg           config.ElasticsearchConfig
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	embeddingClient embedding.Client,
	rerankClient rerank.Client,
	knowledgeRepo repository.KnowledgeRepository,
	esCfg config.ElasticsearchConfig,
	cfg config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		rerankClient:    rerankClient,
		knowledgeRepo:   knowledgeRepo,
		esCfg:           esCfg,
		cfg:             cfg,
	}
}

// hybridCandidate 是融合过程中的中间态：同一文档的稠密与词法得分。
// 缺失某一通路时该通路得分保持 0，不剔除文档。
type hybridCandidate struct {
	doc    model.EvidenceDocument
	origin string
	dense  float64
	lex    float64
	merged float64
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, imageB64 string, filter model.EvidenceFilter, k int) ([]model.EvidenceSnippet, error) {
	if k <= 0 {
		k = s.cfg.TopK
	}
	window := s.cfg.RerankWindow
	if window < k {
		window = k
	}
	log.Infof("[RetrievalService] 开始混合检索, query_len: %d, has_image: %v, k: %d", len(query), imageB64 != "", k)

	var (
		denseHits []repository.ScoredDocument
		lexHits   []repository.ScoredDocument
		imageHits []repository.ScoredDocument
		denseErr  error
		lexErr    error
		imageErr  error
	)

	// 三条通路并行执行；单通路失败不取消其余通路，降级在汇总处决定。
	g, gctx := errgroup.WithContext(ctx)
	if query != "" {
		g.Go(func() error {
			vector, err := s.embeddingClient.CreateEmbedding(gctx, query)
			if err != nil {
				denseErr = err
				return nil
			}
			denseHits, denseErr = s.searchWithRetry(gctx, func() ([]repository.ScoredDocument, error) {
				return s.knowledgeRepo.DenseSearch(gctx, s.esCfg.KnowledgeIndex, vector, filter, window)
			})
			return nil
		})
		g.Go(func() error {
			lexHits, lexErr = s.searchWithRetry(gctx, func() ([]repository.ScoredDocument, error) {
				return s.knowledgeRepo.LexicalSearch(gctx, s.esCfg.KnowledgeIndex, query, filter, window)
			})
			return nil
		})
	}
	if imageB64 != "" {
		g.Go(func() error {
			vector, err := s.embeddingClient.CreateImageEmbedding(gctx, imageB64)
			if err != nil {
				imageErr = err
				return nil
			}
			imageHits, imageErr = s.searchWithRetry(gctx, func() ([]repository.ScoredDocument, error) {
				return s.knowledgeRepo.DenseSearch(gctx, s.esCfg.CaseImageIndex, vector, filter, window)
			})
			return nil
		})
	}
	_ = g.Wait()

	if denseErr != nil {
		log.Warnf("[RetrievalService] 稠密通路失败: %v", denseErr)
	}
	if lexErr != nil {
		log.Warnf("[RetrievalService] 词法通路失败: %v", lexErr)
	}
	if imageErr != nil {
		log.Warnf("[RetrievalService] 图像通路失败: %v", imageErr)
	}

	// 全部通路都失败才上报 StoreUnavailable，由调用方降级为记忆/规则推荐。
	attempted := 0
	failed := 0
	if query != "" {
		attempted += 2
		if denseErr != nil {
			failed++
		}
		if lexErr != nil {
			failed++
		}
	}
	if imageB64 != "" {
		attempted++
		if imageErr != nil {
			failed++
		}
	}
	if attempted == 0 {
		return []model.EvidenceSnippet{}, nil
	}
	if failed == attempted {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "证据检索全部通路失败", denseErr)
	}

	candidates := mergeHybrid(denseHits, lexHits, imageHits, s.cfg.Alpha, s.cfg.Beta)
	if len(candidates) == 0 {
		// 过滤条件无命中返回空序列，不是错误。
		return []model.EvidenceSnippet{}, nil
	}

	sortCandidates(candidates, func(c *hybridCandidate) float64 { return c.merged })

	// 重排：对前 M 个融合候选用交叉比对模型重打分，
	// 重排得分直接替换融合得分决定最终 top-k 顺序，不再混合。
	if s.cfg.RerankEnabled && query != "" {
		m := window
		if m > len(candidates) {
			m = len(candidates)
		}
		head := candidates[:m]
		texts := make([]string, m)
		for i, c := range head {
			texts[i] = c.doc.Text
		}
		scores, err := s.rerankClient.Score(ctx, query, texts)
		if err != nil {
			log.Warnf("[RetrievalService] 重排失败, 保留融合排序: %v", err)
		} else if len(scores) == m {
			for i := range head {
				head[i].merged = scores[i]
			}
			sortCandidates(head, func(c *hybridCandidate) float64 { return c.merged })
		}
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	snippets := make([]model.EvidenceSnippet, 0, len(candidates))
	for _, c := range candidates {
		snippets = append(snippets, model.EvidenceSnippet{
			Document:         c.doc,
			Score:            c.merged,
			CollectionOrigin: c.origin,
		})
	}
	log.Infof("[RetrievalService] 混合检索完成, 返回 %d 条证据", len(snippets))
	return snippets, nil
}

// searchWithRetry 对知识库调用做一次透明重试（检索幂等，重试安全）。
func (s *retrievalService) searchWithRetry(ctx context.Context, fn func() ([]repository.ScoredDocument, error)) ([]repository.ScoredDocument, error) {
	hits, err := fn()
	if err != nil && apperr.Is(err, apperr.KindStoreUnavailable) {
		log.Warnf("[RetrievalService] 知识库调用失败, 重试一次: %v", err)
		hits, err = fn()
	}
	return hits, err
}

// mergeHybrid 按 final = alpha*norm(dense) + beta*norm(lex) 融合两条通路；
// 图像命中作为独立集合归一后以 alpha 权重并入（无词法得分）。
func mergeHybrid(dense, lexical, image []repository.ScoredDocument, alpha, beta float64) []*hybridCandidate {
	byID := make(map[string]*hybridCandidate)
	get := func(doc model.EvidenceDocument, origin string) *hybridCandidate {
		c, ok := byID[doc.DocID]
		if !ok {
			c = &hybridCandidate{doc: doc, origin: origin}
			byID[doc.DocID] = c
		}
		return c
	}

	for i, h := range dense {
		c := get(h.Doc, model.CollectionKnowledge)
		c.dense = normalizedAt(dense, i)
	}
	for i, h := range lexical {
		c := get(h.Doc, model.CollectionKnowledge)
		c.lex = normalizedAt(lexical, i)
	}
	for i, h := range image {
		c := get(h.Doc, model.CollectionCaseImage)
		c.origin = model.CollectionCaseImage
		c.dense = normalizedAt(image, i)
	}

	out := make([]*hybridCandidate, 0, len(byID))
	for _, c := range byID {
		c.merged = alpha*c.dense + beta*c.lex
		out = append(out, c)
	}
	return out
}

// normalizedAt 对列表中第 i 个得分做 min-max 归一化；列表得分全相等时记 1。
func normalizedAt(hits []repository.ScoredDocument, i int) float64 {
	minS, maxS := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < minS {
			minS = h.Score
		}
		if h.Score > maxS {
			maxS = h.Score
		}
	}
	if maxS == minS {
		return 1.0
	}
	return (hits[i].Score - minS) / (maxS - minS)
}

// sortCandidates 按得分降序排序；同分时先比 freshness_ts 降序（新者优先），
// 再比文档 id 升序，保证确定性。
func sortCandidates(candidates []*hybridCandidate, score func(*hybridCandidate) float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		if candidates[i].doc.FreshnessTS != candidates[j].doc.FreshnessTS {
			return candidates[i].doc.FreshnessTS > candidates[j].doc.FreshnessTS
		}
		return candidates[i].doc.DocID < candidates[j].doc.DocID
	})
}
