package service

import (
	"context"
	"testing"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrievalConfig() (config.ElasticsearchConfig, config.RetrievalConfig) {
	esCfg := config.ElasticsearchConfig{KnowledgeIndex: "civic_kb", CaseImageIndex: "civic_case_image"}
	cfg := config.RetrievalConfig{Alpha: 0.6, Beta: 0.4, RerankEnabled: false, RerankWindow: 10, TopK: 5}
	return esCfg, cfg
}

func kbDoc(id string, freshness int64) model.EvidenceDocument {
	return model.EvidenceDocument{DocID: id, Text: "text-" + id, FreshnessTS: freshness}
}

func TestRetrieveMergesDenseAndLexical(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {
				{Doc: kbDoc("a", 10), Score: 0.9},
				{Doc: kbDoc("b", 10), Score: 0.5},
			},
		},
		lexHits: []repository.ScoredDocument{
			{Doc: kbDoc("b", 10), Score: 7.0},
			{Doc: kbDoc("c", 10), Score: 3.0},
		},
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "garbage not collected", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 3)

	// 归一化后：a 稠密 1.0、b 词法 1.0、c 两路都是最小值。
	// final = 0.6*dense + 0.4*lex，缺失通路按 0 计入。
	assert.Equal(t, "a", snippets[0].Document.DocID)
	assert.InDelta(t, 0.6, snippets[0].Score, 1e-9)
	assert.Equal(t, "b", snippets[1].Document.DocID)
	assert.InDelta(t, 0.4, snippets[1].Score, 1e-9)
	assert.Equal(t, "c", snippets[2].Document.DocID)
	assert.InDelta(t, 0.0, snippets[2].Score, 1e-9)
}

func TestRetrieveTieBreaksByFreshnessThenID(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	// 得分全相等时归一化记 1，三个文档完全同分。
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {
				{Doc: kbDoc("x", 100), Score: 0.5},
				{Doc: kbDoc("z", 200), Score: 0.5},
				{Doc: kbDoc("y", 100), Score: 0.5},
			},
		},
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "pothole", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 3)

	// 同分先比新鲜度（新者优先），再按 id 升序。
	assert.Equal(t, "z", snippets[0].Document.DocID)
	assert.Equal(t, "x", snippets[1].Document.DocID)
	assert.Equal(t, "y", snippets[2].Document.DocID)
}

func TestRetrieveRetriesOnceOnStoreUnavailable(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {{Doc: kbDoc("a", 10), Score: 0.9}},
		},
		denseFailuresLeft: 1, // 第一次失败，重试应成功
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "water leakage", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, 2, repo.denseCalls)
}

func TestRetrieveAllLegsFailedReturnsStoreUnavailable(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	repo := &fakeKnowledgeRepo{
		denseFailuresLeft: 4,
		lexFailuresLeft:   4,
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	_, err := svc.Retrieve(context.Background(), "streetlight broken", "", model.EvidenceFilter{}, 5)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
}

func TestRetrieveSingleLegFailureDegrades(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {{Doc: kbDoc("a", 10), Score: 0.9}},
		},
		lexFailuresLeft: 4, // 词法通路彻底失败，稠密通路仍可用
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "sewage overflow", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "a", snippets[0].Document.DocID)
}

func TestRetrieveImageOnlyUsesCaseImageIndex(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_case_image": {{Doc: kbDoc("img-1", 10), Score: 0.8}},
		},
	}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "", "aGVsbG8=", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, model.CollectionCaseImage, snippets[0].CollectionOrigin)
}

func TestRerankReplacesMergedScores(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	cfg.RerankEnabled = true
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {
				{Doc: kbDoc("a", 10), Score: 0.9},
				{Doc: kbDoc("b", 10), Score: 0.1},
			},
		},
	}
	// 重排把融合排序反转：b 得分更高。
	reranker := &fakeReranker{scores: []float64{0.2, 0.95}}
	svc := NewRetrievalService(&fakeEmbedder{}, reranker, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "garbage", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.True(t, reranker.called)

	// 重排得分直接替换融合得分，不混合。
	assert.Equal(t, "b", snippets[0].Document.DocID)
	assert.InDelta(t, 0.95, snippets[0].Score, 1e-9)
	assert.Equal(t, "a", snippets[1].Document.DocID)
	assert.InDelta(t, 0.2, snippets[1].Score, 1e-9)
}

func TestRerankFailureKeepsMergedOrder(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	cfg.RerankEnabled = true
	repo := &fakeKnowledgeRepo{
		denseHits: map[string][]repository.ScoredDocument{
			"civic_kb": {
				{Doc: kbDoc("a", 10), Score: 0.9},
				{Doc: kbDoc("b", 10), Score: 0.1},
			},
		},
	}
	reranker := &fakeReranker{err: assert.AnError}
	svc := NewRetrievalService(&fakeEmbedder{}, reranker, repo, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "garbage", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "a", snippets[0].Document.DocID)
}

func TestRetrieveEmptyInputsReturnEmpty(t *testing.T) {
	esCfg, cfg := testRetrievalConfig()
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeReranker{}, &fakeKnowledgeRepo{}, esCfg, cfg)

	snippets, err := svc.Retrieve(context.Background(), "", "", model.EvidenceFilter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}
