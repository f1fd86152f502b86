package service

import (
	"testing"

	"civicfix-go/internal/config"
	"civicfix-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		ExactMatchBoost:        1.5,
		PartialMatchBoost:      1.2,
		WrongDepartmentPenalty: 0.5,
		ResolvedReinforcement:  0.2,
	}
}

func snip(dept, cat, city, ward string, score float64, channels ...string) model.EvidenceSnippet {
	return model.EvidenceSnippet{
		Document: model.EvidenceDocument{
			DocID:      dept + "-" + cat,
			Department: dept,
			Category:   cat,
			City:       city,
			WardID:     ward,
			Channels:   channels,
		},
		Score:            score,
		CollectionOrigin: model.CollectionKnowledge,
	}
}

func TestScoreGroupsAndJurisdictionBoost(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{City: "Pune", WardID: "W12", Urgency: model.UrgencyLow, PortalOK: true}

	evidence := []model.EvidenceSnippet{
		// Sanitation/Garbage：三条证据且城市+辖区精确匹配
		snip("Sanitation", "Garbage", "Pune", "W12", 0.9, "portal"),
		snip("Sanitation", "Garbage", "Pune", "W12", 0.8),
		snip("Sanitation", "Garbage", "Pune", "W12", 0.7),
		// Roads/Pothole：单条证据且辖区不匹配
		snip("Roads", "Pothole", "Mumbai", "W99", 0.95),
	}

	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 2)

	// base = 0.9+0.8+0.7 = 2.4，精确匹配 ×1.5 = 3.6
	assert.Equal(t, "Sanitation", candidates[0].Department)
	assert.InDelta(t, 3.6, candidates[0].Score, 1e-9)
	assert.Equal(t, model.JurisdictionExact, candidates[0].JurisdictionMatch)

	assert.Equal(t, "Roads", candidates[1].Department)
	assert.InDelta(t, 0.95, candidates[1].Score, 1e-9)
	assert.False(t, candidates[0].LowConfidence)
	assert.NotEmpty(t, candidates[0].Reasoning)
}

func TestScoreTopThreeEvidenceOnly(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PortalOK: true}

	// 五条证据中只有得分最高的三条参与基础分。
	evidence := []model.EvidenceSnippet{
		snip("Sanitation", "Garbage", "", "", 0.5),
		snip("Sanitation", "Garbage", "", "", 0.4),
		snip("Sanitation", "Garbage", "", "", 0.3),
		snip("Sanitation", "Garbage", "", "", 0.2),
		snip("Sanitation", "Garbage", "", "", 0.1),
	}
	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.InDelta(t, 1.2, candidates[0].Score, 1e-9)
}

func TestScoreMemoryAdjustments(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PortalOK: true}

	evidence := []model.EvidenceSnippet{
		snip("Roads", "Pothole", "", "", 1.0),
		snip("Sanitation", "Garbage", "", "", 1.0),
	}
	memory := []model.MemoryRecord{
		{Payload: model.MemoryPayload{Type: model.MemoryTypeHistory, Outcome: model.OutcomeWrongDepartment, Department: "Roads", Category: "Pothole"}},
		{Payload: model.MemoryPayload{Type: model.MemoryTypeHistory, Outcome: model.OutcomeResolved, Department: "Sanitation", Category: "Garbage"}},
	}

	candidates := svc.Score(evidence, memory, reqCtx)
	require.Len(t, candidates, 2)

	// Sanitation: 1.0 + 0.2 强化；Roads: 1.0 - 0.5 扣分。
	assert.Equal(t, "Sanitation", candidates[0].Department)
	assert.InDelta(t, 1.2, candidates[0].Score, 1e-9)
	assert.Equal(t, "Roads", candidates[1].Department)
	assert.InDelta(t, 0.5, candidates[1].Score, 1e-9)
}

func TestScoreTieBreakByJurisdictionThenName(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{City: "Pune", Urgency: model.UrgencyLow, PortalOK: true}

	// 两个候选调整后同分：Water Supply 仅城市匹配（1.0×1.2），
	// Electricity 无匹配但基础分 1.2。
	evidence := []model.EvidenceSnippet{
		snip("Water Supply", "Leakage", "Pune", "", 1.0),
		snip("Electricity", "Outage", "Mumbai", "", 1.2),
	}
	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Water Supply", candidates[0].Department)

	// 同分且同辖区强度时按部门名字典序。
	evidence = []model.EvidenceSnippet{
		snip("Roads", "Pothole", "", "", 1.0),
		snip("Electricity", "Outage", "", "", 1.0),
	}
	candidates = svc.Score(evidence, nil, reqCtx)
	assert.Equal(t, "Electricity", candidates[0].Department)
}

func TestScoreNoEvidenceLowConfidenceFallback(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PortalOK: true}

	candidates := svc.Score(nil, nil, reqCtx)
	require.Len(t, candidates, 1)

	assert.True(t, candidates[0].LowConfidence)
	assert.Equal(t, "Sanitation", candidates[0].Department)
	assert.Equal(t, "General", candidates[0].Category)
	assert.Empty(t, candidates[0].Evidence)
	assert.NotEmpty(t, candidates[0].BestChannel)
}

func TestFallbackPromotesViablePreferredChannel(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())

	// 偏好渠道在默认渠道表内：兜底同样把它提升为首选。
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PreferredChannel: model.ChannelApp, PortalOK: true}
	candidates := svc.Score(nil, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].LowConfidence)
	assert.Equal(t, model.ChannelApp, candidates[0].BestChannel)
	assert.Equal(t, model.ChannelPortal, candidates[0].BackupChannel)

	// 不可用的偏好渠道只作备选。
	reqCtx.PreferredChannel = model.ChannelInPerson
	candidates = svc.Score(nil, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.ChannelPortal, candidates[0].BestChannel)
	assert.Equal(t, model.ChannelInPerson, candidates[0].BackupChannel)
}

func TestChannelSelectionHighUrgencyPrefersSynchronous(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{Urgency: model.UrgencyHigh, PortalOK: true}

	evidence := []model.EvidenceSnippet{
		snip("Electricity", "Outage", "", "", 1.0, "portal", "helpline", "email"),
	}
	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.ChannelHelpline, candidates[0].BestChannel)
}

func TestChannelSelectionPortalDownPenalty(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PortalOK: false}

	evidence := []model.EvidenceSnippet{
		snip("Sanitation", "Garbage", "", "", 1.0, "portal", "app"),
	}
	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 1)

	// 门户不可用时降权，app 成为首选。
	assert.Equal(t, model.ChannelApp, candidates[0].BestChannel)
	assert.Equal(t, model.ChannelPortal, candidates[0].BackupChannel)
}

func TestChannelSelectionPreferredChannel(t *testing.T) {
	svc := NewRecommendService(testScoringConfig())

	// 偏好渠道可用：提升为首选。
	reqCtx := model.RequestContext{Urgency: model.UrgencyLow, PreferredChannel: model.ChannelApp, PortalOK: true}
	evidence := []model.EvidenceSnippet{
		snip("Sanitation", "Garbage", "", "", 1.0, "portal", "app"),
	}
	candidates := svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.ChannelApp, candidates[0].BestChannel)
	assert.Equal(t, model.ChannelPortal, candidates[0].BackupChannel)

	// 偏好渠道该部门不提供：保留为备选。
	reqCtx.PreferredChannel = model.ChannelEmail
	candidates = svc.Score(evidence, nil, reqCtx)
	require.Len(t, candidates, 1)
	assert.Equal(t, model.ChannelPortal, candidates[0].BestChannel)
	assert.Equal(t, model.ChannelEmail, candidates[0].BackupChannel)
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, model.ConfidenceLow, ConfidenceLabel(0, false))
	assert.Equal(t, model.ConfidenceHigh, ConfidenceLabel(0.5, true))
	assert.Equal(t, model.ConfidenceMedium, ConfidenceLabel(0.3, true))
	assert.Equal(t, model.ConfidenceLow, ConfidenceLabel(0.1, true))
}
