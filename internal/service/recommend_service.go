package service

import (
	"fmt"
	"sort"

	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/pkg/log"
)

// RecommendService 把检索证据、用户记忆信号与辖区规则合成为
// 有序的 (部门, 渠道) 推荐候选，并为每个决策留下可追溯的解释链。
type RecommendService interface {
	Score(evidence []model.EvidenceSnippet, memory []model.MemoryRecord, reqCtx model.RequestContext) []model.RecommendationCandidate
}

type recommendService struct {
	cfg config.ScoringConfig
}

// NewRecommendService 创建一个新的 RecommendService 实例。
func NewRecommendService(cfg config.ScoringConfig) RecommendService {
	return &recommendService{cfg: cfg}
}

// 无证据兜底的通用默认值。
const (
	defaultDepartment = "Sanitation"
	defaultCategory   = "General"
)

// defaultChannels 是部门级静态默认渠道表，证据中观测不到渠道时使用。
var defaultChannels = map[string][]string{
	"Sanitation":   {model.ChannelPortal, model.ChannelApp, model.ChannelHelpline},
	"Roads":        {model.ChannelPortal, model.ChannelHelpline, model.ChannelEmail},
	"Water Supply": {model.ChannelHelpline, model.ChannelPortal, model.ChannelApp},
	"Electricity":  {model.ChannelHelpline, model.ChannelApp, model.ChannelEmail},
	"Streetlights": {model.ChannelApp, model.ChannelPortal, model.ChannelEmail},
}

var fallbackChannels = []string{model.ChannelHelpline, model.ChannelPortal, model.ChannelEmail}

// channelOrder 给渠道一个固定的全序，保证同分排序确定。
var channelOrder = map[string]int{
	model.ChannelHelpline: 0,
	model.ChannelInPerson: 1,
	model.ChannelPortal:   2,
	model.ChannelApp:      3,
	model.ChannelEmail:    4,
}

type evidenceGroup struct {
	department string
	category   string
	snippets   []model.EvidenceSnippet
	base       float64
	boost      float64
	adjusted   float64
	match      model.JurisdictionMatch
	reasoning  []string
}

func (s *recommendService) Score(evidence []model.EvidenceSnippet, memory []model.MemoryRecord, reqCtx model.RequestContext) []model.RecommendationCandidate {
	if len(evidence) == 0 {
		// 没有任何证据时给出显式标记的低置信兜底，绝不伪造证据。
		return []model.RecommendationCandidate{s.lowConfidenceFallback(reqCtx)}
	}

	groups := s.groupEvidence(evidence)
	if len(groups) == 0 {
		// 证据全部缺失部门标注，等同于无证据。
		return []model.RecommendationCandidate{s.lowConfidenceFallback(reqCtx)}
	}
	for _, g := range groups {
		s.applyJurisdictionBoost(g, reqCtx)
		s.applyMemoryAdjustment(g, memory)
	}

	// 按调整后得分降序；同分先比辖区匹配强度，再按部门名字典序。
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].adjusted != groups[j].adjusted {
			return groups[i].adjusted > groups[j].adjusted
		}
		if groups[i].match != groups[j].match {
			return groups[i].match > groups[j].match
		}
		return groups[i].department < groups[j].department
	})

	candidates := make([]model.RecommendationCandidate, 0, len(groups))
	for _, g := range groups {
		best, backup, channelReason := s.selectChannels(g, reqCtx)
		reasoning := append(append([]string{}, g.reasoning...), channelReason...)
		candidates = append(candidates, model.RecommendationCandidate{
			Department:        g.department,
			Category:          g.category,
			BestChannel:       best,
			BackupChannel:     backup,
			Score:             g.adjusted,
			Evidence:          g.snippets,
			Reasoning:         reasoning,
			JurisdictionMatch: g.match,
		})
	}
	log.Infof("[RecommendService] 打分完成, 共 %d 个候选, 首选部门: %s", len(candidates), candidates[0].Department)
	return candidates
}

// groupEvidence 按 (部门, 类别) 分组，基础分取组内 top-3 证据得分之和，
// 既奖励证据深度又避免单条文档独大。
func (s *recommendService) groupEvidence(evidence []model.EvidenceSnippet) []*evidenceGroup {
	byKey := make(map[string]*evidenceGroup)
	var order []string
	for _, snip := range evidence {
		dept := snip.Document.Department
		if dept == "" {
			continue
		}
		key := dept + "\x00" + snip.Document.Category
		g, ok := byKey[key]
		if !ok {
			g = &evidenceGroup{department: dept, category: snip.Document.Category}
			byKey[key] = g
			order = append(order, key)
		}
		g.snippets = append(g.snippets, snip)
	}

	groups := make([]*evidenceGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		sort.SliceStable(g.snippets, func(i, j int) bool {
			return g.snippets[i].Score > g.snippets[j].Score
		})
		top := g.snippets
		if len(top) > 3 {
			top = top[:3]
		}
		for _, snip := range top {
			g.base += snip.Score
			g.reasoning = append(g.reasoning, fmt.Sprintf(
				"evidence %s (%s) scored %.3f for %s/%s",
				snip.Document.DocID, snip.CollectionOrigin, snip.Score, g.department, g.category))
		}
		g.adjusted = g.base
		groups = append(groups, g)
	}
	return groups
}

// applyJurisdictionBoost 按组内最强的辖区匹配施加乘性加权：
// 城市+辖区精确匹配 > 仅城市匹配 > 无匹配（不加权）。
func (s *recommendService) applyJurisdictionBoost(g *evidenceGroup, reqCtx model.RequestContext) {
	g.match = model.JurisdictionNone
	for _, snip := range g.snippets {
		doc := snip.Document
		if reqCtx.City != "" && doc.City == reqCtx.City {
			if reqCtx.WardID != "" && doc.WardID == reqCtx.WardID {
				g.match = model.JurisdictionExact
				break
			}
			if g.match < model.JurisdictionCityOnly {
				g.match = model.JurisdictionCityOnly
			}
		}
	}

	g.boost = 1.0
	switch g.match {
	case model.JurisdictionExact:
		g.boost = s.cfg.ExactMatchBoost
		g.reasoning = append(g.reasoning, fmt.Sprintf("jurisdiction exact match (city+ward), boost x%.2f", g.boost))
	case model.JurisdictionCityOnly:
		g.boost = s.cfg.PartialMatchBoost
		g.reasoning = append(g.reasoning, fmt.Sprintf("jurisdiction city-only match, boost x%.2f", g.boost))
	}
	g.adjusted = g.base * g.boost
}

// applyMemoryAdjustment 依据近期反馈修正得分：
// wrong_department 扣分，resolved 小幅强化。
func (s *recommendService) applyMemoryAdjustment(g *evidenceGroup, memory []model.MemoryRecord) {
	for _, rec := range memory {
		if rec.Payload.Type != model.MemoryTypeHistory {
			continue
		}
		if rec.Payload.Department != g.department {
			continue
		}
		// 类别为空的反馈按部门级处理，其余要求类别一致（相似类别）。
		if rec.Payload.Category != "" && rec.Payload.Category != g.category {
			continue
		}
		switch rec.Payload.Outcome {
		case model.OutcomeWrongDepartment:
			g.adjusted -= s.cfg.WrongDepartmentPenalty
			g.reasoning = append(g.reasoning, fmt.Sprintf(
				"memory: past wrong_department feedback for %s, penalty -%.2f", g.department, s.cfg.WrongDepartmentPenalty))
		case model.OutcomeResolved:
			g.adjusted += s.cfg.ResolvedReinforcement
			g.reasoning = append(g.reasoning, fmt.Sprintf(
				"memory: past resolved outcome for %s/%s, reinforcement +%.2f", g.department, g.category, s.cfg.ResolvedReinforcement))
		}
	}
}

// selectChannels 在组内证据观测到的渠道（缺省时查部门默认表）中，
// 按紧急度与可用性打分排序，再套用用户偏好的提升/备选规则。
func (s *recommendService) selectChannels(g *evidenceGroup, reqCtx model.RequestContext) (best, backup string, reasoning []string) {
	observed := observedChannels(g.snippets)
	if len(observed) == 0 {
		observed = defaultChannels[g.department]
		if len(observed) == 0 {
			observed = fallbackChannels
		}
		reasoning = append(reasoning, "no channels observed in evidence, using department defaults")
	}

	ranked := rankChannels(observed, reqCtx)
	best = ranked[0]
	if len(ranked) > 1 {
		backup = ranked[1]
	}

	if pref := reqCtx.PreferredChannel; pref != "" {
		if containsChannel(observed, pref) {
			reasoning = append(reasoning, fmt.Sprintf("preferred channel %q viable, promoted to best", pref))
		} else {
			reasoning = append(reasoning, fmt.Sprintf("preferred channel %q not offered by %s, kept as backup", pref, g.department))
		}
		best, backup = applyPreference(observed, best, backup, pref)
	}
	reasoning = append(reasoning, fmt.Sprintf("channel ranking (urgency=%s): best=%s backup=%s", reqCtx.Urgency, best, backup))
	return best, backup, reasoning
}

// observedChannels 收集组内证据声明的渠道并去重，保持出现顺序。
func observedChannels(snippets []model.EvidenceSnippet) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, snip := range snippets {
		for _, ch := range snip.Document.Channels {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}

// scoreChannel 结合紧急度、门户可用性给渠道打分。
// 高紧急度偏向同步渠道（热线/现场），低紧急度偏向自助渠道。
func scoreChannel(channel string, reqCtx model.RequestContext) float64 {
	var s float64
	switch reqCtx.Urgency {
	case model.UrgencyHigh:
		if channel == model.ChannelHelpline || channel == model.ChannelInPerson {
			s += 2.0
		} else {
			s += 0.6
		}
	case model.UrgencyMedium:
		if channel == model.ChannelApp || channel == model.ChannelPortal {
			s += 1.2
		} else {
			s += 0.5
		}
	default:
		if channel == model.ChannelPortal || channel == model.ChannelApp {
			s += 1.0
		} else {
			s += 0.3
		}
	}
	if channel == model.ChannelPortal && !reqCtx.PortalOK {
		s -= 2.5
	}
	return s
}

func rankChannels(channels []string, reqCtx model.RequestContext) []string {
	ranked := append([]string{}, channels...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scoreChannel(ranked[i], reqCtx), scoreChannel(ranked[j], reqCtx)
		if si != sj {
			return si > sj
		}
		return channelOrder[ranked[i]] < channelOrder[ranked[j]]
	})
	return ranked
}

// applyPreference 套用用户偏好：偏好渠道可用则提升为首选（原首选转为备选），
// 不可用则保留为备选，首选维持排序第一。
func applyPreference(observed []string, best, backup, pref string) (string, string) {
	if pref == "" {
		return best, backup
	}
	if containsChannel(observed, pref) {
		if best != pref {
			backup = best
			best = pref
		}
		return best, backup
	}
	return best, pref
}

func containsChannel(channels []string, channel string) bool {
	for _, ch := range channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// lowConfidenceFallback 构造无证据时的显式低置信兜底候选。
func (s *recommendService) lowConfidenceFallback(reqCtx model.RequestContext) model.RecommendationCandidate {
	observed := defaultChannels[defaultDepartment]
	ranked := rankChannels(observed, reqCtx)
	best := ranked[0]
	backup := ""
	if len(ranked) > 1 {
		backup = ranked[1]
	}
	// 兜底同样尊重用户偏好：可用则提升为首选，不可用则留作备选。
	best, backup = applyPreference(observed, best, backup, reqCtx.PreferredChannel)
	return model.RecommendationCandidate{
		Department:    defaultDepartment,
		Category:      defaultCategory,
		BestChannel:   best,
		BackupChannel: backup,
		Reasoning:     []string{"no supporting evidence retrieved, generic default recommendation"},
		LowConfidence: true,
	}
}

// ConfidenceLabel 由最高证据得分映射置信度标签。
func ConfidenceLabel(topScore float64, hasEvidence bool) string {
	if !hasEvidence {
		return model.ConfidenceLow
	}
	if topScore >= 0.35 {
		return model.ConfidenceHigh
	}
	if topScore >= 0.25 {
		return model.ConfidenceMedium
	}
	return model.ConfidenceLow
}
