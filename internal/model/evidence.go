// Package model 定义了核心的数据结构。
package model

// EvidenceDocument 代表存储在 Elasticsearch 中的一条证据文档。
// 文档一经索引即不可变，重新索引时按来源文档整体替换。
type EvidenceDocument struct {
	DocID       string    `json:"doc_id"`
	SourceDocID string    `json:"source_doc_id"` // 来源文档标识（整体替换的粒度）
	ChunkID     int       `json:"chunk_id"`
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector,omitempty"`

	// 辖区与流程元数据，过滤均为精确匹配的合取。
	City       string `json:"city"`
	WardID     string `json:"ward_id"`
	Department string `json:"department"`
	Category   string `json:"category"`
	Language   string `json:"language"`

	// 流程属性：受理渠道、SLA、必填槽位与投诉正文模板。
	Channels       []string `json:"channels,omitempty"`
	SLADays        int      `json:"sla_days,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty"`
	Template       string   `json:"template,omitempty"`

	Source      string `json:"source"`
	FreshnessTS int64  `json:"freshness_ts"` // 来源数据的新鲜度时间戳（秒）
}

// 证据来源集合名。
const (
	CollectionKnowledge = "civic_kb"
	CollectionCaseImage = "civic_case_image"
)

// EvidenceSnippet 是检索返回的带得分证据片段，携带来源以支撑解释链。
type EvidenceSnippet struct {
	Document         EvidenceDocument `json:"document"`
	Score            float64          `json:"score"`
	CollectionOrigin string           `json:"collection_origin"`
}

// EvidenceFilter 是针对证据元数据的精确匹配过滤条件，空字段不参与过滤。
type EvidenceFilter struct {
	City       string
	WardID     string
	Department string
	Category   string
	Language   string
}

// Empty 判断过滤条件是否为空。
func (f EvidenceFilter) Empty() bool {
	return f.City == "" && f.WardID == "" && f.Department == "" && f.Category == "" && f.Language == ""
}
