package model

// 辖区匹配强度，用作部门并列时的决胜依据。
type JurisdictionMatch int

const (
	JurisdictionNone JurisdictionMatch = iota
	JurisdictionCityOnly
	JurisdictionExact
)

// 受理渠道。同步渠道（helpline/in_person）在高紧急度下优先。
const (
	ChannelPortal   = "portal"
	ChannelApp      = "app"
	ChannelHelpline = "helpline"
	ChannelEmail    = "email"
	ChannelInPerson = "in_person"
)

// 紧急度等级，由投诉文本推断。
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// 置信度标签。
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// RecommendationCandidate 是一条 (部门, 渠道) 推荐候选，按请求构造，不落库。
// 每条推荐必须携带至少一条证据引用，否则必须标记 LowConfidence。
type RecommendationCandidate struct {
	Department        string            `json:"department"`
	Category          string            `json:"category"`
	BestChannel       string            `json:"best_channel"`
	BackupChannel     string            `json:"backup_channel"`
	Score             float64           `json:"score"`
	Evidence          []EvidenceSnippet `json:"evidence"`
	Reasoning         []string          `json:"reasoning"`
	JurisdictionMatch JurisdictionMatch `json:"-"`
	LowConfidence     bool              `json:"low_confidence"`
}

// RequestContext 是打分器所需的请求上下文信号。
type RequestContext struct {
	City             string
	WardID           string
	Urgency          string
	PreferredChannel string
	PortalOK         bool
}
