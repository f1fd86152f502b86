package model

// 请求意图。
const (
	IntentNew       = "new"
	IntentTrack     = "track"
	IntentEscalate  = "escalate"
	IntentProcedure = "procedure"
)

// AssistRequest 是网关传入编排器的统一请求体，每个意图一次调用。
// 媒体均为网关预解码后的对象：核心不做任何媒体解码。
type AssistRequest struct {
	Intent           string `json:"intent"`
	UserID           string `json:"user_id"`
	City             string `json:"city"`
	WardID           string `json:"ward_id"`
	Landmark         string `json:"landmark"`
	Text             string `json:"text"`
	PreferredChannel string `json:"preferred_channel"`
	Tone             string `json:"tone"`
	SessionID        string `json:"session_id"`

	// 协作方产物：已转写的语音文本、截图 OCR 文本。转写失败时网关可不传，
	// 核心用现有文本继续处理而非整体失败。
	TranscriptText string `json:"transcript_text"`
	ScreenshotText string `json:"screenshot_text"`

	// 预解码的图片对象（base64 原始字节），用于图像检索与留档。
	IssuePhoto    string `json:"issue_photo,omitempty"`
	Screenshot    string `json:"screenshot,omitempty"`
	AudioObjectID string `json:"audio_object_id,omitempty"`

	AutoSubmit bool   `json:"auto_submit"`
	TicketID   string `json:"ticket_id"`
	DaysWaited int    `json:"days_waited"`

	// 强制开启/关闭语言生成增强；为 nil 时使用配置默认值。
	UseLLM *bool `json:"use_llm,omitempty"`
}

// EvidenceRef 是响应中对证据片段的引用，用于解释链。
type EvidenceRef struct {
	Collection  string  `json:"collection"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"`
	FreshnessTS int64   `json:"freshness_ts"`
	Snippet     string  `json:"snippet"`
}

// RecommendedAction 是推荐结论的最小载体。
type RecommendedAction struct {
	Department    string `json:"department"`
	Category      string `json:"category"`
	BestChannel   string `json:"best_channel"`
	BackupChannel string `json:"backup_channel"`
}

// APIError 是对外暴露的结构化错误（kind + message）。
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AssistResponse 是编排器的统一响应：need_more_info、error 或成功负载三者其一。
type AssistResponse struct {
	SessionID string `json:"session_id"`

	NeedMoreInfo  bool     `json:"need_more_info,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Questions     []string `json:"questions,omitempty"`

	Error *APIError `json:"error,omitempty"`

	RecommendedAction         *RecommendedAction `json:"recommended_action,omitempty"`
	ComplaintTextReadyToPaste string             `json:"complaint_text_ready_to_paste,omitempty"`
	ChecklistRequiredFields   []string           `json:"checklist_required_fields,omitempty"`
	SLADays                   int                `json:"sla_days,omitempty"`
	EscalationSteps           []EscalationStep   `json:"escalation_steps,omitempty"`
	TipsFromSimilarCases      []string           `json:"tips_from_similar_cases,omitempty"`
	Evidence                  []EvidenceRef      `json:"evidence,omitempty"`
	Reasoning                 []string           `json:"reasoning,omitempty"`
	Confidence                string             `json:"confidence,omitempty"`
	LowConfidence             bool               `json:"low_confidence,omitempty"`
	// Degraded 表示证据检索失败后以记忆/规则兜底产生的结果。
	Degraded bool `json:"degraded,omitempty"`
	// MediaReviewURLs 是会话媒体留档（照片/截图）的限时查看链接。
	MediaReviewURLs []string `json:"media_review_urls,omitempty"`

	// track / escalate 相关字段
	Ticket        *Ticket `json:"ticket,omitempty"`
	CurrentStatus string  `json:"current_status,omitempty"`
	DaysWaited    int     `json:"days_waited,omitempty"`

	TicketID         string `json:"ticket_id,omitempty"`
	SubmissionStatus string `json:"submission_status,omitempty"`

	SafetyNote  string `json:"safety_note,omitempty"`
	LLMMarkdown string `json:"llm_markdown,omitempty"`
}

// FeedbackRequest 是反馈接口的请求体。
type FeedbackRequest struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id,omitempty"`
	TicketID   string `json:"ticket_id,omitempty"`
	Outcome    string `json:"outcome"`
	Notes      string `json:"notes,omitempty"`
	Department string `json:"department,omitempty"`
	Category   string `json:"category,omitempty"`
}

// MemoryDeleteRequest 是被遗忘权接口的请求体。
type MemoryDeleteRequest struct {
	UserID string `json:"user_id"`
}

// IndexDocumentRequest 触发一篇流程文档的异步重建索引。
type IndexDocumentRequest struct {
	SourceDocID string `json:"source_doc_id"`
	ObjectName  string `json:"object_name"`
	FileName    string `json:"file_name"`
	City        string `json:"city"`
	WardID      string `json:"ward_id"`
	Department  string `json:"department"`
	Category    string `json:"category"`
	Language    string `json:"language"`
	Source      string `json:"source"`
}
