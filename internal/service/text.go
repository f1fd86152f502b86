package service

import (
	"regexp"
	"strings"
	"unicode"

	"civicfix-go/internal/model"
)

// 投诉文本的轻量预处理：紧急度推断、PII 脱敏与模板填充。
// 这里只做规则处理，语言生成增强在编排器里按开关单独走。

var highUrgencyKeywords = []string{
	"urgent", "emergency", "danger", "dangerous", "accident", "injured",
	"live wire", "sparking", "fire", "gas leak", "open manhole",
	"sewage overflow", "flooding", "collapsed",
}

var mediumUrgencyKeywords = []string{
	"no water", "power cut", "outage", "not working", "blocked",
	"leaking", "overflowing", "broken", "for days", "still pending",
}

// inferUrgency 按关键词从投诉文本推断紧急度，默认 low。
func inferUrgency(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range highUrgencyKeywords {
		if strings.Contains(lower, kw) {
			return model.UrgencyHigh
		}
	}
	for _, kw := range mediumUrgencyKeywords {
		if strings.Contains(lower, kw) {
			return model.UrgencyMedium
		}
	}
	return model.UrgencyLow
}

// detectLanguage 按文字系统给出语言过滤提示：出现天城文即按 "hi" 过滤，
// 其余情况返回空串（不参与过滤），避免误伤缺少语言元数据的文档。
func detectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return "hi"
		}
	}
	return ""
}

var (
	phonePattern = regexp.MustCompile(`(\+\d{1,3}[\s-]?)?\b\d{10}\b`)
	emailPattern = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`)
	idPattern    = regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\b`)
)

// redactPII 把电话、邮箱和证件号替换为占位符。
// 先匹配证件号再匹配电话，避免 12 位号码被电话规则部分吞掉。
func redactPII(text string) string {
	text = idPattern.ReplaceAllString(text, "[id]")
	text = phonePattern.ReplaceAllString(text, "[phone]")
	text = emailPattern.ReplaceAllString(text, "[email]")
	return text
}

// defaultComplaintTemplate 是知识库未提供模板时的兜底投诉模板。
const defaultComplaintTemplate = "Complaint regarding {category} in {city}, ward {ward_id}, near {landmark}. Details: {text}"

// fillTemplate 用 {name} 占位符填充投诉模板，未提供的槽位原样保留。
func fillTemplate(template string, slots map[string]string) string {
	out := template
	for name, value := range slots {
		if value == "" {
			continue
		}
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

// slotQuestions 是追问缺失槽位时的提问文案。
var slotQuestions = map[string]string{
	"city":     "Which city is this complaint about?",
	"ward_id":  "Which ward or zone is the issue located in?",
	"landmark": "Is there a nearby landmark that helps locate the issue?",
	"photo":    "Could you attach a photo of the issue?",
	"text":     "Please describe the issue in a sentence or two.",
}

func questionFor(field string) string {
	if q, ok := slotQuestions[field]; ok {
		return q
	}
	return "Please provide: " + field
}

var hazardKeywords = []string{
	"live wire", "sparking", "gas leak", "open manhole",
	"sewage overflow", "collapsed", "fire",
}

// safetyNoteFor 对高危描述附加安全提示；无风险时返回空串。
func safetyNoteFor(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range hazardKeywords {
		if strings.Contains(lower, kw) {
			return "Safety: keep a safe distance from the hazard and warn passers-by. If anyone is in immediate danger, call emergency services before filing the complaint."
		}
	}
	return ""
}

// truncateText 截断长文本，用于 tips 与证据摘要。
func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
