package model

import (
	"fmt"
	"time"
)

// 记忆负载的已知类型。
const (
	MemoryTypeHistory    = "history"    // 反馈/结果记录
	MemoryTypePreference = "preference" // 渠道偏好
)

// 反馈结果取值。
const (
	OutcomeResolved        = "resolved"
	OutcomeNotResolved     = "not_resolved"
	OutcomeWrongDepartment = "wrong_department"
	OutcomePortalDown      = "portal_down"
	OutcomeSubmitted       = "submitted"
)

// MemoryPayload 是记忆负载的带标签联合：Type 决定哪些可选字段有效。
// 在 Memory Store 边界统一校验，杜绝松散字典直接落库。
type MemoryPayload struct {
	Type string `json:"type"`

	// history 类型字段
	Outcome  string `json:"outcome,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// preference 类型字段
	PrefChannel string `json:"pref_channel,omitempty"`
	PrefWeight  int    `json:"pref_weight,omitempty"`

	// history 类型可附带部门/类别，供打分器做记忆修正。
	Department string `json:"department,omitempty"`
	Category   string `json:"category,omitempty"`
}

// Validate 在 Memory Store 边界校验负载形状。
func (p MemoryPayload) Validate() error {
	switch p.Type {
	case MemoryTypeHistory:
		if p.Outcome == "" {
			return fmt.Errorf("history 记忆缺少 outcome")
		}
	case MemoryTypePreference:
		if p.PrefChannel == "" {
			return fmt.Errorf("preference 记忆缺少 pref_channel")
		}
	default:
		return fmt.Errorf("未知的记忆类型: %q", p.Type)
	}
	return nil
}

// Key 返回记忆去重键。同一 (user, type, ticket) 至多一条活跃记录。
func (p MemoryPayload) Key() string {
	return p.Type + ":" + p.TicketID
}

// MemoryRecord 是一条用户长期记忆。只能通过 upsert（产生新版本）或
// 衰减清理删除来变更；upsert 会把旧的同键记录标记为被取代。
type MemoryRecord struct {
	UserID     string        `json:"user_id"`
	MemoryText string        `json:"memory_text"`
	Payload    MemoryPayload `json:"payload"`
	CreatedAt  time.Time     `json:"created_at"`
	TTLDays    int           `json:"ttl_days"`
	Version    int           `json:"version"`
	Superseded bool          `json:"superseded"`
}

// Expired 判断记录在 now 时刻是否已过 TTL。
func (r MemoryRecord) Expired(now time.Time) bool {
	return now.After(r.CreatedAt.AddDate(0, 0, r.TTLDays))
}

// Active 判断记录是否仍为活跃（未被取代且未过期）。
func (r MemoryRecord) Active(now time.Time) bool {
	return !r.Superseded && !r.Expired(now)
}
