package model

import "time"

// 工单状态。状态机：new → submitted → escalated → resolved，
// 另有任意未解决状态可达的终态 abandoned。
const (
	TicketStatusNew       = "new"
	TicketStatusSubmitted = "submitted"
	TicketStatusEscalated = "escalated"
	TicketStatusResolved  = "resolved"
	TicketStatusAbandoned = "abandoned"
)

// Ticket 定义了 tickets 表的 ORM 模型，状态只能经由定义好的迁移变更。
type Ticket struct {
	TicketID      string    `gorm:"primaryKey;type:varchar(32)" json:"ticketId"`
	UserID        string    `gorm:"type:varchar(64);index;not null" json:"userId"`
	City          string    `gorm:"type:varchar(64)" json:"city"`
	WardID        string    `gorm:"type:varchar(32)" json:"wardId"`
	Category      string    `gorm:"type:varchar(64)" json:"category"`
	Department    string    `gorm:"type:varchar(64)" json:"department"`
	Channel       string    `gorm:"type:varchar(32)" json:"channel"`
	ComplaintText string    `gorm:"type:text" json:"complaintText"`
	Status        string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	MetaJSON      string    `gorm:"type:text" json:"meta"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Ticket) TableName() string {
	return "tickets"
}

// EscalationStep 是升级计划中的一级，按顺序执行。
type EscalationStep struct {
	Day       int    `json:"day"`
	Authority string `json:"authority"`
	Action    string `json:"action"`
}
