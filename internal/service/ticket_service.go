package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"
	"civicfix-go/internal/repository"
	"civicfix-go/pkg/log"

	"github.com/google/uuid"
)

// TicketService 定义了工单生命周期操作。
// 状态机：new → submitted → escalated → resolved；
// 任意未解决状态可标记 abandoned。非法迁移返回 invalid_transition。
type TicketService interface {
	// Create 创建工单：autoSubmit 为真时直接进入 submitted，否则为 new。
	Create(ctx context.Context, input CreateTicketInput) (*model.Ticket, error)
	// Track 返回工单当前状态与已等待天数。
	Track(ctx context.Context, ticketID string) (*model.Ticket, int, error)
	// Escalate 把工单推进到 escalated 并返回升级计划。
	// 并发升级只有一方发生迁移，另一方拿到同一份已生效的计划。
	Escalate(ctx context.Context, ticketID string, daysWaited int) (*model.Ticket, []model.EscalationStep, error)
	// Resolve 把工单置为 resolved；重复 resolve 幂等。
	Resolve(ctx context.Context, ticketID string) error
	// Abandon 把任意未解决的工单标记为放弃（终态）。
	Abandon(ctx context.Context, ticketID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Ticket, error)

	// SLADays 返回该部门/类别的承诺处理天数。
	SLADays(department, category string) int
	// EscalationPlan 返回按天数排布的升级阶梯。
	EscalationPlan(department string, slaDays int) []model.EscalationStep
}

// CreateTicketInput 汇集创建工单所需的全部字段。
type CreateTicketInput struct {
	UserID        string
	City          string
	WardID        string
	Category      string
	Department    string
	Channel       string
	ComplaintText string
	AutoSubmit    bool
	MetaJSON      string
}

type ticketService struct {
	ticketRepo repository.TicketRepository
	now        func() time.Time
}

// NewTicketService 创建一个新的 TicketService 实例。
func NewTicketService(ticketRepo repository.TicketRepository) TicketService {
	return &ticketService{ticketRepo: ticketRepo, now: time.Now}
}

const defaultSLADays = 7

// slaTable 按部门/类别给出承诺处理天数，"*" 为部门级默认。
var slaTable = map[string]map[string]int{
	"Sanitation": {
		"Garbage": 3,
		"Sewage":  2,
		"*":       4,
	},
	"Water Supply": {
		"No Water": 2,
		"Leakage":  3,
		"*":        3,
	},
	"Electricity": {
		"Outage": 1,
		"*":      3,
	},
	"Roads": {
		"Pothole": 7,
		"*":       10,
	},
	"Streetlights": {
		"*": 5,
	},
}

func (s *ticketService) SLADays(department, category string) int {
	byCat, ok := slaTable[department]
	if !ok {
		return defaultSLADays
	}
	if days, ok := byCat[category]; ok {
		return days
	}
	if days, ok := byCat["*"]; ok {
		return days
	}
	return defaultSLADays
}

// EscalationPlan 生成升级阶梯：先在辖区层面催办，SLA 到期后逐级上移，
// 最终到达外部申诉机构。Day 以投诉提交日为第 0 天计。
func (s *ticketService) EscalationPlan(department string, slaDays int) []model.EscalationStep {
	return []model.EscalationStep{
		{
			Day:       0,
			Authority: "Ward Officer",
			Action:    fmt.Sprintf("Call the %s helpline, quote your ticket id, and ask for the ward officer handling the complaint.", department),
		},
		{
			Day:       slaDays,
			Authority: "Department Head",
			Action:    fmt.Sprintf("Send a written escalation to the %s department head citing the missed %d-day deadline.", department, slaDays),
		},
		{
			Day:       slaDays + 3,
			Authority: "Municipal Commissioner",
			Action:    "File a formal complaint letter with the municipal commissioner's office, attaching the full ticket history.",
		},
		{
			Day:       slaDays + 7,
			Authority: "Ombudsman",
			Action:    "Lodge an external grievance with the municipal ombudsman if the complaint is still unresolved.",
		},
	}
}

// newTicketID 生成 "CF-" 前缀的短工单号。
func newTicketID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "CF-" + strings.ToUpper(raw[:10])
}

func (s *ticketService) Create(ctx context.Context, input CreateTicketInput) (*model.Ticket, error) {
	status := model.TicketStatusNew
	if input.AutoSubmit {
		status = model.TicketStatusSubmitted
	}
	ticket := &model.Ticket{
		TicketID:      newTicketID(),
		UserID:        input.UserID,
		City:          input.City,
		WardID:        input.WardID,
		Category:      input.Category,
		Department:    input.Department,
		Channel:       input.Channel,
		ComplaintText: input.ComplaintText,
		Status:        status,
		MetaJSON:      input.MetaJSON,
	}
	if err := s.ticketRepo.Create(ctx, ticket); err != nil {
		return nil, err
	}
	log.Infof("[TicketService] 工单已创建, id: %s, status: %s, department: %s", ticket.TicketID, ticket.Status, ticket.Department)
	return ticket, nil
}

func (s *ticketService) Track(ctx context.Context, ticketID string) (*model.Ticket, int, error) {
	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return nil, 0, err
	}
	days := int(s.now().Sub(ticket.CreatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return ticket, days, nil
}

func (s *ticketService) Escalate(ctx context.Context, ticketID string, daysWaited int) (*model.Ticket, []model.EscalationStep, error) {
	from := []string{model.TicketStatusSubmitted, model.TicketStatusEscalated}
	moved, err := s.ticketRepo.UpdateStatusIf(ctx, ticketID, from, model.TicketStatusEscalated)
	if err != nil {
		return nil, nil, err
	}

	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !moved && ticket.Status != model.TicketStatusEscalated {
		// 条件更新未命中且当前也不处于 escalated：状态不允许升级。
		return nil, nil, apperr.New(apperr.KindInvalidTransition,
			fmt.Sprintf("工单 %s 处于 %s 状态, 不能升级", ticketID, ticket.Status))
	}

	slaDays := s.SLADays(ticket.Department, ticket.Category)
	plan := s.EscalationPlan(ticket.Department, slaDays)
	log.Infof("[TicketService] 工单已升级, id: %s, days_waited: %d, sla: %d", ticketID, daysWaited, slaDays)
	return ticket, plan, nil
}

func (s *ticketService) Resolve(ctx context.Context, ticketID string) error {
	from := []string{model.TicketStatusNew, model.TicketStatusSubmitted, model.TicketStatusEscalated}
	moved, err := s.ticketRepo.UpdateStatusIf(ctx, ticketID, from, model.TicketStatusResolved)
	if err != nil {
		return err
	}
	if moved {
		log.Infof("[TicketService] 工单已解决, id: %s", ticketID)
		return nil
	}

	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == model.TicketStatusResolved {
		// 重复 resolve 幂等。
		return nil
	}
	return apperr.New(apperr.KindInvalidTransition,
		fmt.Sprintf("工单 %s 处于 %s 状态, 不能标记为已解决", ticketID, ticket.Status))
}

func (s *ticketService) Abandon(ctx context.Context, ticketID string) error {
	from := []string{model.TicketStatusNew, model.TicketStatusSubmitted, model.TicketStatusEscalated}
	moved, err := s.ticketRepo.UpdateStatusIf(ctx, ticketID, from, model.TicketStatusAbandoned)
	if err != nil {
		return err
	}
	if moved {
		return nil
	}

	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == model.TicketStatusAbandoned {
		return nil
	}
	// resolved 是终态，不能再放弃。
	return apperr.New(apperr.KindInvalidTransition,
		fmt.Sprintf("工单 %s 处于 %s 状态, 不能标记为放弃", ticketID, ticket.Status))
}

func (s *ticketService) ListByUser(ctx context.Context, userID string, limit int) ([]model.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.ticketRepo.ListByUser(ctx, userID, limit)
}
