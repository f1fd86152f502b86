package repository

import (
	"context"
	"errors"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"

	"gorm.io/gorm"
)

// TicketRepository 定义了工单的持久化操作。
// 状态迁移通过条件 UPDATE 实现 per-ticket 原子性：并发迁移只有一方生效。
type TicketRepository interface {
	Create(ctx context.Context, ticket *model.Ticket) error
	FindByID(ctx context.Context, ticketID string) (*model.Ticket, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Ticket, error)
	// UpdateStatusIf 仅当当前状态在 from 集合内时把状态置为 to，
	// 返回是否真的发生了迁移。
	UpdateStatusIf(ctx context.Context, ticketID string, from []string, to string) (bool, error)
}

type mysqlTicketRepository struct {
	db *gorm.DB
}

// NewTicketRepository 创建一个新的 TicketRepository 实例。
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &mysqlTicketRepository{db: db}
}

func (r *mysqlTicketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	if err := r.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "工单写入失败", err)
	}
	return nil
}

func (r *mysqlTicketRepository) FindByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	var ticket model.Ticket
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "工单不存在: "+ticketID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "工单读取失败", err)
	}
	return &ticket, nil
}

func (r *mysqlTicketRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Ticket, error) {
	var tickets []model.Ticket
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&tickets).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "工单列表读取失败", err)
	}
	return tickets, nil
}

func (r *mysqlTicketRepository) UpdateStatusIf(ctx context.Context, ticketID string, from []string, to string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Where("ticket_id = ? AND status IN ?", ticketID, from).
		Update("status", to)
	if result.Error != nil {
		return false, apperr.Wrap(apperr.KindStoreUnavailable, "工单状态更新失败", result.Error)
	}
	return result.RowsAffected > 0, nil
}
