package repository

import (
	"context"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// DailyUsageRepository 每日调用计数
type DailyUsageRepository interface {
	Get(ctx context.Context, ownerID, date string) (int, error)
	Increment(ctx context.Context, ownerID, date string, delta int) error
}

// BillingOrderRepository 套餐订单
type BillingOrderRepository interface {
	Create(ctx context.Context, order *model.BillingOrder) error
	FindByNo(ctx context.Context, ownerID, orderNo string) (*model.BillingOrder, error)
	// Transition 仅当订单当前状态为 from 时迁移到 to
	Transition(ctx context.Context, orderNo, from, to string, at time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.BillingOrder, error)
}

// NoticeRepository 站内信
type NoticeRepository interface {
	Create(ctx context.Context, notice *model.Notice) error
	ListByOwner(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error)
	MarkRead(ctx context.Context, ownerID, id string) error
	CountUnread(ctx context.Context, ownerID string) (int, error)
}
