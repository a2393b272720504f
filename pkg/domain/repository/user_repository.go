package repository

import (
	"context"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// UserRepository 租户仓储，未找到时返回 constant.ErrNotFound
type UserRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	// 以下写操作只改动各自负责的列，互相之间不会覆盖
	AddUsage(ctx context.Context, ownerID string, aiDelta, imageDelta int) error
	// ResetMonthlyUsage quota_reset_at 早于 monthStart 时清零当月用量，为空时只补时间
	ResetMonthlyUsage(ctx context.Context, ownerID string, monthStart, now time.Time) (bool, error)
	// FillQuotaDefaults 只填充未设置（<=0）的月度额度
	FillQuotaDefaults(ctx context.Context, ownerID string, aiQuota, imageQuota int) error
	// ApplyPlan 写入套餐与额度，已用量超过新额度时截断
	ApplyPlan(ctx context.Context, ownerID, tier string, aiQuota, imageQuota int, expiresAt *time.Time, now time.Time) error
	// DowngradeExpired 套餐仍处于过期状态时才降级，返回是否实际降级
	DowngradeExpired(ctx context.Context, ownerID, tier string, aiQuota, imageQuota int, now time.Time) (bool, error)
	UpdateOpenAPICredentials(ctx context.Context, ownerID, appID, appSecret string) error
	// ListExpiredPlans 返回非免费且套餐已过期的用户
	ListExpiredPlans(ctx context.Context, now time.Time, limit int) ([]*model.User, error)
}

// AIProfileRepository 用户级模型配置
type AIProfileRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*model.AIProfile, error)
	Save(ctx context.Context, profile *model.AIProfile) error
}
