/*
 * @Description: 套餐订单与到期降级
 * @Author: 安知鱼
 * @Date: 2026-02-14 18:02:31
 * @LastEditTime: 2026-03-01 16:27:09
 * @LastEditors: 安知鱼
 */
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

const (
	MaxOrderMonths   = 24
	DefaultSweepSize = 1000
)

type Billing struct {
	tm     repository.TransactionManager
	users  repository.UserRepository
	orders repository.BillingOrderRepository
	now    func() time.Time
	logger *slog.Logger
}

func NewBilling(tm repository.TransactionManager, users repository.UserRepository, orders repository.BillingOrderRepository) *Billing {
	return &Billing{
		tm:     tm,
		users:  users,
		orders: orders,
		now:    utils.NowInChina,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "billing"),
	}
}

func newOrderNo(now time.Time) (string, error) {
	suffix, err := utils.RandomHex(6)
	if err != nil {
		return "", err
	}
	return "ORD" + utils.ToChina(now).Format("20060102150405") + suffix, nil
}

// AddMonths 加自然月，目标月天数不足时取月末
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func (b *Billing) CreateOrder(ctx context.Context, ownerID, tier string, months int, channel string) (*model.BillingOrder, error) {
	tier = NormalizeTier(tier)
	if tier == model.TierFree {
		return nil, constant.ErrFreePlanOrder
	}
	months = max(1, min(months, MaxOrderMonths))
	now := b.now()
	no, err := newOrderNo(now)
	if err != nil {
		return nil, err
	}
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		channel = "mock"
	}
	order := &model.BillingOrder{
		OrderNo:     no,
		OwnerID:     strings.TrimSpace(ownerID),
		Tier:        tier,
		Months:      months,
		AmountCents: MonthlyPriceCents(tier) * months,
		Currency:    "CNY",
		Channel:     channel,
		Status:      model.OrderStatusPending,
		CreatedAt:   now,
	}
	if err := b.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	return order, nil
}

// ApplySubscription 从当前有效期末尾（已过期则从现在）顺延，并把月度额度设为套餐默认值
func ApplySubscription(u *model.User, tier string, months int, now time.Time) (time.Time, time.Time) {
	tier = NormalizeTier(tier)
	start := now
	if exp := u.Plan.PlanExpiresAt; exp != nil && exp.After(now) {
		start = *exp
	}
	end := AddMonths(start, max(1, months))
	def := PlanOf(tier)
	u.Plan.Tier = tier
	u.Plan.MonthlyAIQuota = def.AIQuota
	u.Plan.MonthlyImageQuota = def.ImageQuota
	EnsureDefaults(u, now)
	u.Plan.PlanExpiresAt = &end
	return start, end
}

// MarkPaid 幂等：已支付的订单直接返回
func (b *Billing) MarkPaid(ctx context.Context, orderNo string) (*model.BillingOrder, error) {
	var out *model.BillingOrder
	err := b.tm.Do(ctx, func(repos repository.Repositories) error {
		order, err := repos.BillingOrder.FindByNo(ctx, "", orderNo)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusPaid {
			out = order
			return nil
		}
		if order.Status != model.OrderStatusPending {
			return constant.ErrOrderNotPayable
		}
		user, err := repos.User.FindByOwner(ctx, order.OwnerID)
		if err != nil {
			return err
		}
		now := b.now()
		ok, err := repos.BillingOrder.Transition(ctx, orderNo, model.OrderStatusPending, model.OrderStatusPaid, now)
		if err != nil {
			return err
		}
		if !ok {
			return constant.ErrOrderNotPayable
		}
		_, end := ApplySubscription(user, order.Tier, order.Months, now)
		p := user.Plan
		if err := repos.User.ApplyPlan(ctx, user.OwnerID, p.Tier, p.MonthlyAIQuota, p.MonthlyImageQuota, p.PlanExpiresAt, now); err != nil {
			return err
		}
		order.Status = model.OrderStatusPaid
		order.PaidAt = &now
		out = order
		b.logger.Info("订单已支付", "order_no", orderNo, "owner_id", order.OwnerID, "tier", order.Tier, "expires_at", end)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Billing) Cancel(ctx context.Context, ownerID, orderNo string) (*model.BillingOrder, error) {
	order, err := b.orders.FindByNo(ctx, ownerID, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPending {
		return nil, constant.ErrOrderNotCancelable
	}
	now := b.now()
	ok, err := b.orders.Transition(ctx, orderNo, model.OrderStatusPending, model.OrderStatusCanceled, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, constant.ErrOrderNotCancelable
	}
	order.Status = model.OrderStatusCanceled
	order.CanceledAt = &now
	return order, nil
}

func (b *Billing) ListOrders(ctx context.Context, ownerID string, limit int) ([]*model.BillingOrder, error) {
	return b.orders.ListByOwner(ctx, ownerID, max(1, min(limit, 200)))
}

// SweepResult 一次到期降级的结果
type SweepResult struct {
	Total int      `json:"total"`
	Users []string `json:"users"`
}

// SweepExpired 套餐到期的用户降为免费，已用量不超过免费额度
func (b *Billing) SweepExpired(ctx context.Context, limit int) (SweepResult, error) {
	if limit <= 0 || limit > DefaultSweepSize {
		limit = DefaultSweepSize
	}
	now := b.now()
	users, err := b.users.ListExpiredPlans(ctx, now, limit)
	if err != nil {
		return SweepResult{}, err
	}
	free := PlanOf(model.TierFree)
	res := SweepResult{}
	for _, u := range users {
		// 条件更新：读取之后刚续费的用户不会被降级
		ok, err := b.users.DowngradeExpired(ctx, u.OwnerID, model.TierFree, free.AIQuota, free.ImageQuota, now)
		if err != nil {
			b.logger.Error("套餐降级失败", "owner_id", u.OwnerID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		res.Users = append(res.Users, u.OwnerID)
	}
	res.Total = len(res.Users)
	return res, nil
}
