package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
	saves int
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{users: map[string]*model.User{}}
	for _, u := range users {
		m.users[u.OwnerID] = u
	}
	return m
}

func (m *memUsers) FindByOwner(_ context.Context, ownerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[ownerID]
	if !ok {
		return nil, constant.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.OwnerID] = u
	return nil
}

// update 在锁内修改存储中的用户，fn 返回 false 表示未命中条件
func (m *memUsers) update(ownerID string, fn func(p *model.PlanState) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[ownerID]
	if !ok {
		return false, constant.ErrNotFound
	}
	cp := *u
	if !fn(&cp.Plan) {
		return false, nil
	}
	m.users[ownerID] = &cp
	m.saves++
	return true, nil
}

func (m *memUsers) AddUsage(_ context.Context, ownerID string, aiDelta, imageDelta int) error {
	_, err := m.update(ownerID, func(p *model.PlanState) bool {
		p.MonthlyAIUsed += aiDelta
		p.MonthlyImageUsed += imageDelta
		return true
	})
	return err
}

func (m *memUsers) ResetMonthlyUsage(_ context.Context, ownerID string, monthStart, now time.Time) (bool, error) {
	return m.update(ownerID, func(p *model.PlanState) bool {
		if p.QuotaResetAt != nil && !p.QuotaResetAt.Before(monthStart) {
			return false
		}
		if p.QuotaResetAt != nil {
			p.MonthlyAIUsed, p.MonthlyImageUsed = 0, 0
		}
		t := now
		p.QuotaResetAt = &t
		return true
	})
}

func (m *memUsers) FillQuotaDefaults(_ context.Context, ownerID string, aiQuota, imageQuota int) error {
	_, err := m.update(ownerID, func(p *model.PlanState) bool {
		if p.MonthlyAIQuota > 0 && p.MonthlyImageQuota > 0 {
			return false
		}
		if p.MonthlyAIQuota <= 0 {
			p.MonthlyAIQuota = aiQuota
		}
		if p.MonthlyImageQuota <= 0 {
			p.MonthlyImageQuota = imageQuota
		}
		return true
	})
	return err
}

func clampPlan(p *model.PlanState, tier string, aiQuota, imageQuota int) {
	p.Tier = tier
	p.MonthlyAIQuota, p.MonthlyImageQuota = aiQuota, imageQuota
	p.MonthlyAIUsed = min(p.MonthlyAIUsed, aiQuota)
	p.MonthlyImageUsed = min(p.MonthlyImageUsed, imageQuota)
}

func (m *memUsers) ApplyPlan(_ context.Context, ownerID, tier string, aiQuota, imageQuota int, expiresAt *time.Time, now time.Time) error {
	_, err := m.update(ownerID, func(p *model.PlanState) bool {
		clampPlan(p, tier, aiQuota, imageQuota)
		if p.QuotaResetAt == nil {
			t := now
			p.QuotaResetAt = &t
		}
		p.PlanExpiresAt = expiresAt
		return true
	})
	return err
}

func (m *memUsers) DowngradeExpired(_ context.Context, ownerID, tier string, aiQuota, imageQuota int, now time.Time) (bool, error) {
	return m.update(ownerID, func(p *model.PlanState) bool {
		if p.Tier == tier || p.PlanExpiresAt == nil || !p.PlanExpiresAt.Before(now) {
			return false
		}
		clampPlan(p, tier, aiQuota, imageQuota)
		p.PlanExpiresAt = nil
		return true
	})
}

func (m *memUsers) UpdateOpenAPICredentials(context.Context, string, string, string) error { return nil }

func (m *memUsers) ListExpiredPlans(_ context.Context, now time.Time, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.users {
		if u.Plan.Tier != model.TierFree && u.Plan.PlanExpiresAt != nil && u.Plan.PlanExpiresAt.Before(now) && len(out) < limit {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *memUsage) Get(_ context.Context, ownerID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[ownerID+":"+date], nil
}

func (m *memUsage) Increment(_ context.Context, ownerID, date string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[ownerID+":"+date] += delta
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*model.BillingOrder
}

func (m *memOrders) Create(_ context.Context, o *model.BillingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.OrderNo] = &cp
	return nil
}

func (m *memOrders) FindByNo(_ context.Context, ownerID, orderNo string) (*model.BillingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok || (ownerID != "" && o.OwnerID != ownerID) {
		return nil, constant.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) Transition(_ context.Context, orderNo, from, to string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *memOrders) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.BillingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BillingOrder
	for _, o := range m.orders {
		if o.OwnerID == ownerID && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

type memTx struct {
	users  *memUsers
	orders *memOrders
}

func (t *memTx) Do(_ context.Context, fn func(repos repository.Repositories) error) error {
	return fn(repository.Repositories{User: t.users, BillingOrder: t.orders})
}

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, utils.ToChina(time.Now()).Location())

func newGuard(users *memUsers, limit int) (*Guard, *memUsage) {
	usage := &memUsage{counts: map[string]int{}}
	g := NewGuard(users, usage, limit)
	g.now = func() time.Time { return fixedNow }
	return g, usage
}

func userWith(owner, tier string, aiUsed, imageUsed int) *model.User {
	reset := fixedNow.AddDate(0, 0, -3)
	def := PlanOf(tier)
	return &model.User{OwnerID: owner, Role: model.RoleUser, Plan: model.PlanState{
		Tier: tier, MonthlyAIQuota: def.AIQuota, MonthlyAIUsed: aiUsed,
		MonthlyImageQuota: def.ImageQuota, MonthlyImageUsed: imageUsed, QuotaResetAt: &reset,
	}}
}

func TestGuard_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		user    *model.User
		mode    string
		images  int
		wechat  bool
		wantErr error
		wantMsg string
	}{
		{name: "免费用户分析", user: userWith("u", model.TierFree, 0, 0), mode: "analyze"},
		{name: "未知模式", user: userWith("u", model.TierFree, 0, 0), mode: "translate", wantErr: constant.ErrPlanForbidden, wantMsg: "当前套餐不支持 translate 操作"},
		{name: "月度配额用完", user: userWith("u", model.TierFree, 30, 0), mode: "create", wantErr: constant.ErrQuotaMonthlyExhausted, wantMsg: "本月 AI 配额已用完，请升级套餐或下月重置后再试"},
		{name: "免费用户不能生图", user: userWith("u", model.TierFree, 0, 0), mode: "create", images: 1, wantErr: constant.ErrPlanForbidden, wantMsg: "当前套餐不支持图片生成功能，请升级后再试"},
		{name: "图片额度不足", user: userWith("u", model.TierPro, 0, 79), mode: "create", images: 2, wantErr: constant.ErrQuotaMonthlyExhausted, wantMsg: "本月图片配额不足，请降低图片数量或升级套餐"},
		{name: "免费用户不能投递公众号", user: userWith("u", model.TierFree, 0, 0), mode: "create", wechat: true, wantErr: constant.ErrPlanForbidden, wantMsg: "当前套餐不支持公众号草稿箱投递，请升级后再试"},
		{name: "付费用户全部通过", user: userWith("u", model.TierPro, 10, 10), mode: "create", images: 3, wechat: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g, _ := newGuard(newMemUsers(tc.user), 60)
			_, err := g.Validate(context.Background(), tc.user, tc.mode, tc.images, tc.wechat)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr))
			assert.Equal(t, tc.wantMsg, err.Error())
		})
	}
}

func TestGuard_AdminIsUnlimited(t *testing.T) {
	admin := userWith("root", model.TierFree, 30, 5)
	admin.Role = model.RoleAdmin
	g, _ := newGuard(newMemUsers(admin), 60)

	s, err := g.Validate(context.Background(), admin, "create", 9, true)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, s.Tier)
	assert.Equal(t, AdminQuota, s.AIQuota)
	assert.Equal(t, "高级用户（管理员）", s.Label)
	assert.Equal(t, "内部账号", s.PriceHint)
}

func TestGuard_MonthlyReset(t *testing.T) {
	u := userWith("u", model.TierFree, 30, 5)
	lastMonth := fixedNow.AddDate(0, -1, 0)
	u.Plan.QuotaResetAt = &lastMonth
	users := newMemUsers(u)
	g, _ := newGuard(users, 60)

	s, err := g.Validate(context.Background(), u, "create", 0, false)
	require.NoError(t, err, "跨月后用量应清零")
	assert.Equal(t, 0, s.AIUsed)
	assert.Equal(t, 30, s.AIRemaining)
	assert.Equal(t, 1, users.saves, "重置结果应落库")

	_, err = g.Summary(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 1, users.saves, "同月内不重复写库")
}

func TestGuard_DailyCapAndConsume(t *testing.T) {
	u := userWith("u", model.TierPro, 0, 0)
	users := newMemUsers(u)
	g, _ := newGuard(users, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.CheckDaily(ctx, "u")
		require.NoError(t, err)
		_, err = g.Consume(ctx, u, 2)
		require.NoError(t, err)
	}
	d, err := g.CheckDaily(ctx, "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, constant.ErrQuotaDailyExhausted))
	assert.Equal(t, "今日 AI 调用次数已达上限（2次），请明天 00:00 后再试", err.Error())
	assert.Equal(t, 0, d.Remaining)

	stored, _ := users.FindByOwner(ctx, "u")
	assert.Equal(t, 2, stored.Plan.MonthlyAIUsed)
	assert.Equal(t, 4, stored.Plan.MonthlyImageUsed)
}

func TestAddMonths(t *testing.T) {
	loc := fixedNow.Location()
	testCases := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{name: "普通月份", from: time.Date(2026, 3, 15, 8, 0, 0, 0, loc), months: 1, want: time.Date(2026, 4, 15, 8, 0, 0, 0, loc)},
		{name: "月末截断", from: time.Date(2026, 1, 31, 0, 0, 0, 0, loc), months: 1, want: time.Date(2026, 2, 28, 0, 0, 0, 0, loc)},
		{name: "闰年二月", from: time.Date(2028, 1, 31, 0, 0, 0, 0, loc), months: 1, want: time.Date(2028, 2, 29, 0, 0, 0, 0, loc)},
		{name: "跨年", from: time.Date(2026, 11, 30, 0, 0, 0, 0, loc), months: 3, want: time.Date(2027, 2, 28, 0, 0, 0, 0, loc)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(AddMonths(tc.from, tc.months)), AddMonths(tc.from, tc.months).String())
		})
	}
}

func newBilling(users *memUsers) (*Billing, *memOrders) {
	orders := &memOrders{orders: map[string]*model.BillingOrder{}}
	b := NewBilling(&memTx{users: users, orders: orders}, users, orders)
	b.now = func() time.Time { return fixedNow }
	return b, orders
}

func TestBilling_OrderLifecycle(t *testing.T) {
	u := userWith("u", model.TierFree, 3, 0)
	users := newMemUsers(u)
	b, _ := newBilling(users)
	ctx := context.Background()

	_, err := b.CreateOrder(ctx, "u", model.TierFree, 1, "")
	assert.ErrorIs(t, err, constant.ErrFreePlanOrder)

	order, err := b.CreateOrder(ctx, "u", "PRO", 30, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(order.OrderNo, "ORD20260315100000"))
	assert.Len(t, order.OrderNo, len("ORD")+14+6)
	assert.Equal(t, MaxOrderMonths, order.Months)
	assert.Equal(t, 9900*MaxOrderMonths, order.AmountCents)
	assert.Equal(t, "mock", order.Channel)

	paid, err := b.MarkPaid(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, paid.Status)

	stored, _ := users.FindByOwner(ctx, "u")
	assert.Equal(t, model.TierPro, stored.Plan.Tier)
	assert.Equal(t, 300, stored.Plan.MonthlyAIQuota)
	require.NotNil(t, stored.Plan.PlanExpiresAt)
	assert.True(t, stored.Plan.PlanExpiresAt.Equal(AddMonths(fixedNow, MaxOrderMonths)))

	again, err := b.MarkPaid(ctx, order.OrderNo)
	require.NoError(t, err, "重复支付应幂等")
	assert.Equal(t, model.OrderStatusPaid, again.Status)

	_, err = b.Cancel(ctx, "u", order.OrderNo)
	assert.ErrorIs(t, err, constant.ErrOrderNotCancelable)
}

func TestBilling_CancelThenPay(t *testing.T) {
	users := newMemUsers(userWith("u", model.TierFree, 0, 0))
	b, _ := newBilling(users)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, "u", model.TierPremium, 1, "manual")
	require.NoError(t, err)
	canceled, err := b.Cancel(ctx, "u", order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, canceled.Status)

	_, err = b.MarkPaid(ctx, order.OrderNo)
	assert.ErrorIs(t, err, constant.ErrOrderNotPayable)
}

func TestApplySubscription_ExtendsActivePlan(t *testing.T) {
	u := userWith("u", model.TierPro, 0, 0)
	exp := fixedNow.AddDate(0, 0, 10)
	u.Plan.PlanExpiresAt = &exp

	start, end := ApplySubscription(u, model.TierPremium, 2, fixedNow)
	assert.True(t, start.Equal(exp), "未过期时从原到期日顺延")
	assert.True(t, end.Equal(AddMonths(exp, 2)))
	assert.Equal(t, 1200, u.Plan.MonthlyAIQuota)
}

func TestBilling_SweepExpired(t *testing.T) {
	expired := userWith("old", model.TierPro, 120, 50)
	past := fixedNow.Add(-time.Hour)
	expired.Plan.PlanExpiresAt = &past
	active := userWith("new", model.TierPro, 1, 1)
	future := fixedNow.Add(time.Hour)
	active.Plan.PlanExpiresAt = &future

	users := newMemUsers(expired, active)
	b, _ := newBilling(users)

	res, err := b.SweepExpired(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"old"}, res.Users)

	got, _ := users.FindByOwner(context.Background(), "old")
	assert.Equal(t, model.TierFree, got.Plan.Tier)
	assert.Nil(t, got.Plan.PlanExpiresAt)
	assert.Equal(t, 30, got.Plan.MonthlyAIUsed, "已用量不超过免费额度")
	assert.Equal(t, 5, got.Plan.MonthlyImageUsed)

	kept, _ := users.FindByOwner(context.Background(), "new")
	assert.Equal(t, model.TierPro, kept.Plan.Tier)
}

func TestGuard_ConsumeKeepsConcurrentUpgrade(t *testing.T) {
	users := newMemUsers(userWith("u", model.TierFree, 3, 0))
	g, _ := newGuard(users, 60)
	b, _ := newBilling(users)
	ctx := context.Background()

	// 创作开始时读取的快照
	snapshot, err := users.FindByOwner(ctx, "u")
	require.NoError(t, err)

	order, err := b.CreateOrder(ctx, "u", model.TierPro, 1, "")
	require.NoError(t, err)
	_, err = b.MarkPaid(ctx, order.OrderNo)
	require.NoError(t, err)

	_, err = g.Consume(ctx, snapshot, 2)
	require.NoError(t, err)

	got, _ := users.FindByOwner(ctx, "u")
	assert.Equal(t, model.TierPro, got.Plan.Tier, "扣减用量不能回滚刚支付的套餐")
	assert.Equal(t, PlanOf(model.TierPro).AIQuota, got.Plan.MonthlyAIQuota)
	require.NotNil(t, got.Plan.PlanExpiresAt)
	assert.Equal(t, 4, got.Plan.MonthlyAIUsed)
	assert.Equal(t, 2, got.Plan.MonthlyImageUsed)
}

func TestGuard_ConsumeResetsStaleMonth(t *testing.T) {
	u := userWith("u", model.TierPro, 50, 7)
	lastMonth := fixedNow.AddDate(0, -1, 0)
	u.Plan.QuotaResetAt = &lastMonth
	users := newMemUsers(u)
	g, _ := newGuard(users, 60)

	_, err := g.Consume(context.Background(), u, 1)
	require.NoError(t, err)

	got, _ := users.FindByOwner(context.Background(), "u")
	assert.Equal(t, 1, got.Plan.MonthlyAIUsed)
	assert.Equal(t, 1, got.Plan.MonthlyImageUsed)
	require.NotNil(t, got.Plan.QuotaResetAt)
	assert.True(t, got.Plan.QuotaResetAt.Equal(fixedNow))
}

func TestBilling_SweepSkipsRenewedUser(t *testing.T) {
	u := userWith("u", model.TierPro, 10, 0)
	past := fixedNow.Add(-time.Hour)
	u.Plan.PlanExpiresAt = &past
	users := newMemUsers(u)
	b, _ := newBilling(users)
	ctx := context.Background()

	// 列表之后、降级之前完成续费
	future := fixedNow.AddDate(0, 1, 0)
	pro := PlanOf(model.TierPro)
	expired, err := users.ListExpiredPlans(ctx, fixedNow, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NoError(t, users.ApplyPlan(ctx, "u", model.TierPro, pro.AIQuota, pro.ImageQuota, &future, fixedNow))

	ok, err := users.DowngradeExpired(ctx, "u", model.TierFree, 30, 5, fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := b.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	got, _ := users.FindByOwner(ctx, "u")
	assert.Equal(t, model.TierPro, got.Plan.Tier)
}
