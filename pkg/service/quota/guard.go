/*
 * @Description: 套餐与每日调用额度校验
 * @Author: 安知鱼
 * @Date: 2026-02-14 17:12:48
 * @LastEditTime: 2026-03-04 21:45:20
 * @LastEditors: 安知鱼
 */
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

const DefaultDailyLimit = 60

// LimitError 错误文案直接展示给用户，Unwrap 得到对应的哨兵错误
type LimitError struct {
	Kind error
	Msg  string
}

func (e *LimitError) Error() string { return e.Msg }
func (e *LimitError) Unwrap() error { return e.Kind }

func limitErr(kind error, format string, args ...interface{}) error {
	return &LimitError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Summary 用户当前套餐与剩余额度
type Summary struct {
	Tier                  string     `json:"tier"`
	Label                 string     `json:"label"`
	Description           string     `json:"description"`
	PriceHint             string     `json:"price_hint"`
	AllowedModes          []string   `json:"allowed_modes"`
	CanGenerateImages     bool       `json:"can_generate_images"`
	CanPublishWechatDraft bool       `json:"can_publish_wechat_draft"`
	Highlights            []string   `json:"highlights"`
	AIQuota               int        `json:"ai_quota"`
	AIUsed                int        `json:"ai_used"`
	AIRemaining           int        `json:"ai_remaining"`
	ImageQuota            int        `json:"image_quota"`
	ImageUsed             int        `json:"image_used"`
	ImageRemaining        int        `json:"image_remaining"`
	QuotaResetAt          *time.Time `json:"quota_reset_at"`
	PlanExpiresAt         *time.Time `json:"plan_expires_at"`
}

// DailyUsage 当日调用快照
type DailyUsage struct {
	Date      string `json:"date"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

type Guard struct {
	users      repository.UserRepository
	usage      repository.DailyUsageRepository
	dailyLimit int
	now        func() time.Time
}

func NewGuard(users repository.UserRepository, usage repository.DailyUsageRepository, dailyLimit int) *Guard {
	if dailyLimit < 1 {
		dailyLimit = DefaultDailyLimit
	}
	return &Guard{users: users, usage: usage, dailyLimit: dailyLimit, now: utils.NowInChina}
}

// EnsureDefaults 补齐缺失的套餐字段
func EnsureDefaults(u *model.User, now time.Time) {
	p := &u.Plan
	p.Tier = NormalizeTier(p.Tier)
	def := PlanOf(p.Tier)
	if p.MonthlyAIQuota <= 0 {
		p.MonthlyAIQuota = def.AIQuota
	}
	if p.MonthlyImageQuota <= 0 {
		p.MonthlyImageQuota = def.ImageQuota
	}
	if p.QuotaResetAt == nil {
		t := now
		p.QuotaResetAt = &t
	}
}

// ResetIfNewMonth 跨自然月时清零当月用量，返回是否有改动
func ResetIfNewMonth(u *model.User, now time.Time) bool {
	p := &u.Plan
	if p.QuotaResetAt == nil {
		t := now
		p.QuotaResetAt = &t
		return true
	}
	last := utils.ToChina(*p.QuotaResetAt)
	cur := utils.ToChina(now)
	if last.Year() == cur.Year() && last.Month() == cur.Month() {
		return false
	}
	p.MonthlyAIUsed = 0
	p.MonthlyImageUsed = 0
	t := now
	p.QuotaResetAt = &t
	return true
}

// refresh 在内存中补齐默认值并做月度重置，落库时只改动对应的列，不会覆盖并发写入的套餐
func (g *Guard) refresh(ctx context.Context, u *model.User) error {
	before := u.Plan
	now := g.now()
	EnsureDefaults(u, now)
	if before.MonthlyAIQuota != u.Plan.MonthlyAIQuota || before.MonthlyImageQuota != u.Plan.MonthlyImageQuota {
		if err := g.users.FillQuotaDefaults(ctx, u.OwnerID, u.Plan.MonthlyAIQuota, u.Plan.MonthlyImageQuota); err != nil {
			return err
		}
	}
	if before.QuotaResetAt == nil || ResetIfNewMonth(u, now) {
		if _, err := g.users.ResetMonthlyUsage(ctx, u.OwnerID, utils.StartOfMonthInChina(now), now); err != nil {
			return err
		}
	}
	return nil
}

// SummaryOf 只读计算，不会触发重置
func SummaryOf(u *model.User) Summary {
	tier := NormalizeTier(u.Plan.Tier)
	admin := u.IsAdmin()
	if admin {
		tier = model.TierPremium
	}
	def := PlanOf(tier)
	aiQuota, imageQuota := u.Plan.MonthlyAIQuota, u.Plan.MonthlyImageQuota
	if aiQuota <= 0 {
		aiQuota = def.AIQuota
	}
	if imageQuota <= 0 {
		imageQuota = def.ImageQuota
	}
	if admin {
		aiQuota, imageQuota = AdminQuota, AdminQuota
	}
	aiUsed, imageUsed := max(0, u.Plan.MonthlyAIUsed), max(0, u.Plan.MonthlyImageUsed)

	s := Summary{
		Tier:                  tier,
		Label:                 def.Label,
		Description:           def.Description,
		PriceHint:             def.PriceHint,
		AllowedModes:          def.AllowedModes,
		CanGenerateImages:     def.CanGenerateImages || admin,
		CanPublishWechatDraft: def.CanPublishWechatDraft || admin,
		Highlights:            def.Highlights,
		AIQuota:               aiQuota,
		AIUsed:                aiUsed,
		AIRemaining:           max(0, aiQuota-aiUsed),
		ImageQuota:            imageQuota,
		ImageUsed:             imageUsed,
		ImageRemaining:        max(0, imageQuota-imageUsed),
		QuotaResetAt:          u.Plan.QuotaResetAt,
		PlanExpiresAt:         u.Plan.PlanExpiresAt,
	}
	if admin {
		s.Label += "（管理员）"
		s.PriceHint = "内部账号"
	}
	return s
}

// Summary 先做月度重置再汇总
func (g *Guard) Summary(ctx context.Context, u *model.User) (Summary, error) {
	if err := g.refresh(ctx, u); err != nil {
		return Summary{}, err
	}
	return SummaryOf(u), nil
}

// Validate 按套餐模式、月度 AI 配额、图片权限与额度、公众号投递权限的顺序校验
func (g *Guard) Validate(ctx context.Context, u *model.User, mode string, imageCount int, publishToWechat bool) (Summary, error) {
	s, err := g.Summary(ctx, u)
	if err != nil {
		return s, err
	}
	if !(Plan{AllowedModes: s.AllowedModes}).AllowsMode(mode) {
		return s, limitErr(constant.ErrPlanForbidden, "当前套餐不支持 %s 操作", mode)
	}
	if s.AIRemaining <= 0 {
		return s, limitErr(constant.ErrQuotaMonthlyExhausted, "本月 AI 配额已用完，请升级套餐或下月重置后再试")
	}
	if imageCount > 0 {
		if !s.CanGenerateImages {
			return s, limitErr(constant.ErrPlanForbidden, "当前套餐不支持图片生成功能，请升级后再试")
		}
		if s.ImageRemaining < imageCount {
			return s, limitErr(constant.ErrQuotaMonthlyExhausted, "本月图片配额不足，请降低图片数量或升级套餐")
		}
	}
	if publishToWechat && !s.CanPublishWechatDraft {
		return s, limitErr(constant.ErrPlanForbidden, "当前套餐不支持公众号草稿箱投递，请升级后再试")
	}
	return s, nil
}

// Daily 当日用量，按中国时区日期计数
func (g *Guard) Daily(ctx context.Context, ownerID string) (DailyUsage, error) {
	date := utils.DateKeyInChina(g.now())
	used, err := g.usage.Get(ctx, ownerID, date)
	if err != nil {
		return DailyUsage{}, err
	}
	return DailyUsage{Date: date, Limit: g.dailyLimit, Used: used, Remaining: max(0, g.dailyLimit-used)}, nil
}

func (g *Guard) CheckDaily(ctx context.Context, ownerID string) (DailyUsage, error) {
	d, err := g.Daily(ctx, ownerID)
	if err != nil {
		return d, err
	}
	if d.Remaining <= 0 {
		return d, limitErr(constant.ErrQuotaDailyExhausted, "今日 AI 调用次数已达上限（%d次），请明天 00:00 后再试", d.Limit)
	}
	return d, nil
}

// Consume 记一次 AI 调用，同时累加当月与当日用量。u 可能是创作开始前读取的快照，
// 因此只做增量更新
func (g *Guard) Consume(ctx context.Context, u *model.User, imageCount int) (DailyUsage, error) {
	if err := g.refresh(ctx, u); err != nil {
		return DailyUsage{}, fmt.Errorf("更新套餐用量失败: %w", err)
	}
	images := max(0, imageCount)
	if err := g.users.AddUsage(ctx, u.OwnerID, 1, images); err != nil {
		return DailyUsage{}, fmt.Errorf("更新套餐用量失败: %w", err)
	}
	u.Plan.MonthlyAIUsed++
	u.Plan.MonthlyImageUsed += images
	if err := g.usage.Increment(ctx, u.OwnerID, utils.DateKeyInChina(g.now()), 1); err != nil {
		return DailyUsage{}, fmt.Errorf("更新每日用量失败: %w", err)
	}
	return g.Daily(ctx, u.OwnerID)
}
