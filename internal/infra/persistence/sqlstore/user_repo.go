package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

type userRepo struct{ base }

const userColumns = `owner_id, role, tier, monthly_ai_quota, monthly_ai_used, monthly_image_quota, monthly_image_used,
	quota_reset_at, plan_expires_at, wechat_app_id, wechat_app_secret, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var u model.User
	var resetAt, expiresAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(
		&u.OwnerID, &u.Role, &u.Plan.Tier,
		&u.Plan.MonthlyAIQuota, &u.Plan.MonthlyAIUsed, &u.Plan.MonthlyImageQuota, &u.Plan.MonthlyImageUsed,
		&resetAt, &expiresAt, &u.WechatAppID, &u.WechatAppSecret, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	u.Plan.QuotaResetAt = ptrFromNull(resetAt)
	u.Plan.PlanExpiresAt = ptrFromNull(expiresAt)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (r *userRepo) FindByOwner(ctx context.Context, ownerID string) (*model.User, error) {
	u, err := scanUser(r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE owner_id = ?`, ownerID))
	if err != nil {
		return nil, notFound(err, "用户不存在")
	}
	return u, nil
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.Plan.Tier == "" {
		u.Plan.Tier = model.TierFree
	}
	_, err := r.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.OwnerID, u.Role, u.Plan.Tier,
		u.Plan.MonthlyAIQuota, u.Plan.MonthlyAIUsed, u.Plan.MonthlyImageQuota, u.Plan.MonthlyImageUsed,
		nullMillis(u.Plan.QuotaResetAt), nullMillis(u.Plan.PlanExpiresAt),
		u.WechatAppID, u.WechatAppSecret, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("创建用户失败: %w", err)
	}
	return nil
}

func (r *userRepo) AddUsage(ctx context.Context, ownerID string, aiDelta, imageDelta int) error {
	_, err := r.exec(ctx, `UPDATE users SET monthly_ai_used = monthly_ai_used + ?,
		monthly_image_used = monthly_image_used + ?, updated_at = ? WHERE owner_id = ?`,
		aiDelta, imageDelta, toMillis(time.Now()), ownerID)
	if err != nil {
		return fmt.Errorf("累加用量失败: %w", err)
	}
	return nil
}

func (r *userRepo) ResetMonthlyUsage(ctx context.Context, ownerID string, monthStart, now time.Time) (bool, error) {
	n, err := r.exec(ctx, `UPDATE users SET
		monthly_ai_used = CASE WHEN quota_reset_at IS NULL THEN monthly_ai_used ELSE 0 END,
		monthly_image_used = CASE WHEN quota_reset_at IS NULL THEN monthly_image_used ELSE 0 END,
		quota_reset_at = ?, updated_at = ?
		WHERE owner_id = ? AND (quota_reset_at IS NULL OR quota_reset_at < ?)`,
		toMillis(now), toMillis(now), ownerID, toMillis(monthStart))
	if err != nil {
		return false, fmt.Errorf("重置月度用量失败: %w", err)
	}
	return n > 0, nil
}

func (r *userRepo) FillQuotaDefaults(ctx context.Context, ownerID string, aiQuota, imageQuota int) error {
	_, err := r.exec(ctx, `UPDATE users SET
		monthly_ai_quota = CASE WHEN monthly_ai_quota <= 0 THEN ? ELSE monthly_ai_quota END,
		monthly_image_quota = CASE WHEN monthly_image_quota <= 0 THEN ? ELSE monthly_image_quota END,
		updated_at = ?
		WHERE owner_id = ? AND (monthly_ai_quota <= 0 OR monthly_image_quota <= 0)`,
		aiQuota, imageQuota, toMillis(time.Now()), ownerID)
	if err != nil {
		return fmt.Errorf("补齐套餐额度失败: %w", err)
	}
	return nil
}

func (r *userRepo) ApplyPlan(ctx context.Context, ownerID, tier string, aiQuota, imageQuota int, expiresAt *time.Time, now time.Time) error {
	n, err := r.exec(ctx, `UPDATE users SET tier = ?, monthly_ai_quota = ?, monthly_image_quota = ?,
		monthly_ai_used = CASE WHEN monthly_ai_used > ? THEN ? ELSE monthly_ai_used END,
		monthly_image_used = CASE WHEN monthly_image_used > ? THEN ? ELSE monthly_image_used END,
		quota_reset_at = COALESCE(quota_reset_at, ?), plan_expires_at = ?, updated_at = ?
		WHERE owner_id = ?`,
		tier, aiQuota, imageQuota, aiQuota, aiQuota, imageQuota, imageQuota,
		toMillis(now), nullMillis(expiresAt), toMillis(now), ownerID)
	if err != nil {
		return fmt.Errorf("更新套餐状态失败: %w", err)
	}
	if n == 0 {
		return notFound(sql.ErrNoRows, "用户不存在")
	}
	return nil
}

func (r *userRepo) DowngradeExpired(ctx context.Context, ownerID, tier string, aiQuota, imageQuota int, now time.Time) (bool, error) {
	n, err := r.exec(ctx, `UPDATE users SET tier = ?, monthly_ai_quota = ?, monthly_image_quota = ?,
		monthly_ai_used = CASE WHEN monthly_ai_used > ? THEN ? ELSE monthly_ai_used END,
		monthly_image_used = CASE WHEN monthly_image_used > ? THEN ? ELSE monthly_image_used END,
		plan_expires_at = NULL, updated_at = ?
		WHERE owner_id = ? AND tier <> ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?`,
		tier, aiQuota, imageQuota, aiQuota, aiQuota, imageQuota, imageQuota,
		toMillis(now), ownerID, tier, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("套餐降级失败: %w", err)
	}
	return n > 0, nil
}

func (r *userRepo) UpdateOpenAPICredentials(ctx context.Context, ownerID, appID, appSecret string) error {
	_, err := r.exec(ctx, `UPDATE users SET wechat_app_id = ?, wechat_app_secret = ?, updated_at = ? WHERE owner_id = ?`,
		appID, appSecret, toMillis(time.Now()), ownerID)
	return err
}

func (r *userRepo) ListExpiredPlans(ctx context.Context, now time.Time, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.query(ctx, `SELECT `+userColumns+` FROM users
		WHERE tier <> ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?
		ORDER BY plan_expires_at ASC LIMIT ?`, model.TierFree, toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type profileRepo struct{ base }

func (r *profileRepo) FindByOwner(ctx context.Context, ownerID string) (*model.AIProfile, error) {
	var p model.AIProfile
	var updatedAt int64
	err := r.queryRow(ctx, `SELECT owner_id, base_url, api_key, model_name, temperature, updated_at
		FROM ai_profiles WHERE owner_id = ?`, ownerID).
		Scan(&p.OwnerID, &p.BaseURL, &p.APIKey, &p.ModelName, &p.Temperature, &updatedAt)
	if err != nil {
		return nil, notFound(err, "AI 配置不存在")
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (r *profileRepo) Save(ctx context.Context, p *model.AIProfile) error {
	p.UpdatedAt = time.Now()
	n, err := r.exec(ctx, `UPDATE ai_profiles SET base_url = ?, api_key = ?, model_name = ?, temperature = ?, updated_at = ?
		WHERE owner_id = ?`, p.BaseURL, p.APIKey, p.ModelName, p.Temperature, toMillis(p.UpdatedAt), p.OwnerID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = r.exec(ctx, `INSERT INTO ai_profiles (owner_id, base_url, api_key, model_name, temperature, updated_at)
		VALUES (?,?,?,?,?,?)`, p.OwnerID, p.BaseURL, p.APIKey, p.ModelName, p.Temperature, toMillis(p.UpdatedAt))
	return err
}
