/*
 * @Description: 租户与套餐状态
 * @Author: 安知鱼
 * @Date: 2026-02-11 10:26:12
 * @LastEditTime: 2026-03-02 09:14:40
 * @LastEditors: 安知鱼
 */
package model

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	TierFree    = "free"
	TierPro     = "pro"
	TierPremium = "premium"
)

// PlanState 用户当月套餐与用量
type PlanState struct {
	Tier              string
	MonthlyAIQuota    int
	MonthlyAIUsed     int
	MonthlyImageQuota int
	MonthlyImageUsed  int
	QuotaResetAt      *time.Time
	PlanExpiresAt     *time.Time
}

// User 租户，OwnerID 即用户名，是所有业务数据的归属标识
type User struct {
	OwnerID         string
	Role            string
	Plan            PlanState
	WechatAppID     string
	WechatAppSecret string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u *User) IsAdmin() bool {
	return u != nil && strings.EqualFold(strings.TrimSpace(u.Role), RoleAdmin)
}

// HasOpenAPICredentials 是否已配置公众号 AppID/AppSecret
func (u *User) HasOpenAPICredentials() bool {
	return u != nil && strings.TrimSpace(u.WechatAppID) != "" && strings.TrimSpace(u.WechatAppSecret) != ""
}
