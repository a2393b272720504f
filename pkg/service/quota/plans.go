/*
 * @Description: 套餐定义
 * @Author: 安知鱼
 * @Date: 2026-02-14 16:40:02
 * @LastEditTime: 2026-02-28 19:05:36
 * @LastEditors: 安知鱼
 */
package quota

import (
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// AdminQuota 管理员视为无限额度
const AdminQuota = 999999

type Plan struct {
	Tier                  string   `json:"tier"`
	Label                 string   `json:"label"`
	PriceHint             string   `json:"price_hint"`
	Description           string   `json:"description"`
	AIQuota               int      `json:"ai_quota"`
	ImageQuota            int      `json:"image_quota"`
	CanGenerateImages     bool     `json:"can_generate_images"`
	CanPublishWechatDraft bool     `json:"can_publish_wechat_draft"`
	AllowedModes          []string `json:"allowed_modes"`
	Highlights            []string `json:"highlights"`
}

func (p Plan) AllowsMode(mode string) bool {
	for _, m := range p.AllowedModes {
		if m == mode {
			return true
		}
	}
	return false
}

var allModes = []string{"analyze", "create", "rewrite"}

var plans = map[string]Plan{
	model.TierFree: {
		Tier:         model.TierFree,
		Label:        "免费用户",
		PriceHint:    "￥0/月",
		Description:  "适合个人试用与轻量创作",
		AIQuota:      30,
		ImageQuota:   5,
		AllowedModes: allModes,
		Highlights:   []string{"基础 AI 分析/创作/仿写", "本地草稿箱保存", "按月配额重置"},
	},
	model.TierPro: {
		Tier:                  model.TierPro,
		Label:                 "付费用户",
		PriceHint:             "建议 ￥99/月",
		Description:           "适合稳定更新的个人博主",
		AIQuota:               300,
		ImageQuota:            80,
		CanGenerateImages:     true,
		CanPublishWechatDraft: true,
		AllowedModes:          allModes,
		Highlights:            []string{"高配额 AI 生产", "即梦图片生成", "公众号草稿箱一键投递"},
	},
	model.TierPremium: {
		Tier:                  model.TierPremium,
		Label:                 "高级用户",
		PriceHint:             "建议 ￥399/月",
		Description:           "适合团队化运营和矩阵账号",
		AIQuota:               1200,
		ImageQuota:            400,
		CanGenerateImages:     true,
		CanPublishWechatDraft: true,
		AllowedModes:          allModes,
		Highlights:            []string{"大规模内容生产配额", "完整图文生成链路", "适配多账号团队协作场景"},
	},
}

// 每月价格，单位分
var monthlyPriceCents = map[string]int{
	model.TierFree:    0,
	model.TierPro:     9900,
	model.TierPremium: 39900,
}

// NormalizeTier 未知套餐一律视为免费
func NormalizeTier(tier string) string {
	t := strings.ToLower(strings.TrimSpace(tier))
	if _, ok := plans[t]; ok {
		return t
	}
	return model.TierFree
}

func PlanOf(tier string) Plan {
	return plans[NormalizeTier(tier)]
}

func MonthlyPriceCents(tier string) int {
	return monthlyPriceCents[NormalizeTier(tier)]
}

// Catalog 可购买的套餐，按价格升序
func Catalog() []Plan {
	return []Plan{plans[model.TierPro], plans[model.TierPremium]}
}
