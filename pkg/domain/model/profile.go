package model

import "time"

// AIProfile 用户级的模型配置覆盖，空字段回退到全局 AI 配置
type AIProfile struct {
	OwnerID     string
	BaseURL     string
	APIKey      string
	ModelName   string
	Temperature int // 0..100
	UpdatedAt   time.Time
}
