/*
 * @Description: 本地草稿日志条目
 * @Author: 安知鱼
 * @Date: 2026-02-15 21:03:26
 * @LastEditTime: 2026-03-03 08:51:02
 * @LastEditors: 安知鱼
 */
package model

const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusPending = "pending"
)

// DeliveryHistoryLimit 每个平台保留的投递历史条数
const DeliveryHistoryLimit = 20

// DeliveryAttempt 一次投递的记录
type DeliveryAttempt struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Source  string                 `json:"source"`
	TaskID  string                 `json:"task_id"`
	TriedAt string                 `json:"tried_at"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// DeliveryState metadata.delivery[platform] 的内容
type DeliveryState struct {
	Status      string                 `json:"status"`
	Message     string                 `json:"message"`
	LastTryAt   string                 `json:"last_try_at"`
	Source      string                 `json:"source"`
	TaskID      string                 `json:"task_id"`
	DeliveredAt string                 `json:"delivered_at,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	History     []DeliveryAttempt      `json:"history"`
}

// Draft 草稿日志中的一行
type Draft struct {
	ID        string                 `json:"id"`
	OwnerID   string                 `json:"owner_id"`
	ArticleID string                 `json:"article_id"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Platform  string                 `json:"platform"`
	Mode      string                 `json:"mode"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at,omitempty"`
}
