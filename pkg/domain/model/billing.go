/*
 * @Description: 用量与订单
 * @Author: 安知鱼
 * @Date: 2026-02-14 16:20:55
 * @LastEditTime: 2026-02-28 18:47:13
 * @LastEditors: 安知鱼
 */
package model

import "time"

// DailyUsage 每个用户每天一行，ID 为 owner:YYYY-MM-DD
type DailyUsage struct {
	ID        string
	OwnerID   string
	UsageDate string
	UsedCount int
	UpdatedAt time.Time
}

const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
)

// BillingOrder 套餐订单
type BillingOrder struct {
	OrderNo     string
	OwnerID     string
	Tier        string
	Months      int
	AmountCents int
	Currency    string
	Channel     string
	Status      string
	PaidAt      *time.Time
	CanceledAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
