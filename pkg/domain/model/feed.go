/*
 * @Description: 订阅源
 * @Author: 安知鱼
 * @Date: 2026-02-11 10:31:50
 * @LastEditTime: 2026-02-27 11:08:19
 * @LastEditors: 安知鱼
 */
package model

import (
	"strings"
	"time"
)

const (
	FeedStatusActive  = "active"
	FeedStatusDeleted = "deleted"
)

// Feed 订阅源。SourceID 为公众号 fakeid，或以 http(s) 开头的 RSS/Atom 地址
type Feed struct {
	ID           string
	OwnerID      string
	SourceID     string
	DisplayName  string
	Avatar       string
	Status       string
	LastUpdateTS int64
	CreatedAt    time.Time
}

// IsRSS 判断订阅源是否为 RSS/Atom 地址
func (f *Feed) IsRSS() bool {
	s := strings.ToLower(strings.TrimSpace(f.SourceID))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
