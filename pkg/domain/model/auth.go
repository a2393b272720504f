/*
 * @Description: 平台授权
 * @Author: 安知鱼
 * @Date: 2026-02-13 14:12:09
 * @LastEditTime: 2026-03-01 10:38:25
 * @LastEditors: 安知鱼
 */
package model

import (
	"strings"
	"time"
)

// WechatRawLimit 授权原始抓包内容的最大长度
const WechatRawLimit = 5000

// WechatAuth 公众号后台扫码授权得到的 cookie/token，每个用户最多一条
type WechatAuth struct {
	OwnerID     string
	Token       string
	Cookie      string
	Fingerprint string
	AppName     string
	UserName    string
	ExpiresAt   *time.Time
	RawJSON     string
	UpdatedAt   time.Time
}

func (a *WechatAuth) Usable() bool {
	return a != nil && strings.TrimSpace(a.Token) != "" && strings.TrimSpace(a.Cookie) != ""
}

const (
	CSDNStatusValid   = "valid"
	CSDNStatusExpired = "expired"
)

// CSDNAuth 浏览器登录态，StorageState 为 cookies + origins 的 JSON
type CSDNAuth struct {
	OwnerID      string
	StorageState string
	Status       string
	Username     string
	UpdatedAt    time.Time
}

const (
	ProbeValid          = "valid"
	ProbeInvalid        = "invalid"
	ProbeInvalidCleared = "invalid_cleared"
	ProbeUnknown        = "unknown"
)

// ProbeResult 授权探测结果
type ProbeResult struct {
	Status  string
	Message string
}
