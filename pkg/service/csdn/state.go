package csdn

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// StorageState 浏览器登录态，格式与扫码登录时导出的 cookies + origins 一致
type StorageState struct {
	Cookies []StateCookie `json:"cookies"`
	Origins []StateOrigin `json:"origins"`
}

type StateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

type StateOrigin struct {
	Origin       string      `json:"origin"`
	LocalStorage []StateItem `json:"localStorage"`
}

type StateItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParseStorageState 解析登录态 JSON，没有任何 cookie 视为未登录
func ParseStorageState(raw string) (*StorageState, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("登录态为空")
	}
	var st StorageState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("登录态格式错误: %w", err)
	}
	if len(st.Cookies) == 0 {
		return nil, fmt.Errorf("登录态缺少 cookies")
	}
	return &st, nil
}

// CookieParams 转换为 network.SetCookies 的参数，过期的 cookie 直接丢弃
func (s *StorageState) CookieParams(now time.Time) []*network.CookieParam {
	var out []*network.CookieParam
	for _, c := range s.Cookies {
		if c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		// -1 表示会话 cookie
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			exp := time.Unix(int64(sec), int64(frac*1e9))
			if exp.Before(now) {
				continue
			}
			t := cdp.TimeSinceEpoch(exp)
			p.Expires = &t
		}
		out = append(out, p)
	}
	return out
}

// LocalStorageScript 生成在新文档加载前执行的脚本，按 origin 写回 localStorage
func (s *StorageState) LocalStorageScript() string {
	var b strings.Builder
	for _, o := range s.Origins {
		if o.Origin == "" || len(o.LocalStorage) == 0 {
			continue
		}
		items := map[string]string{}
		for _, it := range o.LocalStorage {
			items[it.Name] = it.Value
		}
		origin, _ := json.Marshal(strings.TrimRight(o.Origin, "/"))
		data, _ := json.Marshal(items)
		fmt.Fprintf(&b, "if (location.origin === %s) { try { const d = %s; for (const k in d) { localStorage.setItem(k, d[k]); } } catch (e) {} }\n", origin, data)
	}
	return b.String()
}
