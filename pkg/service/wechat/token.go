/*
 * @Description: 公众号 access_token 缓存
 * @Author: 安知鱼
 * @Date: 2026-02-21 10:12:36
 * @LastEditTime: 2026-03-05 16:02:19
 * @LastEditors: 安知鱼
 */
package wechat

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
)

const (
	defaultExpiresIn = 7200
	// 命中缓存时至少还要有 30 秒余量
	tokenSafetyMargin = 30 * time.Second
)

type cachedToken struct {
	Token    string `json:"token"`
	ExpireAt int64  `json:"expire_at"`
}

// TokenCache 同一 (appid, secret) 的并发刷新只会打到微信一次
type TokenCache struct {
	cache  utility.CacheService
	client *http.Client
	base   string
	group  singleflight.Group
	now    func() time.Time
}

func NewTokenCache(cache utility.CacheService, client *http.Client, base string) *TokenCache {
	return &TokenCache{cache: cache, client: client, base: strings.TrimRight(base, "/"), now: time.Now}
}

// TokenCacheKey wechat:token:{app_id}:{sha1(secret)[:12]}
func TokenCacheKey(appID, secret string) string {
	sum := sha1.Sum([]byte(secret))
	return fmt.Sprintf("wechat:token:%s:%s", appID, hex.EncodeToString(sum[:])[:12])
}

func (c *TokenCache) lookup(ctx context.Context, key string) string {
	raw, err := c.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return ""
	}
	var item cachedToken
	if json.Unmarshal([]byte(raw), &item) != nil {
		return ""
	}
	if item.Token == "" || item.ExpireAt <= c.now().Add(tokenSafetyMargin).Unix() {
		return ""
	}
	return item.Token
}

// Token 返回可用的 access_token，缓存失效时刷新
func (c *TokenCache) Token(ctx context.Context, appID, secret string) (string, error) {
	appID, secret = strings.TrimSpace(appID), strings.TrimSpace(secret)
	if appID == "" || secret == "" {
		return "", fmt.Errorf("缺少 appid/appsecret")
	}
	key := TokenCacheKey(appID, secret)
	if token := c.lookup(ctx, key); token != "" {
		return token, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if token := c.lookup(ctx, key); token != "" {
			return token, nil
		}
		return c.refresh(ctx, key, appID, secret)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) refresh(ctx context.Context, key, appID, secret string) (string, error) {
	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", appID)
	q.Set("secret", secret)

	ctx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/cgi-bin/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("获取 access_token 异常: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("获取 access_token HTTP %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("获取 access_token 返回非 JSON")
	}
	if payload.AccessToken == "" {
		msg := payload.ErrMsg
		if msg == "" {
			msg = fmt.Sprintf("errcode=%d", payload.ErrCode)
		}
		return "", fmt.Errorf("获取 access_token 失败: %s", strutil.Clip(msg, 260))
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	ttl := time.Duration(expiresIn-120) * time.Second
	if ttl < time.Minute {
		ttl = time.Minute
	}
	item, _ := json.Marshal(cachedToken{Token: payload.AccessToken, ExpireAt: c.now().Add(ttl).Unix()})
	// 写缓存失败不影响本次使用
	_ = c.cache.Set(ctx, key, string(item), ttl)
	return payload.AccessToken, nil
}

// Invalidate 微信返回 token 失效类错误时主动清除
func (c *TokenCache) Invalidate(ctx context.Context, appID, secret string) {
	_ = c.cache.Delete(ctx, TokenCacheKey(strings.TrimSpace(appID), strings.TrimSpace(secret)))
}
