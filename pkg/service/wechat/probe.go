package wechat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const (
	DefaultMPBase = "https://mp.weixin.qq.com"
	probeTimeout  = 15 * time.Second
)

// Prober 用一次轻量的 searchbiz 请求判断后台 cookie/token 是否仍然有效
type Prober struct {
	base      string
	client    *http.Client
	userAgent string
}

func NewProber(base string, client *http.Client, userAgent string) *Prober {
	if base == "" {
		base = DefaultMPBase
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{base: strings.TrimRight(base, "/"), client: client, userAgent: userAgent}
}

// IsSessionInvalid 微信后台返回的会话失效判定
func IsSessionInvalid(ret int, msg string) bool {
	return authFailureCodes[ret] || strings.Contains(strings.ToLower(msg), "invalid session")
}

func (p *Prober) Probe(ctx context.Context, token, cookie string) model.ProbeResult {
	q := url.Values{}
	q.Set("action", "search_biz")
	q.Set("begin", "0")
	q.Set("count", "1")
	q.Set("query", "test")
	q.Set("token", token)
	q.Set("lang", "zh_CN")
	q.Set("f", "json")
	q.Set("ajax", "1")

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/cgi-bin/searchbiz?"+q.Encode(), nil)
	if err != nil {
		return model.ProbeResult{Status: model.ProbeUnknown, Message: err.Error()}
	}
	req.Header.Set("Cookie", cookie)
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return model.ProbeResult{Status: model.ProbeUnknown, Message: "授权探测请求失败: " + err.Error()}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return model.ProbeResult{Status: model.ProbeUnknown, Message: "微信后台暂时不可用"}
	case resp.StatusCode >= 400:
		return model.ProbeResult{Status: model.ProbeInvalid, Message: "授权探测被拒绝"}
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	var payload struct {
		BaseResp struct {
			Ret    int    `json:"ret"`
			ErrMsg string `json:"err_msg"`
		} `json:"base_resp"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return model.ProbeResult{Status: model.ProbeInvalid, Message: "授权探测返回非 JSON"}
	}
	ret, msg := payload.BaseResp.Ret, payload.BaseResp.ErrMsg
	switch {
	case ret == 0:
		return model.ProbeResult{Status: model.ProbeValid, Message: "授权有效"}
	case IsSessionInvalid(ret, msg):
		return model.ProbeResult{Status: model.ProbeInvalidCleared, Message: "公众号平台登录失效，请重新扫码授权"}
	}
	return model.ProbeResult{Status: model.ProbeInvalid, Message: "授权校验未通过: " + msg}
}
