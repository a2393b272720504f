package notice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
)

const (
	KindDingding = "dingding"
	KindFeishu   = "feishu"
	KindWechat   = "wechat"
	KindCustom   = "custom"

	postTimeout = 10 * time.Second
)

// Webhooks 系统通知地址，为空的渠道跳过
type Webhooks struct {
	Dingding string
	Feishu   string
	Wechat   string
	Custom   string
}

func WebhooksFromConfig(cfg *config.Config) Webhooks {
	return Webhooks{
		Dingding: cfg.GetString(config.KeyNoticeDingding),
		Feishu:   cfg.GetString(config.KeyNoticeFeishu),
		Wechat:   cfg.GetString(config.KeyNoticeWechat),
		Custom:   cfg.GetString(config.KeyNoticeCustom),
	}
}

type webhookTarget struct {
	kind string
	url  string
}

func (w Webhooks) targets() []webhookTarget {
	var out []webhookTarget
	for _, t := range []webhookTarget{
		{KindDingding, w.Dingding},
		{KindFeishu, w.Feishu},
		{KindWechat, w.Wechat},
		{KindCustom, w.Custom},
	} {
		if strings.TrimSpace(t.url) != "" {
			out = append(out, webhookTarget{kind: t.kind, url: strings.TrimSpace(t.url)})
		}
	}
	return out
}

// BuildPayload 按渠道组装消息体，自定义渠道使用钉钉 markdown 格式
func BuildPayload(kind, title, markdown string) map[string]interface{} {
	switch kind {
	case KindFeishu:
		return map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": markdown},
		}
	case KindWechat:
		return map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": markdown},
		}
	}
	return map[string]interface{}{
		"msgtype":  "markdown",
		"markdown": map[string]string{"title": title, "text": markdown},
	}
}

// Sender 发送 webhook 的 HTTP 客户端
type Sender struct {
	client *http.Client
}

func NewSender(client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	return &Sender{client: client}
}

func (s *Sender) Post(ctx context.Context, url, kind, title, markdown string) error {
	body, err := json.Marshal(BuildPayload(kind, title, markdown))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook 返回 HTTP %d: %s", resp.StatusCode, strutil.Clip(string(data), 200))
	}
	return nil
}
