/*
 * @Description: 即梦 AK/SK 通道：提交任务后轮询结果
 * @Author: 安知鱼
 * @Date: 2026-02-19 17:03:12
 * @LastEditTime: 2026-03-02 14:55:37
 * @LastEditors: 安知鱼
 */
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	submitAction = "CVSync2AsyncSubmitTask"
	resultAction = "CVSync2AsyncGetResult"
	apiVersion   = "2022-08-31"

	codeSuccess      = 10000
	codeAccessDenied = 50400

	NoticeNotReady = "平台生图服务未就绪，已返回配图提示词（未实际生图）"
)

var defaultReqKeys = []string{"jimeng_t2i_v40", "jimeng_t2i_v30"}

// BuildReqKeys 主模型在前，去重后追加逗号分隔的备用模型
func BuildReqKeys(primary, fallbacks string) []string {
	var keys []string
	for _, item := range append([]string{primary}, strings.Split(fallbacks, ",")...) {
		k := strings.TrimSpace(item)
		if k == "" {
			continue
		}
		dup := false
		for _, existing := range keys {
			if existing == k {
				dup = true
				break
			}
		}
		if !dup {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return append([]string(nil), defaultReqKeys...)
	}
	return keys
}

type RemoteConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	ReqKeys      []string
	Scale        float64
	MaxRetries   int
	PollInterval time.Duration
}

// RemoteChannel 生效的模型 key 在成功后保持粘性
type RemoteChannel struct {
	cfg    RemoteConfig
	client *http.Client
	logger *slog.Logger

	mu           sync.Mutex
	effectiveKey string
}

func NewRemoteChannel(cfg RemoteConfig, logger *slog.Logger) *RemoteChannel {
	if len(cfg.ReqKeys) == 0 {
		cfg.ReqKeys = append([]string(nil), defaultReqKeys...)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 0.5
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://visual.volcengineapi.com"
	}
	return &RemoteChannel{
		cfg:          cfg,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
		effectiveKey: cfg.ReqKeys[0],
	}
}

func (c *RemoteChannel) Ready() bool {
	return strings.TrimSpace(c.cfg.AccessKey) != "" && strings.TrimSpace(c.cfg.SecretKey) != ""
}

func (c *RemoteChannel) EffectiveKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveKey
}

type apiResponse struct {
	Code      int    `json:"code"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		ImageURLs []string `json:"image_urls"`
	} `json:"data"`
}

func (r *apiResponse) code() int {
	if r.Code != 0 {
		return r.Code
	}
	return r.Status
}

func (r *apiResponse) accessDenied() bool {
	return r.code() == codeAccessDenied || strings.Contains(strings.ToLower(r.Message), "access denied")
}

func (r *apiResponse) describe() string {
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("code=%d", r.code())
	}
	if r.RequestID != "" {
		msg += fmt.Sprintf("（request_id=%s）", r.RequestID)
	}
	return msg
}

func (c *RemoteChannel) call(ctx context.Context, action string, body interface{}) (*apiResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimRight(c.cfg.Endpoint, "/") + "/")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("Action", action)
	q.Set("Version", apiVersion)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	signRequest(req, raw, c.cfg.AccessKey, c.cfg.SecretKey, time.Now())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	out := &apiResponse{}
	if err := decodeLoose(data, out); err != nil {
		return nil, fmt.Errorf("HTTP %d 响应无法解析", resp.StatusCode)
	}
	return out, nil
}

func (c *RemoteChannel) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// poll 返回首张图片地址，没有结果时为空
func (c *RemoteChannel) poll(ctx context.Context, reqKey, taskID string) string {
	reqJSON, _ := json.Marshal(map[string]interface{}{
		"return_url": true,
		"logo_info":  map[string]interface{}{"add_logo": false},
	})
	body := map[string]interface{}{"req_key": reqKey, "task_id": taskID, "req_json": string(reqJSON)}
	for i := 0; i < c.cfg.MaxRetries; i++ {
		resp, err := c.call(ctx, resultAction, body)
		if err != nil || resp.code() != codeSuccess {
			if !c.sleep(ctx) {
				return ""
			}
			continue
		}
		switch resp.Data.Status {
		case "done":
			if len(resp.Data.ImageURLs) > 0 {
				return resp.Data.ImageURLs[0]
			}
			return ""
		case "in_queue", "generating":
			if !c.sleep(ctx) {
				return ""
			}
		default:
			return ""
		}
	}
	return ""
}

// Generate 遇到 access denied 立即换下一个模型 key
func (c *RemoteChannel) Generate(ctx context.Context, prompts []string) ([]string, string) {
	if !c.Ready() {
		c.logger.Warn("未配置即梦 AK/SK，跳过生图", "prompts", len(prompts))
		return nil, NoticeNotReady
	}

	var urls, errs []string
	fallbackUsed := false
	for _, prompt := range prompts {
		current := c.EffectiveKey()
		candidates := []string{current}
		for _, k := range c.cfg.ReqKeys {
			if k != current {
				candidates = append(candidates, k)
			}
		}

		for idx, reqKey := range candidates {
			last := idx == len(candidates)-1
			resp, err := c.call(ctx, submitAction, map[string]interface{}{
				"req_key":      reqKey,
				"prompt":       prompt,
				"scale":        c.cfg.Scale,
				"force_single": true,
			})
			if err != nil {
				c.logger.Warn("即梦提交失败", "req_key", reqKey, "error", err)
				errs = append(errs, fmt.Sprintf("即梦调用失败[%s]：%v", reqKey, err))
				break
			}
			if resp.code() != codeSuccess || resp.Data.TaskID == "" {
				if resp.accessDenied() && !last {
					continue
				}
				errs = append(errs, fmt.Sprintf("即梦提交失败[%s]：%s", reqKey, resp.describe()))
				break
			}

			img := c.poll(ctx, reqKey, resp.Data.TaskID)
			if img == "" {
				errs = append(errs, fmt.Sprintf("即梦任务未返回图片链接[%s]", reqKey))
				break
			}
			if reqKey != c.cfg.ReqKeys[0] {
				fallbackUsed = true
			}
			c.mu.Lock()
			c.effectiveKey = reqKey
			c.mu.Unlock()
			urls = append(urls, img)
			break
		}
	}

	var notices []string
	if len(urls) > 0 {
		notices = append(notices, "即梦生图成功，使用模型 "+c.EffectiveKey())
	}
	if fallbackUsed {
		notices = append(notices, "检测到默认模型不可用，已自动回退到 "+c.EffectiveKey())
	}
	if len(errs) > 0 {
		if len(errs) > 2 {
			errs = errs[:2]
		}
		notices = append(notices, strings.Join(errs, "；"))
	}
	return urls, strings.Join(notices, "；")
}
