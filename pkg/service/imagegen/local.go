/*
 * @Description: 即梦 local 通道（本地 jimeng-api 容器）
 * @Author: 安知鱼
 * @Date: 2026-02-19 15:20:41
 * @LastEditTime: 2026-03-03 20:46:05
 * @LastEditors: 安知鱼
 */
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
)

// 本地服务固定监听 5100，其它端口的旧配置直接忽略
const localPort = "5100"

var (
	baseURLSplitRe = regexp.MustCompile(`[,\s;]+`)
	dockerEnvPath  = "/.dockerenv"
)

// BuildLocalBaseURLs 依次收集多地址配置、单地址配置与本机回环地址，统一规范为 scheme://host:5100
func BuildLocalBaseURLs(multi, single string, inDocker bool) []string {
	var out []string
	add := func(raw string) {
		text := strings.TrimRight(strings.TrimSpace(raw), "/")
		lower := strings.ToLower(text)
		if text == "" || !(strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) {
			return
		}
		u, err := url.Parse(text)
		if err != nil || u.Hostname() == "" {
			return
		}
		if p := u.Port(); p != "" && p != localPort {
			return
		}
		norm := fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), net.JoinHostPort(u.Hostname(), localPort))
		for _, existing := range out {
			if existing == norm {
				return
			}
		}
		out = append(out, norm)
	}

	if multi = strings.TrimSpace(multi); multi != "" {
		for _, item := range baseURLSplitRe.Split(multi, -1) {
			add(item)
		}
	}
	add(single)
	add("http://127.0.0.1:5100")
	add("http://localhost:5100")
	if inDocker {
		add("http://host.docker.internal:5100")
	}
	return out
}

func runningInDocker() bool {
	_, err := os.Stat(dockerEnvPath)
	return err == nil
}

type LocalConfig struct {
	BaseURLs   []string
	Endpoint   string
	Model      string
	Token      string
	Ratio      string
	Resolution string
	SendExtra  bool
	Timeout    time.Duration
}

// LocalChannel 按地址顺序尝试，成功的地址会被移到最前面供后续提示词使用
type LocalChannel struct {
	cfg    LocalConfig
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	baseURLs []string
}

func NewLocalChannel(cfg LocalConfig, logger *slog.Logger) *LocalChannel {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/v1/images/generations"
	}
	if !strings.HasPrefix(cfg.Endpoint, "/") {
		cfg.Endpoint = "/" + cfg.Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &LocalChannel{
		cfg:      cfg,
		client:   &http.Client{},
		logger:   logger,
		baseURLs: append([]string(nil), cfg.BaseURLs...),
	}
}

func (c *LocalChannel) BaseURLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.baseURLs...)
}

func (c *LocalChannel) promote(winner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := []string{winner}
	for _, u := range c.baseURLs {
		if u != winner {
			next = append(next, u)
		}
	}
	c.baseURLs = next
}

func (c *LocalChannel) shortTimeout() time.Duration {
	if c.cfg.Timeout < 20*time.Second {
		return 20 * time.Second
	}
	return c.cfg.Timeout
}

func (c *LocalChannel) longTimeout() time.Duration {
	if 2*c.cfg.Timeout < 60*time.Second {
		return 60 * time.Second
	}
	return 2 * c.cfg.Timeout
}

type localResult struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func extractLocalImageURLs(body []byte) []string {
	var items []map[string]interface{}
	var wrapped localResult
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 {
		_ = json.Unmarshal(wrapped.Data, &items)
	} else {
		_ = json.Unmarshal(body, &items)
	}
	var urls []string
	for _, item := range items {
		for _, key := range []string{"url", "image_url", "img_url"} {
			v, _ := item[key].(string)
			v = strings.TrimSpace(v)
			if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
				urls = append(urls, v)
				break
			}
		}
	}
	return urls
}

func (c *LocalChannel) post(ctx context.Context, endpoint string, payload []byte, timeout time.Duration) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	return resp, body, err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Generate reachable=false 表示所有地址都连不上且没有任何提示词成功
func (c *LocalChannel) Generate(ctx context.Context, prompts []string) (urls []string, notice string, reachable bool) {
	if len(prompts) == 0 {
		return nil, "", true
	}
	if len(c.BaseURLs()) == 0 {
		return nil, "local 模式未配置接口地址", false
	}

	var errs []string
	unreachable := false
	winner := ""
	for _, prompt := range prompts {
		payload := map[string]interface{}{"model": c.cfg.Model, "prompt": prompt}
		if c.cfg.SendExtra {
			if c.cfg.Ratio != "" {
				payload["ratio"] = c.cfg.Ratio
			}
			if c.cfg.Resolution != "" {
				payload["resolution"] = c.cfg.Resolution
			}
			payload["response_format"] = "url"
		}
		raw, _ := json.Marshal(payload)

		done := false
		connErrors := 0
		bases := c.BaseURLs()
		for _, base := range bases {
			endpoint := base + c.cfg.Endpoint
			resp, body, err := c.post(ctx, endpoint, raw, c.shortTimeout())
			if err != nil && isTimeout(err) && ctx.Err() == nil {
				resp, body, err = c.post(ctx, endpoint, raw, c.longTimeout())
			}
			if err != nil {
				connErrors++
				c.logger.Warn("即梦 local 地址不可用", "url", endpoint, "error", err)
				continue
			}
			if resp.StatusCode >= 400 {
				errs = append(errs, fmt.Sprintf("local[%s] HTTP %d: %s", base, resp.StatusCode, strutil.Clip(string(body), 400)))
				continue
			}
			found := extractLocalImageURLs(body)
			if len(found) > 0 {
				urls = append(urls, found[0])
				winner = base
				if base != bases[0] {
					c.promote(base)
				}
				done = true
				break
			}
			var r localResult
			if decodeLoose(body, &r) != nil {
				errs = append(errs, fmt.Sprintf("local[%s] 接口返回非 JSON 数据", base))
				continue
			}
			msg := strings.TrimSpace(r.Message)
			if msg == "" {
				msg = strings.TrimSpace(r.Error)
			}
			if msg == "" {
				msg = fmt.Sprintf("local[%s] 接口未返回图片地址", base)
			}
			errs = append(errs, msg)
		}
		if !done && connErrors >= len(bases) {
			unreachable = true
		}
	}

	switch {
	case len(urls) > 0 && len(urls) == len(prompts):
		return urls, fmt.Sprintf("即梦 local 生图成功（%d 张，地址 %s）", len(urls), winner), true
	case len(urls) > 0:
		detail := "部分任务未返回图片"
		if len(errs) > 0 {
			detail = errs[0]
		}
		return urls, fmt.Sprintf("即梦 local 生图部分成功（%d/%d）：%s", len(urls), len(prompts), detail), true
	case unreachable:
		return nil, "即梦 local 接口不可达", false
	}
	if len(errs) > 0 {
		return nil, errs[0], true
	}
	return nil, "即梦 local 生图失败", true
}
