/*
 * @Description: OpenAI 兼容的对话补全客户端
 * @Author: 安知鱼
 * @Date: 2026-02-17 14:35:02
 * @LastEditTime: 2026-03-02 19:08:51
 * @LastEditors: 安知鱼
 */
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
)

const ChatTimeout = 180 * time.Second

var mockKeys = map[string]bool{"mock": true, "mock-key": true, "test-mock": true}

var sourceTitleRe = regexp.MustCompile(`素材标题：([^\n]+)`)

// ProviderConfig 运行时生效的模型配置
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature int
}

func (p ProviderConfig) IsMock() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(p.BaseURL)), "mock://") ||
		mockKeys[strings.ToLower(strings.TrimSpace(p.APIKey))]
}

// ChatClient 调用 {base}/chat/completions
type ChatClient struct {
	httpClient *http.Client
}

func NewChatClient(httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: ChatTimeout}
	}
	return &ChatClient{httpClient: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete 返回首个 choice 的正文
func (c *ChatClient) Complete(ctx context.Context, cfg ProviderConfig, system, user string) (string, error) {
	if cfg.IsMock() {
		return mockCompletion(user), nil
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return "", constant.ErrAIProviderNotConfigured
	}

	temp := cfg.Temperature
	if temp < 0 {
		temp = 0
	}
	if temp > 100 {
		temp = 100
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(chatRequest{
		Model:       cfg.Model,
		Temperature: float64(temp) / 100.0,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", constant.ErrAIProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: 读取响应失败: %v", constant.ErrAIProvider, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s", constant.ErrAIProvider, strutil.Clip(string(body), 300))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: 响应不是合法 JSON", constant.ErrAIProvider)
	}
	if len(out.Choices) == 0 {
		return "", constant.ErrAIEmptyResponse
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func mockCompletion(userPrompt string) string {
	title := "未命名主题"
	if m := sourceTitleRe.FindStringSubmatch(userPrompt); len(m) > 1 {
		if t := strings.TrimSpace(m[1]); t != "" {
			title = strutil.Clip(t, 80)
		}
	}
	return "# " + title + "\n\n" +
		"这是一份模拟生成内容，用于联调与自动化测试。\n\n" +
		"## 核心观点\n" +
		"1. 明确目标受众与场景。\n" +
		"2. 给出可执行步骤与边界。\n" +
		"3. 结尾加入行动建议与复盘方式。\n\n" +
		"## 执行清单\n" +
		"- 提炼要点\n" +
		"- 组织结构\n" +
		"- 输出发布稿\n"
}
