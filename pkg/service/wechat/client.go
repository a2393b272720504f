/*
 * @Description: 公众号官方接口：正文图片、封面素材、草稿箱与发布
 * @Author: 安知鱼
 * @Date: 2026-02-21 11:40:03
 * @LastEditTime: 2026-03-06 22:17:45
 * @LastEditors: 安知鱼
 */
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/image"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
)

const (
	DefaultAPIBase = "https://api.weixin.qq.com"

	maxBodyImageSize = 1 << 20
	maxCoverSize     = 9 << 20
	requestTimeout   = 40 * time.Second
	uploadedCacheLen = 1024
)

// Credentials 用户在个人设置中填写的公众号开发者凭据
type Credentials struct {
	AppID     string
	AppSecret string
}

type Options struct {
	APIBase          string
	DefaultCoverPath string
	HTTPClient       *http.Client
}

// Client 公众号官方接口客户端，多个用户共享同一实例
type Client struct {
	base         string
	http         *http.Client
	tokens       *TokenCache
	images       *image.Service
	uploaded     *lru.Cache[string, string]
	defaultCover string
	logger       *slog.Logger
}

func NewClient(opts Options, cache utility.CacheService, images *image.Service) *Client {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	uploaded, _ := lru.New[string, string](uploadedCacheLen)
	return &Client{
		base:         opts.APIBase,
		http:         opts.HTTPClient,
		tokens:       NewTokenCache(cache, opts.HTTPClient, opts.APIBase),
		images:       images,
		uploaded:     uploaded,
		defaultCover: opts.DefaultCoverPath,
		logger:       slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "wechat"),
	}
}

func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

func (c *Client) endpoint(path, token string, extra url.Values) string {
	q := url.Values{}
	q.Set("access_token", token)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.base + path + "?" + q.Encode()
}

// apiResult 兼容 errcode 与 ret/base_resp 两种错误格式
type apiResult struct {
	MediaID   string          `json:"media_id"`
	URL       string          `json:"url"`
	PublishID json.RawMessage `json:"publish_id"`
	ErrCode   int             `json:"errcode"`
	ErrMsg    string          `json:"errmsg"`
	Ret       *int            `json:"ret"`
	BaseResp  *struct {
		Ret    int    `json:"ret"`
		ErrMsg string `json:"err_msg"`
	} `json:"base_resp"`
	raw string
}

func (r *apiResult) code() int {
	switch {
	case r.Ret != nil:
		return *r.Ret
	case r.BaseResp != nil && r.BaseResp.Ret != 0:
		return r.BaseResp.Ret
	}
	return r.ErrCode
}

func (r *apiResult) message() string {
	if r.ErrMsg != "" {
		return r.ErrMsg
	}
	if r.BaseResp != nil && r.BaseResp.ErrMsg != "" {
		return r.BaseResp.ErrMsg
	}
	return fmt.Sprintf("unknown error, ret=%d, payload=%s", r.code(), strutil.Clip(r.raw, 240))
}

func (c *Client) do(req *http.Request) (*apiResult, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	out := &apiResult{raw: string(data)}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("返回非 JSON")
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}) (*apiResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// 中文与 HTML 原样提交，避免草稿箱出现转义字符
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req)
}

func (c *Client) postMedia(ctx context.Context, endpoint, filename string, data []byte) (*apiResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

// UploadBodyImage 正文图片转存到微信图床，同一应用的同一来源只上传一次
func (c *Client) UploadBodyImage(ctx context.Context, appID, token, src string) (string, error) {
	if IsWechatCDN(src) {
		return src, nil
	}
	cacheKey := appID + "\x00" + src
	if u, ok := c.uploaded.Get(cacheKey); ok {
		return u, nil
	}
	data, ext, err := c.images.DownloadAndCompress(ctx, src, maxBodyImageSize)
	if err != nil {
		return "", err
	}
	res, err := c.postMedia(ctx, c.endpoint("/cgi-bin/media/uploadimg", token, nil),
		fmt.Sprintf("body_%d%s", time.Now().UnixMilli(), ext), data)
	if err != nil {
		return "", fmt.Errorf("正文图片上传异常: %w", err)
	}
	if res.URL == "" {
		return "", fmt.Errorf("正文图片上传失败: %s", strutil.Clip(res.message(), 240))
	}
	c.uploaded.Add(cacheKey, res.URL)
	return res.URL, nil
}

func (c *Client) addCoverMaterial(ctx context.Context, token, filename string, data []byte) (string, error) {
	extra := url.Values{}
	extra.Set("type", "image")
	res, err := c.postMedia(ctx, c.endpoint("/cgi-bin/material/add_material", token, extra), filename, data)
	if err != nil {
		return "", fmt.Errorf("封面上传异常: %w", err)
	}
	if res.MediaID == "" {
		return "", fmt.Errorf("封面上传失败: %s", strutil.Clip(res.message(), 240))
	}
	return res.MediaID, nil
}

// UploadCoverFromURL 下载并压缩到 9MB 以内后作为永久素材上传
func (c *Client) UploadCoverFromURL(ctx context.Context, token, src string) (string, error) {
	data, ext, err := c.images.DownloadAndCompress(ctx, src, maxCoverSize)
	if err != nil {
		return "", fmt.Errorf("封面下载失败 %w", err)
	}
	return c.addCoverMaterial(ctx, token, fmt.Sprintf("cover_%d%s", time.Now().UnixMilli(), ext), data)
}

// UploadDefaultCover 上传本地默认封面
func (c *Client) UploadDefaultCover(ctx context.Context, token string) (string, error) {
	if c.defaultCover == "" {
		return "", fmt.Errorf("默认封面路径为空")
	}
	raw, err := os.ReadFile(c.defaultCover)
	if err != nil {
		return "", fmt.Errorf("读取默认封面失败: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("默认封面内容为空")
	}
	data, ext, err := image.Compress(raw, maxCoverSize)
	if err != nil {
		return "", fmt.Errorf("默认封面压缩失败: %w", err)
	}
	return c.addCoverMaterial(ctx, token, fmt.Sprintf("cover_fallback_%d%s", time.Now().UnixMilli(), ext), data)
}

// FreePublish 把草稿提交发布，返回 publish_id
func (c *Client) FreePublish(ctx context.Context, creds Credentials, mediaID string) (string, error) {
	token, err := c.tokens.Token(ctx, creds.AppID, creds.AppSecret)
	if err != nil {
		return "", err
	}
	res, err := c.postJSON(ctx, c.endpoint("/cgi-bin/freepublish/submit", token, nil), map[string]string{"media_id": mediaID})
	if err != nil {
		return "", fmt.Errorf("发布请求异常: %w", err)
	}
	if res.code() != 0 || len(res.PublishID) == 0 {
		return "", fmt.Errorf("发布失败: errcode=%d, errmsg=%s", res.code(), res.message())
	}
	return strings.Trim(string(res.PublishID), `"`), nil
}
