/*
 * @Description: AI 创作服务：提示词 → 模型 → 润色 → 配图
 * @Author: 安知鱼
 * @Date: 2026-02-17 16:02:37
 * @LastEditTime: 2026-03-04 09:18:26
 * @LastEditors: 安知鱼
 */
package compose

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/storage"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/image"
)

// 转存到对象存储前的压缩上限
const rehostMaxSize = 5 << 20

// ImageGenerator 根据提示词生成图片，notice 为给用户看的通道说明
type ImageGenerator interface {
	Generate(ctx context.Context, prompts []string) (urls []string, notice string)
}

// Request 一次创作请求
type Request struct {
	Mode        string
	Title       string
	Content     string
	Instruction string
	Options     Options
	Profile     *model.AIProfile
}

// Result 一次创作的产出
type Result struct {
	Title        string
	Content      string
	Tags         []string
	Options      Options
	ImagePrompts []string
	Images       []string
	ImageNotice  string
}

type Service struct {
	rules         *RulesLoader
	chat          *ChatClient
	generator     ImageGenerator
	images        *image.Service
	host          storage.ImageHost
	defaults      ProviderConfig
	refineEnabled bool
	logger        *slog.Logger
}

// NewService generator 与 host 都可以为空
func NewService(cfg *config.Config, chat *ChatClient, generator ImageGenerator, images *image.Service, host storage.ImageHost) *Service {
	return &Service{
		rules:     NewRulesLoader(cfg.GetString(config.KeyAILocalRulesFile)),
		chat:      chat,
		generator: generator,
		images:    images,
		host:      host,
		defaults: ProviderConfig{
			BaseURL:     cfg.GetString(config.KeyAIBaseURL),
			APIKey:      cfg.GetString(config.KeyAIAPIKey),
			Model:       cfg.GetString(config.KeyAIModel),
			Temperature: 70,
		},
		refineEnabled: cfg.GetBool(config.KeyAIRefineEnabled),
		logger:        slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "compose"),
	}
}

func (s *Service) Rules() *Rules {
	return s.rules.Load()
}

// ResolveProvider 用户配置为空的字段回退到平台配置
func (s *Service) ResolveProvider(profile *model.AIProfile) ProviderConfig {
	out := s.defaults
	if profile == nil {
		return out
	}
	if v := strings.TrimSpace(profile.BaseURL); v != "" {
		out.BaseURL = v
	}
	if v := strings.TrimSpace(profile.APIKey); v != "" {
		out.APIKey = v
	}
	if v := strings.TrimSpace(profile.ModelName); v != "" {
		out.Model = v
	}
	if profile.Temperature > 0 {
		out.Temperature = profile.Temperature
	}
	return out
}

// Generate 只跑文本部分：提示词、模型调用、润色与 Markdown 兜底
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	opts := req.Options.Normalize()
	rules := s.rules.Load()
	provider := s.ResolveProvider(req.Profile)

	system, user := BuildPrompt(rules, req.Mode, req.Title, req.Content, req.Instruction, opts)
	draft, err := s.chat.Complete(ctx, provider, system, user)
	if err != nil {
		return nil, err
	}
	draft = s.Refine(ctx, provider, req.Mode, draft, req.Title, req.Instruction, opts)
	draft = EnsureMarkdown(req.Title, draft)

	return &Result{
		Title:   MarkdownTitle(draft, req.Title),
		Content: draft,
		Tags:    RecommendTags(rules, req.Title, DefaultTagLimit),
		Options: opts,
	}, nil
}

// Illustrate create 模式下按 image_count 生成配图并合并进正文
func (s *Service) Illustrate(ctx context.Context, mode string, res *Result) {
	if mode != model.ComposeModeCreate || res.Options.ImageCount <= 0 {
		return
	}
	res.ImagePrompts = BuildImagePrompts(res.Title, res.Options.Platform, res.Options.Style, res.Options.ImageCount, res.Content)
	if s.generator == nil {
		res.ImageNotice = "平台生图服务未就绪，已返回配图提示词（未实际生图）"
		return
	}

	urls, notice := s.generator.Generate(ctx, res.ImagePrompts)
	res.ImageNotice = notice
	if len(urls) == 0 {
		return
	}

	if s.host != nil && s.images != nil {
		for i, u := range urls {
			hosted, err := s.images.Rehost(ctx, s.host, u, rehostMaxSize)
			if err != nil {
				s.logger.Warn("配图转存失败，保留原地址", "url", u, "host", s.host.Name(), "error", err)
				continue
			}
			urls[i] = hosted
		}
	}
	res.Images = urls
	res.Content = MergeImageURLs(res.Content, urls)
}

// Compose 完整创作流程
func (s *Service) Compose(ctx context.Context, req Request) (*Result, error) {
	res, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Illustrate(ctx, req.Mode, res)
	return res, nil
}

// ResultMap 写入队列任务 result 字段的结构
func (r *Result) ResultMap() map[string]interface{} {
	images := r.Images
	if images == nil {
		images = []string{}
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"result":           r.Content,
		"title":            r.Title,
		"recommended_tags": tags,
		"options":          r.Options.ToMap(),
		"images":           images,
		"image_prompts":    r.ImagePrompts,
		"image_notice":     r.ImageNotice,
	}
}
