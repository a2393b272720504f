package imagegen

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
)

const (
	ChannelLocal = "local"
	ChannelAPI   = "api"
)

// Service 即梦双通道：api 只走 AK/SK；local 优先本地容器，本地不可达时回退 AK/SK
type Service struct {
	channel string
	local   *LocalChannel
	remote  *RemoteChannel
}

func NewService(cfg *config.Config) *Service {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "imagegen")
	timeout := time.Duration(cfg.GetInt(config.KeyAIJimengTimeout)) * time.Second

	local := NewLocalChannel(LocalConfig{
		BaseURLs: BuildLocalBaseURLs(
			cfg.GetString(config.KeyAIJimengLocalBaseURLs),
			cfg.GetString(config.KeyAIJimengLocalBaseURL),
			runningInDocker(),
		),
		Endpoint:   cfg.GetString(config.KeyAIJimengLocalEndpoint),
		Model:      cfg.GetString(config.KeyAIJimengLocalModel),
		Token:      cfg.GetString(config.KeyAIJimengLocalToken),
		Ratio:      cfg.GetString(config.KeyAIJimengLocalRatio),
		Resolution: cfg.GetString(config.KeyAIJimengLocalResolution),
		SendExtra:  cfg.GetBool(config.KeyAIJimengLocalSendExtra),
		Timeout:    timeout,
	}, logger)

	remote := NewRemoteChannel(RemoteConfig{
		Endpoint:   cfg.GetString(config.KeyAIJimengRemoteEndpoint),
		AccessKey:  cfg.GetString(config.KeyAIJimengAccessKey),
		SecretKey:  cfg.GetString(config.KeyAIJimengSecretKey),
		ReqKeys:    BuildReqKeys(cfg.GetString(config.KeyAIJimengReqKey), cfg.GetString(config.KeyAIJimengFallbackReqKeys)),
		Scale:      cfg.GetFloat(config.KeyAIJimengScale),
		MaxRetries: cfg.GetInt(config.KeyAIJimengMaxRetries),
	}, logger)

	return NewServiceWithChannels(cfg.GetString(config.KeyAIJimengChannel), local, remote)
}

func NewServiceWithChannels(channel string, local *LocalChannel, remote *RemoteChannel) *Service {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel != ChannelAPI {
		channel = ChannelLocal
	}
	return &Service{channel: channel, local: local, remote: remote}
}

func joinNotices(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "；")
}

// Generate 返回图片地址与给用户看的说明
func (s *Service) Generate(ctx context.Context, prompts []string) ([]string, string) {
	if len(prompts) == 0 {
		return nil, ""
	}
	if s.channel == ChannelAPI {
		return s.remote.Generate(ctx, prompts)
	}

	urls, localNotice, reachable := s.local.Generate(ctx, prompts)
	if len(urls) > 0 {
		return urls, localNotice
	}
	if reachable {
		return nil, localNotice
	}

	apiURLs, apiNotice := s.remote.Generate(ctx, prompts)
	if len(apiURLs) > 0 {
		fallback := "local 通道不可用，已自动回退 AK/SK 通道"
		if localNotice != "" {
			fallback += "（" + localNotice + "）"
		}
		return apiURLs, joinNotices(fallback, apiNotice)
	}
	merged := joinNotices(localNotice, apiNotice)
	if merged == "" {
		merged = "即梦生图不可用，已返回配图提示词"
	}
	return nil, merged
}
