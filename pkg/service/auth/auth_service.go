/*
 * @Description: 平台授权：公众号后台登录态、开发者凭据与 CSDN 浏览器登录态
 * @Author: 安知鱼
 * @Date: 2025-08-22 12:41:16
 * @LastEditTime: 2026-03-03 19:26:44
 * @LastEditors: 安知鱼
 */
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/crawler"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/csdn"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/wechat"
)

// AuthService 定义了各平台授权相关的业务逻辑接口
type AuthService interface {
	// WechatSession 抓取用的 cookie/token，缺失或过期返回 ErrAuthMissing
	WechatSession(ctx context.Context, ownerID string) (crawler.Credentials, error)
	SaveWechatSession(ctx context.Context, auth *model.WechatAuth) error
	// ProbeWechat 探测登录态，确认失效时清空本地凭证
	ProbeWechat(ctx context.Context, ownerID string) (model.ProbeResult, error)

	// OpenAPICredentials 草稿箱投递用的 AppID/AppSecret
	OpenAPICredentials(ctx context.Context, ownerID string) (wechat.Credentials, error)
	SaveOpenAPICredentials(ctx context.Context, ownerID, appID, appSecret string) error

	// CSDNSession 返回可用的 storage state，缺失或已失效返回 ErrCSDNNeedsReauth
	CSDNSession(ctx context.Context, ownerID string) (string, error)
	SaveCSDNSession(ctx context.Context, ownerID, storageState, username string) error
	ExpireCSDNSession(ctx context.Context, ownerID string) error
}

type authService struct {
	users     repository.UserRepository
	wechat    repository.WechatAuthRepository
	csdn      repository.CSDNAuthRepository
	prober    *wechat.Prober
	userAgent string
	now       func() time.Time
	logger    *slog.Logger
}

// NewAuthService 是 authService 的构造函数
func NewAuthService(
	users repository.UserRepository,
	wechatRepo repository.WechatAuthRepository,
	csdnRepo repository.CSDNAuthRepository,
	prober *wechat.Prober,
	userAgent string,
) AuthService {
	return &authService{
		users:     users,
		wechat:    wechatRepo,
		csdn:      csdnRepo,
		prober:    prober,
		userAgent: userAgent,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "auth"),
	}
}

func (s *authService) loadWechat(ctx context.Context, ownerID string) (*model.WechatAuth, error) {
	a, err := s.wechat.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return nil, constant.ErrAuthMissing
		}
		return nil, fmt.Errorf("读取公众号授权失败: %w", err)
	}
	if !a.Usable() {
		return nil, constant.ErrAuthMissing
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(s.now()) {
		return nil, constant.ErrAuthMissing
	}
	return a, nil
}

func (s *authService) WechatSession(ctx context.Context, ownerID string) (crawler.Credentials, error) {
	a, err := s.loadWechat(ctx, ownerID)
	if err != nil {
		return crawler.Credentials{}, err
	}
	return crawler.Credentials{Token: a.Token, Cookie: a.Cookie, UserAgent: s.userAgent}, nil
}

func (s *authService) SaveWechatSession(ctx context.Context, a *model.WechatAuth) error {
	if a == nil || strings.TrimSpace(a.OwnerID) == "" {
		return constant.ErrBadRequest
	}
	a.Token = strings.TrimSpace(a.Token)
	a.Cookie = strings.TrimSpace(a.Cookie)
	a.RawJSON = strutil.Clip(a.RawJSON, model.WechatRawLimit)
	a.UpdatedAt = s.now()
	return s.wechat.Save(ctx, a)
}

func (s *authService) ProbeWechat(ctx context.Context, ownerID string) (model.ProbeResult, error) {
	a, err := s.loadWechat(ctx, ownerID)
	if err != nil {
		if errors.Is(err, constant.ErrAuthMissing) {
			return model.ProbeResult{Status: model.ProbeInvalid, Message: "未找到可用授权"}, nil
		}
		return model.ProbeResult{Status: model.ProbeUnknown, Message: err.Error()}, err
	}
	res := s.prober.Probe(ctx, a.Token, a.Cookie)
	if res.Status != model.ProbeInvalidCleared {
		return res, nil
	}
	if err := s.wechat.ClearCredentials(ctx, ownerID); err != nil {
		s.logger.Error("清空失效授权失败", "owner_id", ownerID, "error", err)
		return res, fmt.Errorf("清空失效授权失败: %w", err)
	}
	s.logger.Warn("公众号登录态已失效，已清除本地授权", "owner_id", ownerID)
	return res, nil
}

func (s *authService) OpenAPICredentials(ctx context.Context, ownerID string) (wechat.Credentials, error) {
	u, err := s.users.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return wechat.Credentials{}, constant.ErrOpenAPICredentialsMissing
		}
		return wechat.Credentials{}, err
	}
	if !u.HasOpenAPICredentials() {
		return wechat.Credentials{}, constant.ErrOpenAPICredentialsMissing
	}
	return wechat.Credentials{AppID: strings.TrimSpace(u.WechatAppID), AppSecret: strings.TrimSpace(u.WechatAppSecret)}, nil
}

func (s *authService) SaveOpenAPICredentials(ctx context.Context, ownerID, appID, appSecret string) error {
	appID, appSecret = strings.TrimSpace(appID), strings.TrimSpace(appSecret)
	if (appID == "") != (appSecret == "") {
		return fmt.Errorf("AppID 与 AppSecret 需要同时填写: %w", constant.ErrBadRequest)
	}
	return s.users.UpdateOpenAPICredentials(ctx, ownerID, appID, appSecret)
}

func (s *authService) CSDNSession(ctx context.Context, ownerID string) (string, error) {
	a, err := s.csdn.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return "", constant.ErrCSDNNeedsReauth
		}
		return "", fmt.Errorf("读取 CSDN 登录态失败: %w", err)
	}
	if a.Status != model.CSDNStatusValid || strings.TrimSpace(a.StorageState) == "" {
		return "", constant.ErrCSDNNeedsReauth
	}
	return a.StorageState, nil
}

// SaveCSDNSession 保存前先校验 storage state 至少包含一个 cookie
func (s *authService) SaveCSDNSession(ctx context.Context, ownerID, storageState, username string) error {
	if _, err := csdn.ParseStorageState(storageState); err != nil {
		return fmt.Errorf("%v: %w", err, constant.ErrBadRequest)
	}
	return s.csdn.Save(ctx, &model.CSDNAuth{
		OwnerID:      ownerID,
		StorageState: storageState,
		Status:       model.CSDNStatusValid,
		Username:     strings.TrimSpace(username),
		UpdatedAt:    s.now(),
	})
}

func (s *authService) ExpireCSDNSession(ctx context.Context, ownerID string) error {
	if err := s.csdn.MarkExpired(ctx, ownerID); err != nil && !errors.Is(err, constant.ErrNotFound) {
		return err
	}
	return nil
}
