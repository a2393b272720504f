/*
 * @Description: 站内信与系统 webhook 通知
 * @Author: 安知鱼
 * @Date: 2025-10-12
 * @LastEditTime: 2026-03-05 14:22:48
 * @LastEditors: 安知鱼
 */
package notice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

const (
	titleLimit = 300
	typeLimit  = 32
	refLimit   = 255
)

// Service 通知服务接口
type Service interface {
	// Notify 写入一条站内信，失败只记录日志
	Notify(ctx context.Context, ownerID, title, content, noticeType, refID string) *model.Notice
	List(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error)
	MarkRead(ctx context.Context, ownerID, id string) error
	CountUnread(ctx context.Context, ownerID string) (int, error)

	// System 推送到管理员配置的全部 webhook
	System(ctx context.Context, title, text, tag string)
}

type noticeService struct {
	repo     repository.NoticeRepository
	webhooks Webhooks
	sender   *Sender
	bus      *event.EventBus
	logger   *slog.Logger
}

// Option 通知服务的可选配置
type Option func(*noticeService)

// WithEventBus 写入成功后发布 NoticeCreated 事件
func WithEventBus(bus *event.EventBus) Option {
	return func(s *noticeService) { s.bus = bus }
}

// NewNoticeService 创建通知服务
func NewNoticeService(repo repository.NoticeRepository, webhooks Webhooks, sender *Sender, opts ...Option) Service {
	if sender == nil {
		sender = NewSender(nil)
	}
	s := &noticeService{
		repo:     repo,
		webhooks: webhooks,
		sender:   sender,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "notice"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *noticeService) Notify(ctx context.Context, ownerID, title, content, noticeType, refID string) *model.Notice {
	if noticeType == "" {
		noticeType = model.NoticeTypeTask
	}
	n := &model.Notice{
		ID:         uuid.NewString(),
		OwnerID:    strings.TrimSpace(ownerID),
		Title:      strutil.Clip(title, titleLimit),
		Content:    content,
		NoticeType: strutil.Clip(noticeType, typeLimit),
		RefID:      strutil.Clip(refID, refLimit),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("创建站内信失败", "owner_id", ownerID, "title", strutil.Clip(title, 100), "error", err)
		return nil
	}
	s.logger.Info("站内信已创建", "owner_id", ownerID, "type", n.NoticeType, "title", strutil.Clip(title, 100))
	if s.bus != nil {
		s.bus.Publish(event.NoticeCreated, n)
	}
	return n
}

func (s *noticeService) List(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByOwner(ctx, ownerID, unreadOnly, limit)
}

func (s *noticeService) MarkRead(ctx context.Context, ownerID, id string) error {
	return s.repo.MarkRead(ctx, ownerID, id)
}

func (s *noticeService) CountUnread(ctx context.Context, ownerID string) (int, error) {
	return s.repo.CountUnread(ctx, ownerID)
}

func (s *noticeService) System(ctx context.Context, title, text, tag string) {
	if tag == "" {
		tag = "系统通知"
	}
	md := fmt.Sprintf("### %s %s\n%s", title, tag, text)
	for _, target := range s.webhooks.targets() {
		if err := s.sender.Post(ctx, target.url, target.kind, title, md); err != nil {
			s.logger.Warn("系统通知发送失败", "kind", target.kind, "error", err)
		}
	}
}
