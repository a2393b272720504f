package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
)

// SubscriptionSweepJob 把套餐已到期的用户降为免费版
type SubscriptionSweepJob struct {
	sweeper Sweeper
	notices notice.Service
	logger  *slog.Logger
}

func NewSubscriptionSweepJob(sweeper Sweeper, notices notice.Service, logger *slog.Logger) *SubscriptionSweepJob {
	return &SubscriptionSweepJob{sweeper: sweeper, notices: notices, logger: logger}
}

func (j *SubscriptionSweepJob) Name() string { return "SubscriptionSweepJob" }

func (j *SubscriptionSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res, err := j.sweeper.SweepExpired(ctx, 0)
	if err != nil {
		j.logger.Error("套餐到期降级失败", slog.Any("error", err))
		return
	}
	if res.Total == 0 {
		return
	}
	j.logger.Info("套餐到期降级完成", "total", res.Total)
	if j.notices == nil {
		return
	}
	for _, owner := range res.Users {
		j.notices.Notify(ctx, owner, "套餐已到期", "您的套餐已到期，已自动切换为免费版，续费后恢复原有额度", model.NoticeTypeBilling, "")
	}
}
