package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/publishqueue"
)

// PublishRetryJob 处理全部用户到期的投递重试
type PublishRetryJob struct {
	queue  RetryProcessor
	logger *slog.Logger
}

func NewPublishRetryJob(queue RetryProcessor, logger *slog.Logger) *PublishRetryJob {
	return &PublishRetryJob{queue: queue, logger: logger}
}

func (j *PublishRetryJob) Name() string { return "PublishRetryJob" }

func (j *PublishRetryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	res, err := j.queue.ProcessDue(ctx, "", publishqueue.DefaultBatch)
	if err != nil {
		j.logger.Error("处理投递重试失败", slog.Any("error", err))
		return
	}
	if res.Total > 0 {
		j.logger.Info("投递重试处理完成", "total", res.Total, "success", res.Success, "failed", res.Failed)
	}
}
