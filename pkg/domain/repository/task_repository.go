package repository

import (
	"context"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// TaskRepository 定时任务仓储
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	FindByID(ctx context.Context, id string) (*model.Task, error)
	// ListActive ownerID 为空时返回全部用户的启用任务
	ListActive(ctx context.Context, ownerID string) ([]*model.Task, error)
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	UpdatePolicy(ctx context.Context, ownerID, id string, policy model.TaskPolicy) error
}

// TaskLogRepository 任务执行日志
type TaskLogRepository interface {
	Create(ctx context.Context, log *model.TaskLog) error
	ListByTask(ctx context.Context, ownerID, taskID string, limit int) ([]*model.TaskLog, error)
}
