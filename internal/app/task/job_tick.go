package task

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/pipeline"
)

// triggerJob cron 触发后入队的轻量任务，在 worker 中读取任务和订阅源，再展开为 TickJob
type triggerJob struct {
	broker  *Broker
	key     string
	taskID  string
	ownerID string
}

func (j *triggerJob) Name() string { return "TaskTriggerJob" }

func (j *triggerJob) LogAttrs() []any {
	return []any{slog.String("task_id", j.taskID), slog.String("owner_id", j.ownerID)}
}

func (j *triggerJob) Run() {
	b := j.broker
	b.release(j.key)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	t, err := b.deps.Tasks.FindByID(ctx, j.taskID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			b.Unschedule(j.taskID)
		}
		b.logger.Warn("触发时读取任务失败", "task_id", j.taskID, "owner_id", j.ownerID, "error", err)
		return
	}
	if t.Status != model.TaskStatusActive {
		b.Unschedule(j.taskID)
		return
	}
	if _, err := b.enqueueTask(ctx, t); err != nil {
		b.logger.Warn("任务入队失败", "task_id", j.taskID, "error", err)
	}
}

// TickJob 一次任务触发。任务在执行时重新读取，保证 published_ids 是最新的
type TickJob struct {
	broker  *Broker
	key     string
	taskID  string
	ownerID string
	feeds   []*model.Feed
}

func (j *TickJob) Name() string { return "TaskTickJob" }

func (j *TickJob) LogAttrs() []any {
	return []any{slog.String("task_id", j.taskID), slog.String("owner_id", j.ownerID), slog.Int("feeds", len(j.feeds))}
}

// Run 同一任务的多次触发串行执行：拿不到执行权时交给正在执行的 worker，由它依次执行
func (j *TickJob) Run() {
	b := j.broker
	if !b.acquire(j) {
		b.logger.Info("同一任务正在执行，本次触发排在其后", "task_id", j.taskID, "key", j.key)
		return
	}
	for next := j; next != nil; next = b.handoff(j.taskID) {
		next.run()
	}
}

func (j *TickJob) run() {
	b := j.broker
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("任务执行发生 panic", "task_id", j.taskID, "panic", r, "stack_trace", string(debug.Stack()))
		}
	}()
	b.release(j.key)

	ctx := context.Background()
	t, err := b.deps.Tasks.FindByID(ctx, j.taskID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			b.logger.Warn("任务已删除，取消调度", "task_id", j.taskID)
			b.Unschedule(j.taskID)
			return
		}
		b.logger.Error("读取任务失败", "task_id", j.taskID, "error", err)
		return
	}
	if t.Status != model.TaskStatusActive {
		b.logger.Info("任务已停用，取消调度", "task_id", j.taskID)
		b.Unschedule(j.taskID)
		return
	}
	b.deps.Runner.Run(ctx, pipeline.Tick{Task: t, Feeds: j.feeds})
}
