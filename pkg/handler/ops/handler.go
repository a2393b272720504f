/*
 * @Description: 运维接口：健康检查、队列状态、任务重载与立即执行
 * @Author: 安知鱼
 * @Date: 2026-02-21 10:12:40
 * @LastEditTime: 2026-03-05 09:41:26
 * @LastEditors: 安知鱼
 */
package ops

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/task"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/response"
)

const (
	defaultPreviewRuns = 5
	maxPreviewRuns     = 20
	defaultLogLimit    = 20
	maxLogLimit        = 100
)

// Scheduler 由任务 broker 实现
type Scheduler interface {
	Reload(ctx context.Context, ownerID string) (int, error)
	RunNow(ctx context.Context, taskID string) (int, error)
	Stats() task.Stats
}

// ComposeCounter 创作队列计数
type ComposeCounter interface {
	Count(ctx context.Context, ownerID string, statuses []string) (int, error)
}

// Pinger 数据库连通性检查
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	scheduler Scheduler
	compose   ComposeCounter
	tasks     repository.TaskRepository
	taskLogs  repository.TaskLogRepository
	db        Pinger
	startedAt time.Time
}

// NewHandler compose 与 db 可以为空
func NewHandler(scheduler Scheduler, compose ComposeCounter, tasks repository.TaskRepository, taskLogs repository.TaskLogRepository, db Pinger) *Handler {
	return &Handler{
		scheduler: scheduler,
		compose:   compose,
		tasks:     tasks,
		taskLogs:  taskLogs,
		db:        db,
		startedAt: time.Now(),
	}
}

// Healthz 存活探针，数据库不可达时返回 503
func (h *Handler) Healthz(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			log.Printf("[Ops] 数据库健康检查失败: %v", err)
			response.Fail(c, http.StatusServiceUnavailable, "数据库不可用")
			return
		}
	}
	response.Success(c, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	}, "ok")
}

// QueueStats 调度队列与创作队列的快照
func (h *Handler) QueueStats(c *gin.Context) {
	data := gin.H{"broker": h.scheduler.Stats()}
	if h.compose != nil {
		owner := c.Query("owner_id")
		counts := gin.H{}
		for _, status := range []string{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusSuccess, model.JobStatusFailed} {
			n, err := h.compose.Count(c.Request.Context(), owner, []string{status})
			if err != nil {
				response.Fail(c, http.StatusInternalServerError, "统计创作队列失败: "+err.Error())
				return
			}
			counts[status] = n
		}
		data["compose"] = counts
	}
	response.Success(c, data, "获取队列状态成功")
}

// Reload 重新加载启用中的任务，owner_id 为空时重载全部
func (h *Handler) Reload(c *gin.Context) {
	owner := c.Query("owner_id")
	n, err := h.scheduler.Reload(c.Request.Context(), owner)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "重载任务失败: "+err.Error())
		return
	}
	response.Success(c, gin.H{"scheduled": n, "owner_id": owner}, "任务已重载")
}

// RunNow 立即执行一次任务，仍然遵守同一任务不重复入队的规则
func (h *Handler) RunNow(c *gin.Context) {
	id := c.Param("id")
	n, err := h.scheduler.RunNow(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	msg := "任务已加入执行队列"
	if n == 0 {
		msg = "任务已在队列中或没有可用的订阅源"
	}
	response.SuccessWithStatus(c, http.StatusAccepted, gin.H{"task_id": id, "queued": n}, msg)
}

// NextRuns 预览任务接下来的触发时间
func (h *Handler) NextRuns(c *gin.Context) {
	t, err := h.tasks.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	n := queryInt(c, "n", defaultPreviewRuns, maxPreviewRuns)
	runs, err := task.NextRuns(t.CronExpr, utils.NowInChina(), n)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Format("2006-01-02 15:04:05"))
	}
	response.Success(c, gin.H{"task_id": t.ID, "cron": t.CronExpr, "next_runs": out}, "ok")
}

// TaskLogs 最近的执行日志
func (h *Handler) TaskLogs(c *gin.Context) {
	t, err := h.tasks.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	logs, err := h.taskLogs.ListByTask(c.Request.Context(), t.OwnerID, t.ID, queryInt(c, "limit", defaultLogLimit, maxLogLimit))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, logs, "ok")
}

func queryInt(c *gin.Context, key string, def, upper int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, upper)
}

// fail 把业务错误映射为 HTTP 状态码
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, constant.ErrNotFound):
		response.Fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, constant.ErrBadRequest):
		response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, constant.ErrInvalidOperation):
		response.Fail(c, http.StatusConflict, err.Error())
	default:
		response.Fail(c, http.StatusInternalServerError, err.Error())
	}
}
