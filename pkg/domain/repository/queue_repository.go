/*
 * @Description: 两个落库队列共用的抢占语义：WHERE id=? AND status='pending'
 * @Author: 安知鱼
 * @Date: 2026-02-16 11:48:30
 * @LastEditTime: 2026-03-02 21:37:12
 * @LastEditors: 安知鱼
 */
package repository

import (
	"context"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

// ComposeJobRepository AI 创作队列
type ComposeJobRepository interface {
	Create(ctx context.Context, job *model.ComposeJob) error
	Get(ctx context.Context, ownerID, id string) (*model.ComposeJob, error)
	ListPending(ctx context.Context, limit int) ([]*model.ComposeJob, error)
	// Claim pending → processing，返回是否抢占成功
	Claim(ctx context.Context, id, statusMsg string, now time.Time) (bool, error)
	// UpdateProgress 仅在 processing 状态下更新 status_msg
	UpdateProgress(ctx context.Context, id, statusMsg string) error
	// Finish processing → success/failed，终态不会被覆盖
	Finish(ctx context.Context, id, status, statusMsg, errorMsg string, result model.JSONMap, now time.Time) (bool, error)
	// Requeue processing → pending，停机时被中断的任务放回队列
	Requeue(ctx context.Context, id, statusMsg string) (bool, error)
	// RequeueStale 把 startedBefore 之前抢占、仍处于 processing 的任务全部放回队列
	RequeueStale(ctx context.Context, statusMsg string, startedBefore time.Time) (int, error)
	List(ctx context.Context, ownerID string, statuses []string, limit int) ([]*model.ComposeJob, error)
	Count(ctx context.Context, ownerID string, statuses []string) (int, error)
}

// PublishRecordRepository 公众号投递重试队列
type PublishRecordRepository interface {
	Create(ctx context.Context, record *model.PublishRecord) error
	Get(ctx context.Context, ownerID, id string) (*model.PublishRecord, error)
	// ListDue ownerID 为空时不按用户过滤
	ListDue(ctx context.Context, ownerID string, now time.Time, limit int) ([]*model.PublishRecord, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	// Settle 在一条 UPDATE 中写入状态、重试次数与下次时间
	Settle(ctx context.Context, id, status string, retries int, next *time.Time, lastError, lastResponse string, now time.Time) error
}
