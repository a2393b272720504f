/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-07-12 16:09:46
 * @LastEditTime: 2026-02-19 11:05:17
 * @LastEditors: 安知鱼
 */
// internal/app/task/jobs.go
package task

import (
	"context"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/pipeline"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/publishqueue"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
)

// 它与 cron.Job 接口兼容。
type Job interface {
	Run()
	Name() string
}

// Runner 执行一次任务触发
type Runner interface {
	Run(ctx context.Context, tick pipeline.Tick) *pipeline.Report
}

// RetryProcessor 处理到期的公众号投递重试
type RetryProcessor interface {
	ProcessDue(ctx context.Context, ownerID string, limit int) (publishqueue.Result, error)
}

// Sweeper 到期套餐降级
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (quota.SweepResult, error)
}

// ContentFetcher 补抓文章正文
type ContentFetcher interface {
	FetchArticleContent(ctx context.Context, articleURL string) (string, error)
}
