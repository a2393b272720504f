/*
 * @Description: 公众号草稿投递重试队列
 * @Author: 安知鱼
 * @Date: 2026-02-16 15:40:22
 * @LastEditTime: 2026-03-04 18:05:39
 * @LastEditors: 安知鱼
 */
package publishqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/auth"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/delivery"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
)

const (
	DefaultBatch = 20
	maxBackoff   = 30 * time.Minute
)

// Backoff 第 n 次失败后的等待时间：min(30 分钟, 2^n 分钟)
func Backoff(retries int) time.Duration {
	retries = max(1, retries)
	if retries >= 5 {
		return maxBackoff
	}
	return min(maxBackoff, time.Duration(1<<retries)*time.Minute)
}

// ClampMaxRetries 限制在 1..8，非正数取默认 3
func ClampMaxRetries(n int) int {
	if n <= 0 {
		return model.DefaultPublishMaxRetries
	}
	return min(n, model.MaxPublishMaxRetries)
}

type Queue struct {
	records repository.PublishRecordRepository
	auth    auth.AuthService
	adapter delivery.PlatformAdapter
	journal *draft.Journal
	notices notice.Service
	now     func() time.Time
	logger  *slog.Logger
}

// NewQueue journal 与 notices 可以为空
func NewQueue(records repository.PublishRecordRepository, authSvc auth.AuthService, adapter delivery.PlatformAdapter, journal *draft.Journal, notices notice.Service) *Queue {
	return &Queue{
		records: records,
		auth:    authSvc,
		adapter: adapter,
		journal: journal,
		notices: notices,
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "publish_queue"),
	}
}

// Enqueue 写入一条立即到期的 pending 记录
func (q *Queue) Enqueue(ctx context.Context, ownerID, articleID, draftID string, article model.DeliveryArticle, maxRetries int) (*model.PublishRecord, error) {
	now := q.now()
	rec := &model.PublishRecord{
		OwnerID:       strings.TrimSpace(ownerID),
		ArticleID:     articleID,
		DraftID:       draftID,
		Payload:       delivery.PayloadFromArticle(article),
		Status:        model.JobStatusPending,
		MaxRetries:    ClampMaxRetries(maxRetries),
		NextAttemptAt: &now,
		CreatedAt:     now,
	}
	if err := q.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	q.logger.Info("草稿投递已进入重试队列", "record_id", rec.ID, "owner_id", rec.OwnerID, "title", strutil.Clip(article.Title, 60))
	return rec, nil
}

func (q *Queue) Get(ctx context.Context, ownerID, id string) (*model.PublishRecord, error) {
	return q.records.Get(ctx, ownerID, id)
}

// Detail 单条记录的处理结果
type Detail struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Result 一轮处理的汇总
type Result struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Details []Detail `json:"details"`
}

// ProcessDue 处理到期的记录，ownerID 为空时处理全部用户
func (q *Queue) ProcessDue(ctx context.Context, ownerID string, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultBatch
	}
	due, err := q.records.ListDue(ctx, ownerID, q.now(), limit)
	if err != nil {
		return Result{}, fmt.Errorf("读取到期投递记录失败: %w", err)
	}
	res := Result{}
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := q.records.Claim(ctx, rec.ID, q.now())
		if err != nil {
			q.logger.Error("抢占投递记录失败", "record_id", rec.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		res.Total++
		d := q.attempt(ctx, rec)
		if d.Status == model.JobStatusSuccess {
			res.Success++
		} else {
			res.Failed++
		}
		res.Details = append(res.Details, d)
	}
	return res, nil
}

func (q *Queue) submit(ctx context.Context, rec *model.PublishRecord) *model.DeliveryOutcome {
	creds, err := q.auth.OpenAPICredentials(ctx, rec.OwnerID)
	if err != nil {
		return &model.DeliveryOutcome{Kind: model.OutcomeAuthFailure, Message: err.Error(), Err: err}
	}
	target := delivery.Target{OwnerID: rec.OwnerID, Wechat: creds}
	return q.adapter.Submit(ctx, target, []model.DeliveryArticle{delivery.ArticleFromPayload(rec.Payload)})
}

func responseText(out *model.DeliveryOutcome) string {
	if out.Response != "" {
		return out.Response
	}
	raw, _ := json.Marshal(map[string]interface{}{"kind": out.Kind, "media_id": out.MediaID, "warnings": out.Warnings})
	return string(raw)
}

// attempt 状态变更与重试计数在同一条 UPDATE 中提交
func (q *Queue) attempt(ctx context.Context, rec *model.PublishRecord) Detail {
	out := q.submit(ctx, rec)
	now := q.now()
	resp := strutil.Clip(responseText(out), model.PublishResponseLimit)

	if out.OK() {
		if err := q.records.Settle(ctx, rec.ID, model.JobStatusSuccess, rec.Retries, nil, "", resp, now); err != nil {
			q.logger.Error("更新投递记录失败", "record_id", rec.ID, "error", err)
		}
		q.markDraft(rec, model.DeliveryStatusSuccess, "草稿投递成功", out)
		return Detail{ID: rec.ID, Status: model.JobStatusSuccess, Message: "草稿投递成功"}
	}

	retries := rec.Retries + 1
	message := strutil.Clip(out.Message, model.PublishErrorLimit)
	status := model.JobStatusPending
	var next *time.Time
	if retries >= rec.MaxRetries {
		status = model.JobStatusFailed
	} else {
		t := now.Add(Backoff(retries))
		next = &t
	}
	if err := q.records.Settle(ctx, rec.ID, status, retries, next, message, resp, now); err != nil {
		q.logger.Error("更新投递记录失败", "record_id", rec.ID, "error", err)
	}
	q.logger.Warn("草稿投递失败", "record_id", rec.ID, "retries", retries, "max_retries", rec.MaxRetries, "status", status, "error", message)

	if status == model.JobStatusFailed {
		q.markDraft(rec, model.DeliveryStatusFailed, message, out)
		if q.notices != nil {
			content := fmt.Sprintf("《%s》已重试 %d 次仍未成功：%s", rec.Payload.Title, retries, message)
			q.notices.Notify(ctx, rec.OwnerID, "公众号草稿投递重试失败", content, model.NoticeTypeTask, rec.ID)
		}
	}
	return Detail{ID: rec.ID, Status: status, Message: message}
}

func (q *Queue) markDraft(rec *model.PublishRecord, status, message string, out *model.DeliveryOutcome) {
	if q.journal == nil || rec.DraftID == "" {
		return
	}
	extra := map[string]interface{}{"record_id": rec.ID}
	if out.MediaID != "" {
		extra["media_id"] = out.MediaID
	}
	_, err := q.journal.MarkDelivery(rec.OwnerID, rec.DraftID, draft.Delivery{
		Platform: model.PlatformWechatMP,
		Status:   status,
		Message:  message,
		Source:   draft.SourcePublishQueue,
		Extra:    extra,
	})
	if err != nil {
		q.logger.Warn("回写草稿投递状态失败", "draft_id", rec.DraftID, "error", err)
	}
}
