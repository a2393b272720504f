/*
 * @Description: AI 创作落库队列与后台 worker
 * @Author: 安知鱼
 * @Date: 2026-02-16 14:08:51
 * @LastEditTime: 2026-03-04 22:31:07
 * @LastEditors: 安知鱼
 */
package composequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
)

const (
	msgQueued     = "任务已进入队列"
	msgProcessing = "任务处理中"
	msgGenerating = "正在生成正文"
	msgIllustrate = "正在生成配图"
	msgDone       = "任务完成"
	msgFailed     = "任务失败"

	errorMsgLimit     = 2000
	settleTimeout     = 10 * time.Second
	defaultImageCount = 2
	defaultListLimit  = 30
)

// Options worker 配置
type Options struct {
	Workers   int
	BatchSize int
	IdleSleep time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:   cfg.GetIntClamped(config.KeyAIComposeQueueWorkers, 1, 8),
		BatchSize: cfg.GetIntClamped(config.KeyAIComposeQueueBatchSize, 1, 20),
		IdleSleep: cfg.GetSeconds(config.KeyAIComposeQueueIdleSleep),
	}
}

func (o Options) normalize() Options {
	o.Workers = max(1, o.Workers)
	o.BatchSize = max(1, o.BatchSize)
	o.IdleSleep = max(100*time.Millisecond, min(o.IdleSleep, time.Minute))
	return o
}

// Queue 依赖的仓储集合
type Queue struct {
	repos    repository.Repositories
	guard    *quota.Guard
	composer *compose.Service
	journal  *draft.Journal
	notices  notice.Service
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

// NewQueue notices 可以为空
func NewQueue(repos repository.Repositories, guard *quota.Guard, composer *compose.Service, journal *draft.Journal, notices notice.Service, opts Options) *Queue {
	return &Queue{
		repos:    repos,
		guard:    guard,
		composer: composer,
		journal:  journal,
		notices:  notices,
		opts:     opts.normalize(),
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "compose_queue"),
	}
}

// Enqueue 写入一条 pending 任务，文章必须属于该用户
func (q *Queue) Enqueue(ctx context.Context, ownerID, articleID, mode string, request map[string]interface{}) (*model.ComposeJob, error) {
	ownerID = strings.TrimSpace(ownerID)
	articleID = strings.TrimSpace(articleID)
	mode = strings.ToLower(strings.TrimSpace(mode))
	if !model.ValidComposeMode(mode) {
		return nil, fmt.Errorf("不支持的创作模式 %q: %w", mode, constant.ErrBadRequest)
	}
	if _, err := q.loadArticle(ctx, ownerID, articleID); err != nil {
		return nil, err
	}
	if request == nil {
		request = map[string]interface{}{}
	}
	job := &model.ComposeJob{
		OwnerID:   ownerID,
		ArticleID: articleID,
		Mode:      mode,
		Request:   model.JSONMap(request),
		Status:    model.JobStatusPending,
		StatusMsg: msgQueued,
		Result:    model.JSONMap{},
	}
	if err := q.repos.ComposeJob.Create(ctx, job); err != nil {
		return nil, err
	}
	q.logger.Info("创作任务已入队", "job_id", job.ID, "owner_id", ownerID, "mode", mode)
	return job, nil
}

func (q *Queue) Get(ctx context.Context, ownerID, id string) (*model.ComposeJob, error) {
	return q.repos.ComposeJob.Get(ctx, ownerID, id)
}

func (q *Queue) List(ctx context.Context, ownerID string, statuses []string, limit int) ([]*model.ComposeJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return q.repos.ComposeJob.List(ctx, ownerID, normalizeStatuses(statuses), limit)
}

func (q *Queue) Count(ctx context.Context, ownerID string, statuses []string) (int, error) {
	return q.repos.ComposeJob.Count(ctx, ownerID, normalizeStatuses(statuses))
}

func normalizeStatuses(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (q *Queue) loadArticle(ctx context.Context, ownerID, articleID string) (*model.Article, error) {
	a, err := q.repos.Article.FindByID(ctx, ownerID, articleID)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return nil, fmt.Errorf("文章不存在: %w", constant.ErrNotFound)
		}
		return nil, err
	}
	if a.Status == model.ArticleStatusDeleted {
		return nil, fmt.Errorf("文章不存在: %w", constant.ErrNotFound)
	}
	return a, nil
}

// Run 启动 worker，阻塞到 ctx 结束。启动前把上次停机遗留的 processing 任务放回队列
func (q *Queue) Run(ctx context.Context) error {
	if n, err := q.repos.ComposeJob.RequeueStale(ctx, msgQueued, q.now()); err != nil {
		q.logger.Error("恢复中断的创作任务失败", "error", err)
	} else if n > 0 {
		q.logger.Warn("已恢复上次中断的创作任务", "count", n)
	}
	q.logger.Info("AI 创作队列 worker 已启动", "workers", q.opts.Workers, "batch", q.opts.BatchSize)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		worker := i + 1
		g.Go(func() error {
			q.workerLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		handled, err := q.ProcessPending(ctx, q.opts.BatchSize)
		if err != nil {
			q.logger.Error("AI 创作队列 worker 异常", "worker", worker, "error", err)
		}
		if handled > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.opts.IdleSleep):
		}
	}
}

// ProcessPending 按创建时间取一批 pending 任务依次处理，返回实际处理的数量
func (q *Queue) ProcessPending(ctx context.Context, limit int) (int, error) {
	jobs, err := q.repos.ComposeJob.ListPending(ctx, max(1, limit))
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := q.Process(ctx, job); errors.Is(err, constant.ErrTaskStateChanged) {
			continue
		}
		handled++
	}
	return handled, nil
}

// Process 抢占并执行一条任务，抢占失败返回 ErrTaskStateChanged
func (q *Queue) Process(ctx context.Context, job *model.ComposeJob) error {
	if model.IsTerminalJobStatus(job.Status) {
		return nil
	}
	ok, err := q.repos.ComposeJob.Claim(ctx, job.ID, msgProcessing, q.now())
	if err != nil {
		return err
	}
	if !ok {
		return constant.ErrTaskStateChanged
	}

	result, runErr := q.safeRun(ctx, job)

	// 收尾写库不受 ctx 取消影响，否则停机时任务会一直停在 processing
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if runErr != nil && ctx.Err() != nil {
		if _, err := q.repos.ComposeJob.Requeue(sctx, job.ID, msgQueued); err != nil {
			return err
		}
		q.logger.Warn("创作任务被中断，已放回队列", "job_id", job.ID, "owner_id", job.OwnerID, "error", runErr)
		return runErr
	}
	if runErr == nil {
		if _, err := q.repos.ComposeJob.Finish(sctx, job.ID, model.JobStatusSuccess, msgDone, "", result, q.now()); err != nil {
			return err
		}
		q.logger.Info("创作任务完成", "job_id", job.ID, "owner_id", job.OwnerID)
		return nil
	}

	message := strutil.Clip(strings.TrimSpace(runErr.Error()), errorMsgLimit)
	if message == "" {
		message = msgFailed
	}
	q.logger.Warn("创作任务失败", "job_id", job.ID, "owner_id", job.OwnerID, "error", message)
	if _, err := q.repos.ComposeJob.Finish(sctx, job.ID, model.JobStatusFailed, msgFailed, message, nil, q.now()); err != nil {
		return err
	}
	return runErr
}

func (q *Queue) safeRun(ctx context.Context, job *model.ComposeJob) (result model.JSONMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("创作任务发生 panic", "job_id", job.ID, "panic", r)
			err = fmt.Errorf("系统异常: %v", r)
		}
	}()
	return q.run(ctx, job)
}

// requestOptions 从请求体中解析创作参数
func requestOptions(req model.JSONMap) (compose.Options, string, bool) {
	opts := compose.Options{
		Platform:   stringValue(req, "platform"),
		Style:      stringValue(req, "style"),
		Length:     stringValue(req, "length"),
		ImageCount: defaultImageCount,
		Audience:   stringValue(req, "audience"),
		Tone:       stringValue(req, "tone"),
	}
	if n, ok := intValue(req["image_count"]); ok && n > 0 {
		opts.ImageCount = n
	}
	generate := true
	if v, ok := req["generate_images"].(bool); ok {
		generate = v
	}
	return opts.Normalize(), stringValue(req, "instruction"), generate
}

func stringValue(m model.JSONMap, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (q *Queue) run(ctx context.Context, job *model.ComposeJob) (model.JSONMap, error) {
	article, err := q.loadArticle(ctx, job.OwnerID, job.ArticleID)
	if err != nil {
		return nil, errors.New("文章不存在")
	}
	user, err := q.repos.User.FindByOwner(ctx, job.OwnerID)
	if err != nil {
		return nil, errors.New("用户不存在")
	}

	opts, instruction, generate := requestOptions(job.Request)
	requested := 0
	if job.Mode == model.ComposeModeCreate && generate {
		requested = opts.ImageCount
	}
	if !generate {
		opts.ImageCount = 0
	}
	if _, err := q.guard.Validate(ctx, user, job.Mode, requested, false); err != nil {
		return nil, err
	}
	if _, err := q.guard.CheckDaily(ctx, job.OwnerID); err != nil {
		return nil, err
	}

	var profile *model.AIProfile
	if p, err := q.repos.Profile.FindByOwner(ctx, job.OwnerID); err == nil {
		profile = p
	}

	_ = q.repos.ComposeJob.UpdateProgress(ctx, job.ID, msgGenerating)
	res, err := q.composer.Generate(ctx, compose.Request{
		Mode:        job.Mode,
		Title:       article.Title,
		Content:     article.SourceText(),
		Instruction: instruction,
		Options:     opts,
		Profile:     profile,
	})
	if err != nil {
		return nil, err
	}
	if requested > 0 {
		_ = q.repos.ComposeJob.UpdateProgress(ctx, job.ID, msgIllustrate)
	}
	q.composer.Illustrate(ctx, job.Mode, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = "AI 创作草稿"
	}
	d, err := q.journal.Append(job.OwnerID, draft.Entry{
		ArticleID: article.ID,
		Title:     title,
		Content:   res.Content,
		Platform:  res.Options.Platform,
		Mode:      job.Mode,
		Metadata: map[string]interface{}{
			"digest":      "",
			"author":      "",
			"cover_url":   compose.ExtractFirstImageURL(res.Content),
			"instruction": instruction,
			"options":     res.Options.ToMap(),
			"source":      "compose_queue",
		},
	})
	if err != nil {
		return nil, err
	}

	daily, err := q.guard.Consume(ctx, user, len(res.Images))
	if err != nil {
		return nil, err
	}

	out := model.JSONMap(res.ResultMap())
	out["article_id"] = article.ID
	out["mode"] = job.Mode
	out["source_title"] = article.Title
	out["plan"] = quota.SummaryOf(user)
	out["daily_ai"] = daily
	out["local_draft"] = d
	if q.notices != nil {
		q.notices.Notify(ctx, job.OwnerID, "AI创作完成："+title, strutil.Clip(res.Content, 200), model.NoticeTypeCompose, job.ID)
	}
	return out, nil
}
