/*
 * @Description: 定时任务的单次执行流程：抓取、挑选、创作、投递、记录
 * @Author: 安知鱼
 * @Date: 2026-02-18 09:40:12
 * @LastEditTime: 2026-03-05 11:02:36
 * @LastEditors: 安知鱼
 */
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/crawler"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/auth"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/delivery"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
)

// 失败原因，写入 Report.Reasons
const (
	ReasonAuthMissing       = "auth_missing"
	ReasonCrawlFailed       = "crawl_failed"
	ReasonOpenAPIMissing    = "auth_openapi_missing"
	ReasonWaitingForContent = "waiting_for_content"
	ReasonAllConsumed       = "all_consumed"
	ReasonNoCandidates      = "no_candidates"
	ReasonComposeFailed     = "compose_failed"
	ReasonDeliveryFailed    = "delivery_failed"
	ReasonCSDNNeedsReauth   = "csdn_needs_reauth"
	ReasonPersistFailed     = "persist_failed"
	ReasonPanic             = "panic"
)

const (
	notifyTailLines = 5
	timeLayout      = "2006-01-02 15:04:05"
	composeLength   = "medium"
)

// Crawler 抓取一个订阅源
type Crawler interface {
	Crawl(ctx context.Context, creds crawler.Credentials, feed *model.Feed) ([]crawler.Entry, error)
}

// WechatDelivery 公众号草稿投递，成功后可选提交群发
type WechatDelivery interface {
	delivery.PlatformAdapter
	Publish(ctx context.Context, target delivery.Target, mediaID string) (string, error)
}

// RetryQueue 瞬时失败的公众号投递进入重试队列
type RetryQueue interface {
	Enqueue(ctx context.Context, ownerID, articleID, draftID string, article model.DeliveryArticle, maxRetries int) (*model.PublishRecord, error)
}

// Deps 流程依赖，Bus、Retry、CSDN 可以为空
type Deps struct {
	Repos      repository.Repositories
	Auth       auth.AuthService
	Crawler    Crawler
	Guard      *quota.Guard
	Composer   *compose.Service
	Journal    *draft.Journal
	Wechat     WechatDelivery
	CSDN       delivery.PlatformAdapter
	Retry      RetryQueue
	Notices    notice.Service
	Bus        *event.EventBus
	ImageCount int
	Observer   TickObserver
}

// TickObserver 接收每次执行的结果，用于导出指标
type TickObserver interface {
	ObserveTick(taskType string, rep *Report, elapsed time.Duration)
}

// ImageCountFromConfig 自动创作的配图数量
func ImageCountFromConfig(cfg *config.Config) int {
	return cfg.GetIntClamped(config.KeyAIPipelineImageCount, 0, compose.MaxImagePrompts)
}

type Pipeline struct {
	d      Deps
	now    func() time.Time
	logger *slog.Logger
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		d:      d,
		now:    utils.NowInChina,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("system", "pipeline"),
	}
}

// Tick 一次触发。抓取任务每个订阅源一次，发布任务一次覆盖全部订阅源
type Tick struct {
	Task  *model.Task
	Feeds []*model.Feed
}

func (t Tick) feedIDs() []string {
	ids := make([]string, 0, len(t.Feeds))
	for _, f := range t.Feeds {
		ids = append(ids, f.ID)
	}
	return ids
}

func (t Tick) feedNames() string {
	names := make([]string, 0, len(t.Feeds))
	for _, f := range t.Feeds {
		name := strings.TrimSpace(f.DisplayName)
		if name == "" {
			name = f.SourceID
		}
		names = append(names, name)
	}
	return strings.Join(names, "、")
}

// Report 一次执行的结果
type Report struct {
	UpdateCount int
	Failed      bool
	Reasons     []string
	Transcript  []string
	Log         *model.TaskLog
	// 本次实际处理的源文章，未处理时为空
	WechatArticleID string
	CSDNArticleID   string
}

func (r *Report) line(format string, args ...interface{}) {
	r.Transcript = append(r.Transcript, fmt.Sprintf(format, args...))
}

func (r *Report) fail(reason string) {
	r.Failed = true
	r.Reasons = append(r.Reasons, reason)
}

func (r *Report) note(reason string) {
	r.Reasons = append(r.Reasons, reason)
}

// HasReason 测试与监控用
func (r *Report) HasReason(reason string) bool {
	for _, item := range r.Reasons {
		if item == reason {
			return true
		}
	}
	return false
}

// Run 执行一次完整流程，总会写入一条执行日志
func (p *Pipeline) Run(ctx context.Context, tick Tick) *Report {
	task := tick.Task
	start := p.now()
	rep := &Report{}
	rep.line("任务开始: %s", start.Format(timeLayout))

	if task.IsPublish() {
		rep.line("发布任务，目标平台: %s", strings.Join(task.Policy.PublishPlatforms, ","))
		rep.line("发布来源: %s", tick.feedNames())
	} else {
		aborted := false
		p.guarded(rep, "抓取", func() {
			aborted = !p.crawl(ctx, tick, rep)
		})
		if aborted {
			return p.finish(ctx, tick, rep, start)
		}
	}

	policyChanged := false
	if task.WechatEnabled() {
		p.guarded(rep, "公众号自动创作", func() {
			if p.runWechat(ctx, tick, rep) {
				policyChanged = true
			}
		})
	}
	if task.CSDNEnabled() && p.d.CSDN != nil {
		p.guarded(rep, "CSDN推送", func() {
			if p.runCSDN(ctx, tick, rep) {
				policyChanged = true
			}
		})
	}
	if policyChanged {
		if err := p.d.Repos.Task.UpdatePolicy(ctx, task.OwnerID, task.ID, task.Policy); err != nil {
			p.logger.Error("保存已投递文章失败", "task_id", task.ID, "error", err)
			rep.line("保存已投递记录失败: %v", err)
			rep.fail(ReasonPersistFailed)
		}
	}
	return p.finish(ctx, tick, rep, start)
}

// guarded 单个步骤 panic 只影响本步骤
func (p *Pipeline) guarded(rep *Report, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("任务步骤发生 panic", "step", step, "panic", r)
			rep.line("%s异常: %v", step, r)
			rep.fail(ReasonPanic)
		}
	}()
	fn()
}

// crawl 返回 false 表示缺少授权，后续步骤跳过
func (p *Pipeline) crawl(ctx context.Context, tick Tick, rep *Report) bool {
	task := tick.Task
	var creds crawler.Credentials
	needsSession := false
	for _, f := range tick.Feeds {
		if !f.IsRSS() {
			needsSession = true
			break
		}
	}
	if needsSession {
		c, err := p.d.Auth.WechatSession(ctx, task.OwnerID)
		if err != nil {
			if errors.Is(err, constant.ErrAuthMissing) {
				rep.line("授权无效，跳过抓取")
			} else {
				rep.line("读取授权失败: %v", err)
			}
			rep.fail(ReasonAuthMissing)
			return false
		}
		creds = c
	}

	for _, feed := range tick.Feeds {
		entries, err := p.d.Crawler.Crawl(ctx, creds, feed)
		if err != nil {
			p.logger.Warn("订阅源抓取失败", "task_id", task.ID, "feed_id", feed.ID, "error", err)
			rep.line("抓取失败 %s: %v", feed.DisplayName, err)
			rep.fail(ReasonCrawlFailed)
			continue
		}
		var created []*model.Article
		var latest int64
		for _, e := range entries {
			article := e.ToArticle(task.OwnerID, feed.ID)
			ok, err := p.d.Repos.Article.Upsert(ctx, article)
			if err != nil {
				p.logger.Error("文章入库失败", "article_id", article.ID, "error", err)
				continue
			}
			latest = max(latest, article.PublishTS)
			if ok {
				created = append(created, article)
			}
		}
		if latest > 0 {
			if err := p.d.Repos.Feed.UpdateLastUpdate(ctx, task.OwnerID, feed.ID, latest); err != nil {
				p.logger.Warn("更新订阅源时间失败", "feed_id", feed.ID, "error", err)
			}
		}
		rep.UpdateCount += len(created)
		if p.d.Bus != nil {
			p.d.Bus.Publish(event.ArticlesCrawled, &event.ArticlesCrawledPayload{
				Task:     task,
				Feed:     feed,
				Articles: created,
				Count:    len(created),
			})
		}
	}
	if rep.UpdateCount > 0 {
		rep.line("文章抓取完成，更新 %d 条", rep.UpdateCount)
	} else {
		rep.line("没有更新到文章")
	}
	return true
}

func (p *Pipeline) finish(ctx context.Context, tick Tick, rep *Report, start time.Time) *Report {
	task := tick.Task
	end := p.now()
	rep.line("任务结束: %s", end.Format(timeLayout))
	rep.line("执行耗时: %.2f秒", end.Sub(start).Seconds())
	if !task.IsPublish() {
		rep.line("更新完成: 成功%d条", rep.UpdateCount)
	}

	status := model.TaskLogStatusOK
	if rep.Failed {
		status = model.TaskLogStatusFail
	}
	log := &model.TaskLog{
		OwnerID:     task.OwnerID,
		TaskID:      task.ID,
		FeedIDs:     model.IDList(tick.feedIDs()),
		UpdateCount: rep.UpdateCount,
		Status:      status,
		Transcript:  strutil.Clip(strings.Join(rep.Transcript, "\n"), model.TranscriptLimit),
	}
	if err := p.d.Repos.TaskLog.Create(ctx, log); err != nil {
		p.logger.Error("写入执行日志失败", "task_id", task.ID, "error", err)
	} else {
		rep.Log = log
	}

	if p.d.Notices != nil {
		title := fmt.Sprintf("任务执行完成：%s（更新%d条）", tick.feedNames(), rep.UpdateCount)
		if task.IsPublish() {
			title = "发布任务执行完成：" + tick.feedNames()
		}
		tail := rep.Transcript[max(0, len(rep.Transcript)-notifyTailLines):]
		p.d.Notices.Notify(ctx, task.OwnerID, title, strings.Join(tail, "\n"), model.NoticeTypeTask, task.ID)
	}
	if p.d.Observer != nil {
		taskType := "crawl"
		if task.IsPublish() {
			taskType = "publish"
		}
		p.d.Observer.ObserveTick(taskType, rep, end.Sub(start))
	}
	p.logger.Info("任务执行完成", "task_id", task.ID, "owner_id", task.OwnerID, "update_count", rep.UpdateCount, "failed", rep.Failed)
	return rep
}
