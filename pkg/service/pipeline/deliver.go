package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/delivery"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
)

// selection 挑选结果，Article 为空时 Reason 说明原因
type selection struct {
	Article *model.Article
	Reason  string
	Message string
}

// selectCandidate 在 top-k 窗口内取第一篇未投递且已有正文的文章
func selectCandidate(candidates []*model.Article, k int, skip model.IDList) selection {
	window := candidates[:min(max(1, k), len(candidates))]
	if len(window) == 0 {
		return selection{Reason: ReasonNoCandidates, Message: "未找到可用文章，跳过"}
	}
	waiting := false
	for _, a := range window {
		if skip.Contains(a.ID) {
			continue
		}
		if a.HasContent() {
			return selection{Article: a}
		}
		waiting = true
	}
	if waiting {
		return selection{Reason: ReasonWaitingForContent, Message: fmt.Sprintf("top-%d 未处理文章内容尚未同步，等待下次执行", k)}
	}
	return selection{Reason: ReasonAllConsumed, Message: fmt.Sprintf("top-%d 文章均已处理，跳过", k)}
}

func (p *Pipeline) pick(ctx context.Context, tick Tick, k int, skip model.IDList, rep *Report, prefix string) *model.Article {
	candidates, err := p.d.Repos.Article.TopK(ctx, tick.Task.OwnerID, tick.feedIDs(), max(1, k))
	if err != nil {
		rep.line("%s: 读取候选文章失败: %v", prefix, err)
		rep.fail(ReasonNoCandidates)
		return nil
	}
	sel := selectCandidate(candidates, k, skip)
	if sel.Article == nil {
		rep.line("%s: %s", prefix, sel.Message)
		rep.note(sel.Reason)
		return nil
	}
	return sel.Article
}

// generate 额度校验、创作、配图、计费
func (p *Pipeline) generate(ctx context.Context, task *model.Task, article *model.Article, platform string, imageCount int, instruction string) (*compose.Result, error) {
	user, err := p.d.Repos.User.FindByOwner(ctx, task.OwnerID)
	if err != nil {
		return nil, errors.New("用户不存在，无法自动创作")
	}
	publishToWechat := platform == compose.PlatformWechat
	if _, err := p.d.Guard.Validate(ctx, user, model.ComposeModeCreate, imageCount, publishToWechat); err != nil {
		return nil, err
	}
	if _, err := p.d.Guard.CheckDaily(ctx, task.OwnerID); err != nil {
		return nil, err
	}
	var profile *model.AIProfile
	if pr, err := p.d.Repos.Profile.FindByOwner(ctx, task.OwnerID); err == nil {
		profile = pr
	}
	res, err := p.d.Composer.Generate(ctx, compose.Request{
		Mode:        model.ComposeModeCreate,
		Title:       article.Title,
		Content:     article.SourceText(),
		Instruction: instruction,
		Options: compose.Options{
			Platform:   platform,
			Style:      compose.DefaultStyle,
			Length:     composeLength,
			ImageCount: imageCount,
		}.Normalize(),
		Profile: profile,
	})
	if err != nil {
		return nil, err
	}
	p.d.Composer.Illustrate(ctx, model.ComposeModeCreate, res)
	if _, err := p.d.Guard.Consume(ctx, user, len(res.Images)); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) saveDraft(task *model.Task, article *model.Article, res *compose.Result, platform, instruction string) (*model.Draft, error) {
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = "AI 自动创作"
	}
	return p.d.Journal.Append(task.OwnerID, draft.Entry{
		ArticleID: article.ID,
		Title:     title,
		Content:   res.Content,
		Platform:  platform,
		Mode:      model.ComposeModeCreate,
		Metadata: map[string]interface{}{
			"digest":          "",
			"author":          "",
			"cover_url":       compose.ExtractFirstImageURL(res.Content),
			"source_url":      article.URL,
			"instruction":     instruction,
			"options":         res.Options.ToMap(),
			"source":          draft.SourceMessageTaskAuto,
			"message_task_id": task.ID,
			"feed_id":         article.FeedID,
		},
	})
}

func deliveryStatus(out *model.DeliveryOutcome) string {
	if out.OK() {
		return model.DeliveryStatusSuccess
	}
	return model.DeliveryStatusFailed
}

func (p *Pipeline) markDraft(task *model.Task, d *model.Draft, platform string, out *model.DeliveryOutcome) {
	extra := map[string]interface{}{"kind": out.Kind}
	if out.MediaID != "" {
		extra["media_id"] = out.MediaID
	}
	if out.URL != "" {
		extra["url"] = out.URL
	}
	if _, err := p.d.Journal.MarkDelivery(task.OwnerID, d.ID, draft.Delivery{
		Platform: platform,
		Status:   deliveryStatus(out),
		Message:  out.Message,
		Source:   draft.SourceMessageTaskAuto,
		TaskID:   task.ID,
		Extra:    extra,
	}); err != nil {
		p.logger.Warn("写入草稿投递状态失败", "draft_id", d.ID, "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, ownerID, title, content, noticeType, refID string) {
	if p.d.Notices != nil {
		p.d.Notices.Notify(ctx, ownerID, title, content, noticeType, refID)
	}
}

// runWechat 返回 true 表示 published_ids 有变化
func (p *Pipeline) runWechat(ctx context.Context, tick Tick, rep *Report) bool {
	task := tick.Task
	const prefix = "自动创作同步"

	article := p.pick(ctx, tick, task.Policy.Wechat.TopK, task.WechatSkipIDs(), rep, prefix)
	if article == nil {
		return false
	}
	creds, err := p.d.Auth.OpenAPICredentials(ctx, task.OwnerID)
	if err != nil {
		if errors.Is(err, constant.ErrOpenAPICredentialsMissing) {
			rep.line("%s: 未配置公众号 AppID/AppSecret，跳过草稿投递", prefix)
			rep.fail(ReasonOpenAPIMissing)
			p.notify(ctx, task.OwnerID, "自动创作未执行：缺少公众号配置", constant.ErrOpenAPICredentialsMissing.Error(), model.NoticeTypeSystem, task.ID)
			return false
		}
		rep.line("%s: 读取公众号配置失败: %v", prefix, err)
		rep.fail(ReasonOpenAPIMissing)
		return false
	}

	instruction := strings.TrimSpace(task.Policy.Wechat.Instruction)
	res, err := p.generate(ctx, task, article, compose.PlatformWechat, p.d.ImageCount, instruction)
	if err != nil {
		rep.line("%s: 创作失败: %v", prefix, err)
		rep.fail(ReasonComposeFailed)
		p.notify(ctx, task.OwnerID, "AI自动创作失败："+strutil.Clip(article.Title, 50), err.Error(), model.NoticeTypeTask, task.ID)
		return false
	}
	d, err := p.saveDraft(task, article, res, compose.PlatformWechat, instruction)
	if err != nil {
		rep.line("%s: 保存草稿失败: %v", prefix, err)
		rep.fail(ReasonComposeFailed)
		return false
	}
	rep.WechatArticleID = article.ID

	target := delivery.Target{OwnerID: task.OwnerID, Wechat: creds}
	payload := p.d.Wechat.NormalizeDraft(d)
	out := p.d.Wechat.Submit(ctx, target, []model.DeliveryArticle{payload})
	p.markDraft(task, d, p.d.Wechat.Platform(), out)

	title := strutil.Clip(article.Title, 50)
	switch {
	case out.OK():
		rep.line("%s: 草稿投递成功 media_id=%s", prefix, out.MediaID)
		if task.Policy.Wechat.Mode == model.WechatModeDraftAndPublish && out.MediaID != "" {
			if publishID, err := p.d.Wechat.Publish(ctx, target, out.MediaID); err != nil {
				rep.line("%s: 发布提交失败: %v", prefix, err)
				rep.fail(ReasonDeliveryFailed)
			} else {
				rep.line("%s: 已提交发布 publish_id=%s", prefix, publishID)
			}
		}
		p.notify(ctx, task.OwnerID, "AI自动创作完成："+title, fmt.Sprintf("已投递到公众号草稿箱，media_id=%s", out.MediaID), model.NoticeTypeCompose, d.ID)
	case out.Retryable() && p.d.Retry != nil:
		rep.line("%s: 投递失败，已加入重试队列: %s", prefix, out.Message)
		rep.fail(ReasonDeliveryFailed)
		if _, err := p.d.Retry.Enqueue(ctx, task.OwnerID, article.ID, d.ID, payload, model.DefaultPublishMaxRetries); err != nil {
			p.logger.Error("加入重试队列失败", "task_id", task.ID, "draft_id", d.ID, "error", err)
			rep.line("%s: 加入重试队列失败: %v", prefix, err)
		}
		p.notify(ctx, task.OwnerID, "AI自动创作投递失败："+title, out.Message+"，系统将自动重试", model.NoticeTypeTask, d.ID)
	default:
		rep.line("%s: 投递失败: %s", prefix, out.Message)
		rep.fail(ReasonDeliveryFailed)
		p.notify(ctx, task.OwnerID, "AI自动创作投递失败："+title, out.Message, model.NoticeTypeTask, d.ID)
	}

	// 需要用户重新授权时保留文章，授权恢复后重新投递
	if out.Kind == model.OutcomeAuthFailure {
		return false
	}
	task.Policy.Wechat.PublishedIDs = task.Policy.Wechat.PublishedIDs.Add(article.ID)
	return true
}

// runCSDN 返回 true 表示 published_ids 有变化
func (p *Pipeline) runCSDN(ctx context.Context, tick Tick, rep *Report) bool {
	task := tick.Task
	const prefix = "CSDN推送"

	state, err := p.d.Auth.CSDNSession(ctx, task.OwnerID)
	if err != nil {
		rep.line("%s: CSDN 登录态已失效，需要重新扫码", prefix)
		rep.fail(ReasonCSDNNeedsReauth)
		p.notify(ctx, task.OwnerID, "CSDN 登录态已失效，需要重新扫码", "请在个人中心重新扫码登录 CSDN 后再执行推送任务", model.NoticeTypeSystem, task.ID)
		return false
	}
	article := p.pick(ctx, tick, task.Policy.CSDN.TopK, task.Policy.CSDN.PublishedIDs, rep, prefix)
	if article == nil {
		return false
	}

	// CSDN 正文中的图片会被替换为文字标注，不生成配图
	res, err := p.generate(ctx, task, article, compose.PlatformCSDN, 0, "")
	if err != nil {
		rep.line("%s: 创作失败: %v", prefix, err)
		rep.fail(ReasonComposeFailed)
		return false
	}
	d, err := p.saveDraft(task, article, res, compose.PlatformCSDN, "")
	if err != nil {
		rep.line("%s: 保存草稿失败: %v", prefix, err)
		rep.fail(ReasonComposeFailed)
		return false
	}
	rep.CSDNArticleID = article.ID

	out := p.d.CSDN.Submit(ctx, delivery.Target{OwnerID: task.OwnerID, CSDNState: state}, []model.DeliveryArticle{p.d.CSDN.NormalizeDraft(d)})
	p.markDraft(task, d, p.d.CSDN.Platform(), out)

	title := strutil.Clip(article.Title, 50)
	if out.Kind == model.OutcomeNeedsReauth {
		if err := p.d.Auth.ExpireCSDNSession(ctx, task.OwnerID); err != nil {
			p.logger.Warn("标记 CSDN 登录态失效失败", "owner_id", task.OwnerID, "error", err)
		}
		rep.line("%s: CSDN 登录态已失效，需要重新扫码", prefix)
		rep.fail(ReasonCSDNNeedsReauth)
		p.notify(ctx, task.OwnerID, "CSDN 登录态已失效，需要重新扫码", out.Message, model.NoticeTypeSystem, task.ID)
		return false
	}
	if out.OK() {
		rep.line("%s: 发布成功 %s", prefix, out.URL)
		p.notify(ctx, task.OwnerID, "CSDN 推送成功："+title, out.URL, model.NoticeTypeTask, d.ID)
	} else {
		rep.line("%s: 发布失败: %s", prefix, out.Message)
		rep.fail(ReasonDeliveryFailed)
		content := out.Message
		if out.Screenshot != "" {
			content += "\n截图: " + out.Screenshot
		}
		p.notify(ctx, task.OwnerID, "CSDN 推送失败："+title, content, model.NoticeTypeTask, d.ID)
	}
	task.Policy.CSDN.PublishedIDs = task.Policy.CSDN.PublishedIDs.Add(article.ID)
	return true
}
