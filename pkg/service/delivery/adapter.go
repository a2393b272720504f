/*
 * @Description: 各发布平台的统一适配层
 * @Author: 安知鱼
 * @Date: 2026-02-25 10:31:08
 * @LastEditTime: 2026-03-06 22:40:19
 * @LastEditors: 安知鱼
 */
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/csdn"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/wechat"
)

// Target 投递目标账号，各平台只读取自己需要的字段
type Target struct {
	OwnerID   string
	Wechat    wechat.Credentials
	CSDNState string
}

// PlatformAdapter 把草稿整理成平台可接受的形态并提交
type PlatformAdapter interface {
	Platform() string
	NormalizeDraft(d *model.Draft) model.DeliveryArticle
	Submit(ctx context.Context, target Target, articles []model.DeliveryArticle) *model.DeliveryOutcome
}

// ArticleFromPayload 重试队列中保存的内容还原为投递文章
func ArticleFromPayload(p model.PublishPayload) model.DeliveryArticle {
	return model.DeliveryArticle(p)
}

func PayloadFromArticle(a model.DeliveryArticle) model.PublishPayload {
	return model.PublishPayload(a)
}

type WechatAdapter struct {
	client *wechat.Client
}

func NewWechatAdapter(client *wechat.Client) *WechatAdapter {
	return &WechatAdapter{client: client}
}

func (a *WechatAdapter) Platform() string { return model.PlatformWechatMP }

func (a *WechatAdapter) NormalizeDraft(d *model.Draft) model.DeliveryArticle {
	author, _ := d.Metadata["author"].(string)
	source, _ := d.Metadata["source_url"].(string)
	digest, _ := d.Metadata["digest"].(string)
	return model.DeliveryArticle{
		Title:            wechat.SafeTitle(compose.MarkdownTitle(d.Content, d.Title)),
		Content:          d.Content,
		Digest:           digest,
		Author:           author,
		CoverURL:         draft.CoverURL(d),
		ContentSourceURL: source,
	}
}

func (a *WechatAdapter) Submit(ctx context.Context, target Target, articles []model.DeliveryArticle) *model.DeliveryOutcome {
	return a.client.Deliver(ctx, target.Wechat, articles)
}

// Publish 草稿投递成功后提交群发
func (a *WechatAdapter) Publish(ctx context.Context, target Target, mediaID string) (string, error) {
	return a.client.FreePublish(ctx, target.Wechat, mediaID)
}

type CSDNAdapter struct {
	publisher *csdn.Publisher
}

func NewCSDNAdapter(publisher *csdn.Publisher) *CSDNAdapter {
	return &CSDNAdapter{publisher: publisher}
}

func (a *CSDNAdapter) Platform() string { return model.PlatformCSDN }

// NormalizeDraft CSDN 无法转存外部图片，正文中的图片替换为文字标注
func (a *CSDNAdapter) NormalizeDraft(d *model.Draft) model.DeliveryArticle {
	return model.DeliveryArticle{
		Title:   compose.MarkdownTitle(d.Content, d.Title),
		Content: csdn.StripExternalImages(d.Content),
	}
}

// Submit 逐篇发布，遇到需要重新登录时立即停止
func (a *CSDNAdapter) Submit(ctx context.Context, target Target, articles []model.DeliveryArticle) *model.DeliveryOutcome {
	if len(articles) == 0 {
		return &model.DeliveryOutcome{Kind: model.OutcomeNoContent, Message: "没有有效内容可推送"}
	}
	var last *model.DeliveryOutcome
	var urls []string
	for _, art := range articles {
		last = a.publisher.Publish(ctx, target.CSDNState, art.Title, art.Content).Outcome()
		if !last.OK() {
			return last
		}
		urls = append(urls, last.URL)
	}
	if len(articles) > 1 {
		last.Message = fmt.Sprintf("CSDN 已发布 %d 篇：%s", len(articles), strings.Join(urls, " "))
	}
	return last
}

// Registry 按平台名查找适配器
type Registry struct {
	adapters map[string]PlatformAdapter
}

func NewRegistry(adapters ...PlatformAdapter) *Registry {
	r := &Registry{adapters: map[string]PlatformAdapter{}}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(platform string) (PlatformAdapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}
