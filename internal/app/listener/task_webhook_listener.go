/*
 * @Description: 监听抓取完成事件，按任务配置推送 webhook 消息
 * @Author: 安知鱼
 * @Date: 2025-07-18 17:30:00
 * @LastEditTime: 2026-02-20 15:44:09
 * @LastEditors: 安知鱼
 */
package listener

import (
	"context"
	"log"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
)

// TaskWebhookSender 发送任务 webhook
type TaskWebhookSender interface {
	SendTaskMessage(ctx context.Context, task *model.Task, data notice.MessageData) (bool, error)
}

// TaskWebhookListener 是 ArticlesCrawled 事件的订阅者，抓取到新文章时按任务模板推送消息
type TaskWebhookListener struct {
	sender TaskWebhookSender
}

func NewTaskWebhookListener(eventBus *event.EventBus, sender TaskWebhookSender) *TaskWebhookListener {
	listener := &TaskWebhookListener{sender: sender}
	eventBus.Subscribe(event.ArticlesCrawled, listener.handleArticlesCrawled)
	return listener
}

func (l *TaskWebhookListener) handleArticlesCrawled(payload interface{}) {
	p, ok := payload.(*event.ArticlesCrawledPayload)
	if !ok || p == nil || p.Task == nil {
		log.Printf("[TaskWebhookListener] 错误：收到的 ArticlesCrawled 事件负载类型不正确")
		return
	}
	if p.Count == 0 || p.Task.WebHookURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sent, err := l.sender.SendTaskMessage(ctx, p.Task, notice.NewMessageData(p.Task, p.Feed, p.Articles))
	if err != nil {
		log.Printf("[TaskWebhookListener] 任务 %s 消息推送失败: %v", p.Task.ID, err)
		return
	}
	if sent {
		log.Printf("[TaskWebhookListener] 任务 %s 已推送 %d 篇新文章", p.Task.ID, p.Count)
	}
}
