package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
)

type captureSender struct {
	got chan notice.MessageData
}

func (c *captureSender) SendTaskMessage(ctx context.Context, task *model.Task, data notice.MessageData) (bool, error) {
	c.got <- data
	return true, nil
}

type captureForwarder struct {
	mu   sync.Mutex
	tags []string
	done chan struct{}
}

func (c *captureForwarder) System(ctx context.Context, title, text, tag string) {
	c.mu.Lock()
	c.tags = append(c.tags, tag)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func TestTaskWebhookListener(t *testing.T) {
	bus := event.NewEventBus()
	defer bus.Shutdown()
	sender := &captureSender{got: make(chan notice.MessageData, 4)}
	NewTaskWebhookListener(bus, sender)

	task := &model.Task{ID: "t1", Name: "同步", WebHookURL: "https://oapi.dingtalk.com/robot/send?x=1"}
	feed := &model.Feed{ID: "f1", DisplayName: "测试号"}

	// 没有新文章与没有 webhook 的事件都不推送
	bus.Publish(event.ArticlesCrawled, &event.ArticlesCrawledPayload{Task: task, Feed: feed})
	bus.Publish(event.ArticlesCrawled, &event.ArticlesCrawledPayload{Task: &model.Task{ID: "t2"}, Feed: feed, Count: 1, Articles: []*model.Article{{ID: "x"}}})
	bus.Publish(event.ArticlesCrawled, &event.ArticlesCrawledPayload{
		Task:     task,
		Feed:     feed,
		Count:    1,
		Articles: []*model.Article{{ID: "a1", Title: "新文章", URL: "https://mp/a1"}},
	})

	select {
	case data := <-sender.got:
		assert.Equal(t, "测试号", data.FeedName)
		require.Len(t, data.Articles, 1)
		assert.Equal(t, "新文章", data.Articles[0].Title)
	case <-time.After(2 * time.Second):
		t.Fatal("未推送任务消息")
	}
	select {
	case <-sender.got:
		t.Fatal("不应推送多余的消息")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSystemNoticeListener(t *testing.T) {
	bus := event.NewEventBus()
	defer bus.Shutdown()
	fw := &captureForwarder{done: make(chan struct{}, 4)}
	NewSystemNoticeListener(bus, fw)

	bus.Publish(event.NoticeCreated, &model.Notice{OwnerID: "u1", Title: "AI自动创作完成：x", NoticeType: model.NoticeTypeCompose})
	bus.Publish(event.NoticeCreated, &model.Notice{OwnerID: "u1", Title: "CSDN 登录态已失效，需要重新扫码", NoticeType: model.NoticeTypeSystem})

	select {
	case <-fw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("系统通知未转发")
	}
	time.Sleep(50 * time.Millisecond)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	assert.Equal(t, []string{"系统通知"}, fw.tags)
}
