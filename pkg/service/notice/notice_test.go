package notice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

type memNotices struct {
	mu   sync.Mutex
	rows []*model.Notice
	fail bool
}

func (m *memNotices) Create(ctx context.Context, n *model.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.rows = append(m.rows, n)
	return nil
}

func (m *memNotices) ListByOwner(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Notice
	for _, n := range m.rows {
		if n.OwnerID == ownerID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memNotices) MarkRead(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.rows {
		if n.OwnerID == ownerID && n.ID == id {
			n.IsRead = true
		}
	}
	return nil
}

func (m *memNotices) CountUnread(ctx context.Context, ownerID string) (int, error) {
	list, _ := m.ListByOwner(ctx, ownerID, true, 1<<20)
	return len(list), nil
}

type captured struct {
	mu    sync.Mutex
	paths []string
	body  []map[string]interface{}
}

func (c *captured) server(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(raw, &payload)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.body = append(c.body, payload)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildPayload(t *testing.T) {
	testCases := []struct {
		name string
		kind string
		want string
	}{
		{"钉钉", KindDingding, `{"markdown":{"text":"md","title":"标题"},"msgtype":"markdown"}`},
		{"自定义按钉钉格式", KindCustom, `{"markdown":{"text":"md","title":"标题"},"msgtype":"markdown"}`},
		{"飞书", KindFeishu, `{"content":{"text":"md"},"msg_type":"text"}`},
		{"企业微信", KindWechat, `{"markdown":{"content":"md"},"msgtype":"markdown"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(BuildPayload(tc.kind, "标题", "md"))
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestNotify(t *testing.T) {
	repo := &memNotices{}
	svc := NewNoticeService(repo, Webhooks{}, nil)
	ctx := context.Background()

	n := svc.Notify(ctx, " u1 ", strings.Repeat("长", 400), "内容", "", "task-1")
	require.NotNil(t, n)
	assert.Equal(t, "u1", n.OwnerID)
	assert.Equal(t, model.NoticeTypeTask, n.NoticeType)
	assert.Len(t, []rune(n.Title), titleLimit)

	svc.Notify(ctx, "u1", "第二条", "", model.NoticeTypeCompose, "")
	count, err := svc.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, svc.MarkRead(ctx, "u1", n.ID))
	unread, err := svc.List(ctx, "u1", true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "第二条", unread[0].Title)

	repo.fail = true
	assert.Nil(t, svc.Notify(ctx, "u1", "失败", "", "", ""))
}

func TestSystem_FansOutToConfiguredHooks(t *testing.T) {
	c := &captured{}
	srv := c.server(t, http.StatusOK)
	svc := NewNoticeService(&memNotices{}, Webhooks{
		Dingding: srv.URL + "/ding",
		Feishu:   srv.URL + "/feishu",
		Custom:   "  ",
	}, NewSender(srv.Client()))

	svc.System(context.Background(), "订阅到期", "共 3 个用户降级", "")

	require.Len(t, c.paths, 2)
	assert.Equal(t, []string{"/ding", "/feishu"}, c.paths)
	md := c.body[0]["markdown"].(map[string]interface{})
	assert.Equal(t, "### 订阅到期 系统通知\n共 3 个用户降级", md["text"])
	assert.Equal(t, "text", c.body[1]["msg_type"])
}

func TestSender_PostError(t *testing.T) {
	c := &captured{}
	srv := c.server(t, http.StatusBadGateway)
	err := NewSender(srv.Client()).Post(context.Background(), srv.URL, KindDingding, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRenderMessage(t *testing.T) {
	data := NewMessageData(
		&model.Task{Name: "每日抓取"},
		&model.Feed{DisplayName: "安知鱼"},
		[]*model.Article{{ID: "a1", Title: "第一篇", URL: "https://mp.weixin.qq.com/s/a1"}, nil},
	)
	assert.Equal(t, 1, data.Count)

	out, err := RenderMessage("", data)
	require.NoError(t, err)
	assert.Contains(t, out, "### 安知鱼 更新了 1 篇文章")
	assert.Contains(t, out, "- [第一篇](https://mp.weixin.qq.com/s/a1)")

	out, err = RenderMessage("{{.TaskName}}:{{len .Articles}}", data)
	require.NoError(t, err)
	assert.Equal(t, "每日抓取:1", out)

	_, err = RenderMessage("{{.Broken", data)
	assert.Error(t, err)
}

func TestSendTaskMessage(t *testing.T) {
	c := &captured{}
	srv := c.server(t, http.StatusOK)
	sender := NewSender(srv.Client())
	ctx := context.Background()
	data := NewMessageData(nil, &model.Feed{SourceID: "biz"}, []*model.Article{{Title: "x"}})

	sent, err := sender.SendTaskMessage(ctx, &model.Task{}, data)
	require.NoError(t, err)
	assert.False(t, sent, "未配置地址时跳过")

	sent, err = sender.SendTaskMessage(ctx, &model.Task{WebHookURL: srv.URL}, MessageData{})
	require.NoError(t, err)
	assert.False(t, sent, "没有新文章时跳过")

	sent, err = sender.SendTaskMessage(ctx, &model.Task{WebHookURL: srv.URL, MessageTemplate: "{{.FeedName}}"}, data)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, c.body, 1)
	assert.Equal(t, "biz", c.body[0]["markdown"].(map[string]interface{})["text"])
}

func TestWebhookKind(t *testing.T) {
	assert.Equal(t, KindFeishu, webhookKind("https://open.feishu.cn/open-apis/bot/v2/hook/x"))
	assert.Equal(t, KindWechat, webhookKind("https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=1"))
	assert.Equal(t, KindDingding, webhookKind("https://oapi.dingtalk.com/robot/send"))
	assert.Equal(t, KindCustom, webhookKind("http://127.0.0.1/hook"))
}
