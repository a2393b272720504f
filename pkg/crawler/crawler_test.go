package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

func newTestCrawler(t *testing.T, srv *httptest.Server) *Crawler {
	t.Helper()
	c, err := NewCrawler("test-agent", 0)
	require.NoError(t, err)
	c.mpBase = srv.URL
	return c
}

func TestFetchWechatList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/appmsg", r.URL.Path)
		assert.Equal(t, "list_ex", r.URL.Query().Get("action"))
		assert.Equal(t, "FAKE==", r.URL.Query().Get("fakeid"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		assert.Equal(t, "tk", r.URL.Query().Get("token"))
		assert.Equal(t, "slave_sid=abc", r.Header.Get("Cookie"))
		fmt.Fprint(w, `{"base_resp":{"ret":0,"err_msg":"ok"},"app_msg_list":[
			{"aid":"2247_1","title":" 新文章 ","link":"https://mp.weixin.qq.com/s/a","digest":"摘要","cover":"https://mmbiz.qpic.cn/c.jpg","create_time":100,"update_time":200},
			{"aid":"","title":"旧文章","link":"https://mp.weixin.qq.com/s/b","create_time":50}
		]}`)
	}))
	defer srv.Close()

	c := newTestCrawler(t, srv)
	entries, err := c.FetchWechatList(context.Background(), Credentials{Token: "tk", Cookie: "slave_sid=abc"}, "FAKE==")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "2247_1", entries[0].ID)
	assert.Equal(t, "新文章", entries[0].Title)
	assert.Equal(t, int64(200), entries[0].PublishTS, "优先使用更新时间")
	assert.NotEmpty(t, entries[1].ID, "缺少 aid 时生成稳定 ID")
	assert.Equal(t, int64(50), entries[1].PublishTS)

	a := entries[0].ToArticle("alice", "feed-1")
	assert.Equal(t, model.ArticleStatusActive, a.Status)
	assert.Equal(t, "alice", a.OwnerID)
}

func TestFetchWechatList_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		authLost bool
	}{
		{"会话失效", `{"base_resp":{"ret":200003,"err_msg":"invalid session"}}`, true},
		{"频率限制", `{"base_resp":{"ret":200013,"err_msg":"freq control"}}`, false},
		{"非JSON", `<html>`, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()
			_, err := newTestCrawler(t, srv).FetchWechatList(context.Background(), Credentials{Token: "t", Cookie: "c"}, "x")
			require.Error(t, err)
			assert.Equal(t, tc.authLost, errors.Is(err, constant.ErrAuthMissing))
		})
	}

	c, err := NewCrawler("", 0)
	require.NoError(t, err)
	_, err = c.FetchWechatList(context.Background(), Credentials{}, "x")
	assert.ErrorIs(t, err, constant.ErrAuthMissing, "缺少授权时不发请求")
}

func TestExtractContent(t *testing.T) {
	testCases := []struct {
		name    string
		page    string
		want    string
		wantErr error
	}{
		{
			name: "公众号正文",
			page: `<html><body><div id="js_content" style="visibility:hidden"><p>正文</p><script>x()</script></div></body></html>`,
			want: "<p>正文</p>",
		},
		{
			name: "博客正文",
			page: `<html><body><article><h1>T</h1><p>内容</p></article></body></html>`,
			want: "<h1>T</h1><p>内容</p>",
		},
		{
			name:    "已删除",
			page:    `<html><body><div class="weui-msg">该内容已被发布者删除</div></body></html>`,
			wantErr: ErrArticleDeleted,
		},
		{
			name:    "没有正文",
			page:    `<html><body><div>空</div></body></html>`,
			wantErr: ErrContentNotFound,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractContent([]byte(tc.page))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title>
<item><title>第一篇</title><link>https://blog.example.com/1</link><description>简介</description>
<pubDate>Mon, 02 Mar 2026 10:00:00 +0800</pubDate></item>
<item><title></title><link>https://blog.example.com/skip</link></item>
</channel></rss>`

func TestFetchFeedAndDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rss.xml" {
			fmt.Fprint(w, rssBody)
			return
		}
		fmt.Fprint(w, "<html>home</html>")
	}))
	defer srv.Close()
	c := newTestCrawler(t, srv)

	entries, err := c.FetchFeed(context.Background(), srv.URL+"/rss.xml")
	require.NoError(t, err)
	require.Len(t, entries, 1, "缺少标题的条目被跳过")
	assert.Equal(t, "第一篇", entries[0].Title)
	assert.Equal(t, "简介", entries[0].Description)
	assert.NotZero(t, entries[0].PublishTS)

	found, err := c.DiscoverFeed(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/rss.xml", found)

	feed := &model.Feed{SourceID: srv.URL + "/rss.xml"}
	viaCrawl, err := c.Crawl(context.Background(), Credentials{}, feed)
	require.NoError(t, err, "RSS 订阅不需要公众号授权")
	assert.Len(t, viaCrawl, 1)
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, int64(0), parseTime(""))
	assert.Equal(t, int64(0), parseTime("不是日期"))
	assert.NotZero(t, parseTime("2026-03-01"))
	assert.NotZero(t, parseTime("Mon, 02 Mar 2026 10:00:00 +0800"))
}
