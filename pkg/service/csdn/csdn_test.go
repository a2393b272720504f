package csdn

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

const sampleState = `{
	"cookies": [
		{"name": "UserName", "value": "anzhiyu", "domain": ".csdn.net", "path": "/", "expires": -1, "httpOnly": false, "secure": true, "sameSite": "Lax"},
		{"name": "UserToken", "value": "tok", "domain": ".csdn.net", "path": "", "expires": 4102444800.5, "httpOnly": true, "secure": true, "sameSite": "None"},
		{"name": "old", "value": "x", "domain": ".csdn.net", "path": "/", "expires": 1000, "sameSite": "Strict"}
	],
	"origins": [
		{"origin": "https://editor.csdn.net/", "localStorage": [{"name": "theme", "value": "dark"}]},
		{"origin": "https://www.csdn.net", "localStorage": []}
	]
}`

func TestParseStorageState(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "正常登录态", raw: sampleState},
		{name: "空字符串", raw: "  ", wantErr: true},
		{name: "非JSON", raw: "{oops", wantErr: true},
		{name: "没有cookie", raw: `{"cookies": [], "origins": []}`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := ParseStorageState(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, st)
				return
			}
			require.NoError(t, err)
			assert.Len(t, st.Cookies, 3)
		})
	}
}

func TestCookieParams(t *testing.T) {
	st, err := ParseStorageState(sampleState)
	require.NoError(t, err)

	params := st.CookieParams(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, params, 2, "已过期的 cookie 应被丢弃")

	session := params[0]
	assert.Equal(t, "UserName", session.Name)
	assert.Nil(t, session.Expires)
	assert.Equal(t, network.CookieSameSiteLax, session.SameSite)

	persistent := params[1]
	assert.Equal(t, "/", persistent.Path, "空 path 补成根路径")
	assert.True(t, persistent.HTTPOnly)
	assert.Equal(t, network.CookieSameSiteNone, persistent.SameSite)
	require.NotNil(t, persistent.Expires)
	assert.Equal(t, int64(4102444800), time.Time(*persistent.Expires).Unix())
}

func TestLocalStorageScript(t *testing.T) {
	st, err := ParseStorageState(sampleState)
	require.NoError(t, err)

	script := st.LocalStorageScript()
	assert.Contains(t, script, `location.origin === "https://editor.csdn.net"`)
	assert.Contains(t, script, `{"theme":"dark"}`)
	assert.NotContains(t, script, "www.csdn.net", "没有条目的 origin 不生成脚本")
}

func TestStripExternalImages(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "有描述的图片", in: "前言\n![架构图](https://img.example.com/a.png)\n正文", want: "前言\n【图：架构图】\n正文"},
		{name: "无描述的图片直接删除", in: "A![](https://x.com/b.png)B", want: "AB"},
		{name: "带标题的图片", in: `![ 封面 ](https://x.com/c.png "title")`, want: "【图：封面】"},
		{name: "普通链接不受影响", in: "[链接](https://x.com)", want: "[链接](https://x.com)"},
		{name: "多张图片", in: "![一](u1) 和 ![二](u2)", want: "【图：一】 和 【图：二】"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripExternalImages(tc.in))
		})
	}
}

func TestPageChecks(t *testing.T) {
	assert.True(t, isLoginURL("https://passport.csdn.net/login?code=applets"))
	assert.False(t, isLoginURL(EditorURL))

	assert.True(t, isSuccessPage("https://mp.csdn.net/mp_blog/creation/success/1234", ""))
	assert.True(t, isSuccessPage("https://blog.csdn.net/u/article/details/1", ""))
	assert.True(t, isSuccessPage(EditorURL, "发布成功-CSDN"))
	assert.False(t, isSuccessPage(EditorURL, "写文章-CSDN创作中心"))

	assert.Equal(t, "1234", articleIDFromURL("https://mp.csdn.net/mp_blog/creation/success/1234/"))
	assert.Empty(t, articleIDFromURL("https://blog.csdn.net/u/article/details/1"))
}

func TestMinContentLength(t *testing.T) {
	assert.Equal(t, 10, minContentLength(0))
	assert.Equal(t, 10, minContentLength(50))
	assert.Equal(t, 10, minContentLength(109))
	assert.Equal(t, 250, minContentLength(2500))
}

func TestScreenshotPath(t *testing.T) {
	at := time.Unix(1767225600, 0)
	assert.Equal(t, filepath.Join("shots", "csdn_goto_fail_1767225600.png"), screenshotPath("shots", "csdn_goto_fail", at))
}

func TestJSCall(t *testing.T) {
	expr := jsCall("(a, b) => a + b", []string{`x"y`}, "标题")
	assert.Equal(t, `((a, b) => a + b)(["x\"y"], "标题")`, expr)
}

func TestResultOutcome(t *testing.T) {
	testCases := []struct {
		name    string
		result  Result
		kind    string
		wantErr error
	}{
		{name: "成功", result: Result{Success: true, Kind: model.OutcomeSuccess, URL: "u"}, kind: model.OutcomeSuccess},
		{name: "需要重新登录", result: Result{NeedsReauth: true, Kind: model.OutcomeNeedsReauth}, kind: model.OutcomeNeedsReauth, wantErr: constant.ErrCSDNNeedsReauth},
		{name: "正文校验失败", result: Result{Kind: model.OutcomeContentMismatch}, kind: model.OutcomeContentMismatch, wantErr: constant.ErrCSDNContentMismatch},
		{name: "选择器失效", result: Result{Kind: model.OutcomeSelectorDrift}, kind: model.OutcomeSelectorDrift, wantErr: constant.ErrCSDNSelectorDrift},
		{name: "其他失败按瞬时处理", result: Result{Message: "编辑器加载超时（20s）"}, kind: model.OutcomeTransient},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := tc.result.Outcome()
			assert.Equal(t, tc.kind, out.Kind)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(out.Err, tc.wantErr))
			}
			if tc.kind == model.OutcomeSuccess {
				assert.True(t, out.OK())
				assert.Nil(t, out.Err)
			}
		})
	}
}

func TestPublishRejectsEmptyState(t *testing.T) {
	res := NewPublisher(Options{}).Publish(t.Context(), "", "标题", "正文")
	assert.False(t, res.Success)
	assert.True(t, res.NeedsReauth)
	assert.True(t, strings.Contains(res.Message, "扫码登录"))
}
