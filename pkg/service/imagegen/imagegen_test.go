package imagegen

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// deadURL 返回一个已关闭服务的地址，请求会立即连接失败
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestBuildLocalBaseURLs(t *testing.T) {
	testCases := []struct {
		name     string
		multi    string
		single   string
		inDocker bool
		want     []string
	}{
		{
			name: "仅默认回环地址",
			want: []string{"http://127.0.0.1:5100", "http://localhost:5100"},
		},
		{
			name:   "多地址拆分并补全端口",
			multi:  "http://10.0.0.2, https://img.local;http://10.0.0.2:5100/",
			single: "http://10.0.0.3:5100",
			want:   []string{"http://10.0.0.2:5100", "https://img.local:5100", "http://10.0.0.3:5100", "http://127.0.0.1:5100", "http://localhost:5100"},
		},
		{
			name:   "忽略非 5100 端口与非 http 地址",
			multi:  "http://10.0.0.2:8080 ftp://x tcp",
			single: "",
			want:   []string{"http://127.0.0.1:5100", "http://localhost:5100"},
		},
		{
			name:     "容器内追加宿主机地址",
			inDocker: true,
			want:     []string{"http://127.0.0.1:5100", "http://localhost:5100", "http://host.docker.internal:5100"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BuildLocalBaseURLs(tc.multi, tc.single, tc.inDocker))
		})
	}
}

func TestBuildReqKeys(t *testing.T) {
	assert.Equal(t, []string{"jimeng_t2i_v40", "jimeng_t2i_v30"}, BuildReqKeys("", ""))
	assert.Equal(t, []string{"a", "b", "c"}, BuildReqKeys(" a ", "b, a ,c,,"))
}

func TestExtractLocalImageURLs(t *testing.T) {
	body := []byte(`{"data":[{"url":"https://x/1.png"},{"image_url":"http://x/2.png"},{"url":"ftp://bad"}]}`)
	assert.Equal(t, []string{"https://x/1.png", "http://x/2.png"}, extractLocalImageURLs(body))
	assert.Equal(t, []string{"https://x/3.png"}, extractLocalImageURLs([]byte(`[{"img_url":"https://x/3.png"}]`)))
	assert.Empty(t, extractLocalImageURLs([]byte(`not json`)))
}

func TestLocalChannel_PromotesWinner(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer tk", r.Header.Get("Authorization"))
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "url", payload["response_format"])
		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/a.png"}]}`))
	}))
	defer srv.Close()

	dead := deadURL(t)
	ch := NewLocalChannel(LocalConfig{
		BaseURLs:  []string{dead, srv.URL},
		Token:     "tk",
		SendExtra: true,
		Timeout:   time.Second,
	}, discardLogger())

	urls, notice, reachable := ch.Generate(context.Background(), []string{"p1", "p2"})
	assert.True(t, reachable)
	assert.Equal(t, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/a.png"}, urls)
	assert.Contains(t, notice, "即梦 local 生图成功（2 张")
	assert.Equal(t, srv.URL, ch.BaseURLs()[0], "成功地址被提到最前")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "第二个提示词直接命中成功地址")
}

func TestLocalChannel_Failures(t *testing.T) {
	t.Run("全部不可达", func(t *testing.T) {
		ch := NewLocalChannel(LocalConfig{BaseURLs: []string{deadURL(t), deadURL(t)}, Timeout: time.Second}, discardLogger())
		urls, notice, reachable := ch.Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.False(t, reachable)
		assert.Equal(t, "即梦 local 接口不可达", notice)
	})

	t.Run("可达但业务失败", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"message":"积分不足"}`))
		}))
		defer srv.Close()
		ch := NewLocalChannel(LocalConfig{BaseURLs: []string{srv.URL}, Timeout: time.Second}, discardLogger())
		urls, notice, reachable := ch.Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.True(t, reachable)
		assert.Equal(t, "积分不足", notice)
	})

	t.Run("HTTP 错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("bad gateway"))
		}))
		defer srv.Close()
		ch := NewLocalChannel(LocalConfig{BaseURLs: []string{srv.URL}, Timeout: time.Second}, discardLogger())
		_, notice, reachable := ch.Generate(context.Background(), []string{"p"})
		assert.True(t, reachable)
		assert.Contains(t, notice, "HTTP 502")
	})
}

// fakeVolc 模拟火山视觉接口：denied 中的 key 返回 access denied
func fakeVolc(t *testing.T, denied map[string]bool, pendingRounds int) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "HMAC-SHA256 Credential=ak/"))
		assert.NotEmpty(t, r.Header.Get("X-Date"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		key, _ := body["req_key"].(string)

		switch r.URL.Query().Get("Action") {
		case submitAction:
			if denied[key] {
				_, _ = w.Write([]byte(`{"code":50400,"message":"Access Denied","request_id":"r1"}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":10000,"data":{"task_id":"t-` + key + `"}}`))
		case resultAction:
			assert.Contains(t, body["req_json"], "return_url")
			if int(atomic.AddInt32(&polls, 1)) <= pendingRounds {
				_, _ = w.Write([]byte(`{"code":10000,"data":{"status":"generating"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":10000,"data":{"status":"done","image_urls":["https://img.example.com/` + key + `.png"]}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	return srv, &polls
}

func TestRemoteChannel_Generate(t *testing.T) {
	t.Run("未配置密钥", func(t *testing.T) {
		ch := NewRemoteChannel(RemoteConfig{}, discardLogger())
		urls, notice := ch.Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, NoticeNotReady, notice)
	})

	t.Run("默认模型拒绝后回退并保持粘性", func(t *testing.T) {
		srv, polls := fakeVolc(t, map[string]bool{"k1": true}, 1)
		defer srv.Close()
		ch := NewRemoteChannel(RemoteConfig{
			Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk",
			ReqKeys: []string{"k1", "k2"}, PollInterval: time.Millisecond,
		}, discardLogger())

		urls, notice := ch.Generate(context.Background(), []string{"p1", "p2"})
		assert.Equal(t, []string{"https://img.example.com/k2.png", "https://img.example.com/k2.png"}, urls)
		assert.Equal(t, "k2", ch.EffectiveKey())
		assert.Contains(t, notice, "即梦生图成功，使用模型 k2")
		assert.Contains(t, notice, "检测到默认模型不可用，已自动回退到 k2")
		assert.EqualValues(t, 3, atomic.LoadInt32(polls))
	})

	t.Run("所有模型都拒绝", func(t *testing.T) {
		srv, _ := fakeVolc(t, map[string]bool{"k1": true, "k2": true}, 0)
		defer srv.Close()
		ch := NewRemoteChannel(RemoteConfig{
			Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk",
			ReqKeys: []string{"k1", "k2"}, PollInterval: time.Millisecond,
		}, discardLogger())

		urls, notice := ch.Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, "即梦提交失败[k2]：Access Denied（request_id=r1）", notice)
	})

	t.Run("轮询次数用尽", func(t *testing.T) {
		srv, _ := fakeVolc(t, nil, 100)
		defer srv.Close()
		ch := NewRemoteChannel(RemoteConfig{
			Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk",
			ReqKeys: []string{"k1"}, MaxRetries: 3, PollInterval: time.Millisecond,
		}, discardLogger())

		urls, notice := ch.Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, "即梦任务未返回图片链接[k1]", notice)
	})
}

func TestSignRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://visual.volcengineapi.com/?Action=A&Version=2022-08-31", nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	signRequest(req, []byte(`{}`), "ak", "sk", now)

	assert.Equal(t, "20260301T080000Z", req.Header.Get("X-Date"))
	assert.Equal(t, sha256Hex([]byte(`{}`)), req.Header.Get("X-Content-Sha256"))
	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "HMAC-SHA256 Credential=ak/20260301/cn-north-1/cv/request, SignedHeaders=content-type;host;x-content-sha256;x-date, Signature="))

	again := httptest.NewRequest(http.MethodPost, "https://visual.volcengineapi.com/?Version=2022-08-31&Action=A", nil)
	signRequest(again, []byte(`{}`), "ak", "sk", now)
	assert.Equal(t, auth, again.Header.Get("Authorization"), "查询参数顺序不影响签名")
}

func TestService_Generate(t *testing.T) {
	t.Run("local 不可达时回退 AK/SK", func(t *testing.T) {
		srv, _ := fakeVolc(t, nil, 0)
		defer srv.Close()
		local := NewLocalChannel(LocalConfig{BaseURLs: []string{deadURL(t)}, Timeout: time.Second}, discardLogger())
		remote := NewRemoteChannel(RemoteConfig{
			Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk",
			ReqKeys: []string{"k1"}, PollInterval: time.Millisecond,
		}, discardLogger())

		urls, notice := NewServiceWithChannels("local", local, remote).Generate(context.Background(), []string{"p"})
		assert.Equal(t, []string{"https://img.example.com/k1.png"}, urls)
		assert.Equal(t, "local 通道不可用，已自动回退 AK/SK 通道（即梦 local 接口不可达）；即梦生图成功，使用模型 k1", notice)
	})

	t.Run("local 可达但失败时不回退", func(t *testing.T) {
		var remoteHits int32
		remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&remoteHits, 1)
		}))
		defer remoteSrv.Close()
		localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"model busy"}`))
		}))
		defer localSrv.Close()

		local := NewLocalChannel(LocalConfig{BaseURLs: []string{localSrv.URL}, Timeout: time.Second}, discardLogger())
		remote := NewRemoteChannel(RemoteConfig{Endpoint: remoteSrv.URL, AccessKey: "ak", SecretKey: "sk"}, discardLogger())

		urls, notice := NewServiceWithChannels("", local, remote).Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, "model busy", notice)
		assert.Zero(t, atomic.LoadInt32(&remoteHits))
	})

	t.Run("两个通道都失败", func(t *testing.T) {
		local := NewLocalChannel(LocalConfig{BaseURLs: []string{deadURL(t)}, Timeout: time.Second}, discardLogger())
		remote := NewRemoteChannel(RemoteConfig{}, discardLogger())
		urls, notice := NewServiceWithChannels("local", local, remote).Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, "即梦 local 接口不可达；"+NoticeNotReady, notice)
	})

	t.Run("api 通道只走 AK/SK", func(t *testing.T) {
		remote := NewRemoteChannel(RemoteConfig{}, discardLogger())
		urls, notice := NewServiceWithChannels("API", nil, remote).Generate(context.Background(), []string{"p"})
		assert.Empty(t, urls)
		assert.Equal(t, NoticeNotReady, notice)
	})
}
