package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyPNG 生成随机像素的 PNG，保证体积足够大、压缩效果可观察
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompress(t *testing.T) {
	src := noisyPNG(t, 400, 400)

	t.Run("体积达标的PNG原样返回", func(t *testing.T) {
		out, ext, err := Compress(src, len(src)+1)
		require.NoError(t, err)
		assert.Equal(t, ".png", ext)
		assert.Equal(t, len(src), len(out))
	})

	t.Run("超限时转JPEG并压到限制内", func(t *testing.T) {
		limit := 30 * 1024
		out, ext, err := Compress(src, limit)
		require.NoError(t, err)
		assert.Equal(t, ".jpg", ext)
		assert.LessOrEqual(t, len(out), limit)
		assert.Equal(t, "jpeg", DetectFormat(out))
	})

	t.Run("无法识别的数据", func(t *testing.T) {
		_, _, err := Compress([]byte("not an image"), 1024)
		assert.Error(t, err)
	})
}

func TestDownload_HeaderFallback(t *testing.T) {
	payload := noisyPNG(t, 20, 20)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// 只接受第三组请求头
		if r.Header.Get("User-Agent") != "curl/8.7.1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	svc := NewService(srv.Client(), "test-agent", 0)
	data, err := svc.Download(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDownload_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewService(srv.Client(), "", 0).Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "h1 HTTP 404")
	assert.Contains(t, err.Error(), "h3 HTTP 404")
}

type fakeHost struct{ got []byte }

func (f *fakeHost) Name() string { return "fake" }
func (f *fakeHost) Put(_ context.Context, data []byte, ext string) (string, error) {
	f.got = data
	return "https://cdn.example.com/x" + ext, nil
}

func TestRehost(t *testing.T) {
	payload := noisyPNG(t, 20, 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()
	svc := NewService(srv.Client(), "", 0)

	same, err := svc.Rehost(context.Background(), nil, srv.URL, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, same)

	host := &fakeHost{}
	url, err := svc.Rehost(context.Background(), host, srv.URL, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.png", url)
	assert.Equal(t, payload, host.got)
}
