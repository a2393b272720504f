/*
 * @Description: 配图下载、解码与压缩
 * @Author: 安知鱼
 * @Date: 2026-02-26 14:12:09
 * @LastEditTime: 2026-03-07 16:40:33
 * @LastEditors: 安知鱼
 */
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/storage"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
)

const (
	// DownloadTimeout 单次下载超时
	DownloadTimeout = 30 * time.Second
	// maxDownloadBytes 下载体积上限，防止异常链接拖垮内存
	maxDownloadBytes = 20 << 20

	minEdge = 100
	// minScale 相对原图的最小缩放比例
	minScale = 0.35
)

var ErrEmptyImage = errors.New("图片内容为空")

// headerProfiles 依次尝试的请求头。
// 公众号图床校验 Referer，即梦图床校验 Origin，最后用最朴素的请求头兜底。
func headerProfiles(userAgent string) []map[string]string {
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}
	return []map[string]string{
		{
			"User-Agent": userAgent,
			"Referer":    "https://mp.weixin.qq.com/",
			"Accept":     "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
		},
		{
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
			"Referer":    "https://dreamina.capcut.com/",
			"Origin":     "https://dreamina.capcut.com",
			"Accept":     "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
		},
		{
			"User-Agent": "curl/8.7.1",
			"Accept":     "*/*",
		},
	}
}

// Service 负责把外链图片变成符合平台限制的字节流
type Service struct {
	client         *http.Client
	userAgent      string
	bytesPerSecond int64
}

// NewService bytesPerSecond <= 0 表示下载不限速
func NewService(client *http.Client, userAgent string, bytesPerSecond int64) *Service {
	if client == nil {
		client = &http.Client{}
	}
	return &Service{client: client, userAgent: userAgent, bytesPerSecond: bytesPerSecond}
}

// Download 依次使用三组请求头下载图片，任一成功即返回
func (s *Service) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var errs []string
	for idx, headers := range headerProfiles(s.userAgent) {
		data, err := s.fetch(ctx, rawURL, headers)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Sprintf("h%d %v", idx+1, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("图片下载失败 %s", strings.Join(errs, "；"))
}

func (s *Service) fetch(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求异常: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	w := utils.NewThrottledWriter(&buf, s.bytesPerSecond, reqCtx)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxDownloadBytes)); err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyImage
	}
	return buf.Bytes(), nil
}

// DetectFormat 返回 jpeg/png/gif/webp/bmp，无法识别时返回空串
func DetectFormat(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return format
}

// ExtOf 按图片格式返回扩展名
func ExtOf(format string) string {
	switch format {
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "jpeg", "":
		return ".jpg"
	default:
		return "." + format
	}
}

// Compress 把图片压到 maxSize 字节以内。
// 已满足体积且为 jpeg/png 的原样返回；否则转 JPEG，先逐级降质量到 30，再按 0.9 比例缩小，
// 累计缩放不低于 0.35 倍且边长不小于 100 像素。
func Compress(data []byte, maxSize int) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	format := DetectFormat(data)
	if format == "" {
		return nil, "", fmt.Errorf("无法识别的图片格式")
	}
	if len(data) <= maxSize && (format == "jpeg" || format == "png") {
		return data, ExtOf(format), nil
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("图片解码失败: %w", err)
	}

	var img image.Image = src
	origin := src.Bounds()
	quality := 85
	scale := 1.0
	for {
		var out bytes.Buffer
		if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", fmt.Errorf("图片编码失败: %w", err)
		}
		if out.Len() <= maxSize {
			return out.Bytes(), ".jpg", nil
		}
		if quality > 30 {
			quality -= 10
			continue
		}
		scale *= 0.9
		w, h := int(float64(origin.Dx())*scale), int(float64(origin.Dy())*scale)
		if scale < minScale || w < minEdge || h < minEdge {
			// 已经缩到极限，返回当前结果
			return out.Bytes(), ".jpg", nil
		}
		img = imaging.Resize(src, w, h, imaging.Lanczos)
	}
}

// DownloadAndCompress 下载外链并压缩到 maxSize 以内
func (s *Service) DownloadAndCompress(ctx context.Context, rawURL string, maxSize int) ([]byte, string, error) {
	data, err := s.Download(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	return Compress(data, maxSize)
}

// Rehost 把生成服务的临时链接转存到对象存储，host 为 nil 时原样返回
func (s *Service) Rehost(ctx context.Context, host storage.ImageHost, rawURL string, maxSize int) (string, error) {
	if host == nil {
		return rawURL, nil
	}
	data, ext, err := s.DownloadAndCompress(ctx, rawURL, maxSize)
	if err != nil {
		return "", err
	}
	return host.Put(ctx, data, ext)
}
