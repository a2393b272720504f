/*
 * @Description: 生成配图转存到对象存储的统一接口
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-03-07 15:02:11
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 支持的对象存储
const (
	ProviderQiniu = "qiniu"
	ProviderS3    = "s3"
	ProviderOSS   = "oss"
	ProviderCOS   = "cos"
)

var ErrUnknownProvider = errors.New("不支持的对象存储类型")

// HostConfig 对应配置文件中的 [Storage] 段
type HostConfig struct {
	Provider  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
	Domain    string // 访问域名，为空时按各家默认域名拼接
	BasePath  string
}

// ImageHost 把图片字节上传到对象存储并返回可公开访问的 URL。
// 即梦等生成服务返回的链接有时效，转存后写入草稿才不会过期。
type ImageHost interface {
	Name() string
	Put(ctx context.Context, data []byte, ext string) (string, error)
}

// NewImageHost 根据配置创建转存实现，Provider 为空时返回 nil 表示不转存
func NewImageHost(cfg HostConfig) (ImageHost, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("对象存储 %s 缺少 Bucket 配置", provider)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("对象存储 %s 缺少 AccessKey/SecretKey", provider)
	}
	switch provider {
	case ProviderQiniu:
		return newQiniuHost(cfg)
	case ProviderS3:
		return newS3Host(cfg)
	case ProviderOSS:
		return newOSSHost(cfg)
	case ProviderCOS:
		return newCOSHost(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

// buildObjectKey 生成 basePath/年/月/日/uuid.ext 形式的对象键，不以斜杠开头
func buildObjectKey(basePath, ext string, now time.Time) string {
	if ext == "" {
		ext = ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := uuid.NewString() + strings.ToLower(ext)
	key := path.Join(strings.Trim(basePath, "/"), now.Format("2006/01/02"), name)
	return strings.TrimPrefix(key, "/")
}

// publicURL 拼接访问地址，domain 缺少协议时补 https
func publicURL(domain, key string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain + "/" + key
}

func contentTypeOf(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "image/jpeg"
}
