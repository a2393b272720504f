/*
 * @Description: 腾讯云COS转存实现
 * @Author: 安知鱼
 * @Date: 2025-08-02 16:40:55
 * @LastEditTime: 2026-03-07 15:31:02
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

type cosHost struct {
	cfg       HostConfig
	bucketURL string
	client    *cos.Client
}

func newCOSHost(cfg HostConfig) (ImageHost, error) {
	// Endpoint 直接写存储桶域名；未写时用 bucket + region 拼出默认域名
	bucketURL := cfg.Endpoint
	if bucketURL == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("腾讯云COS转存需要配置 Storage.Endpoint 或 Storage.Region")
		}
		bucketURL = fmt.Sprintf("https://%s.cos.%s.myqcloud.com", cfg.Bucket, cfg.Region)
	}
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("解析存储桶URL失败: %w", err)
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: 100 * time.Second,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
	})
	return &cosHost{cfg: cfg, bucketURL: bucketURL, client: client}, nil
}

func (h *cosHost) Name() string { return ProviderCOS }

func (h *cosHost) Put(ctx context.Context, data []byte, ext string) (string, error) {
	key := buildObjectKey(h.cfg.BasePath, ext, time.Now())
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: contentTypeOf(path.Ext(key)),
		},
	}
	if _, err := h.client.Object.Put(ctx, key, bytes.NewReader(data), opt); err != nil {
		return "", fmt.Errorf("上传文件到腾讯云COS失败: %w", err)
	}
	log.Printf("[腾讯云COS] 配图转存成功: key=%s", key)
	domain := h.cfg.Domain
	if domain == "" {
		domain = h.bucketURL
	}
	return publicURL(domain, key), nil
}
