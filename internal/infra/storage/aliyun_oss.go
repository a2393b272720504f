/*
 * @Description: 阿里云OSS转存实现
 * @Author: 安知鱼
 * @Date: 2025-08-02 14:20:10
 * @LastEditTime: 2026-03-07 15:25:47
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossHost struct {
	cfg    HostConfig
	bucket *oss.Bucket
}

func newOSSHost(cfg HostConfig) (ImageHost, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("阿里云OSS转存需要配置 Storage.Endpoint 或 Storage.Region")
		}
		endpoint = fmt.Sprintf("https://%s.aliyuncs.com", cfg.Region)
	}
	client, err := oss.New(endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云OSS客户端失败: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("获取阿里云OSS存储桶失败: %w", err)
	}
	cfg.Endpoint = endpoint
	return &ossHost{cfg: cfg, bucket: bucket}, nil
}

func (h *ossHost) Name() string { return ProviderOSS }

func (h *ossHost) Put(ctx context.Context, data []byte, ext string) (string, error) {
	key := buildObjectKey(h.cfg.BasePath, ext, time.Now())
	err := h.bucket.PutObject(key, bytes.NewReader(data),
		oss.ContentType(contentTypeOf(path.Ext(key))),
		oss.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("上传文件到阿里云OSS失败: %w", err)
	}
	log.Printf("[阿里云OSS] 配图转存成功: key=%s", key)
	return publicURL(h.domain(), key), nil
}

// domain 默认使用 bucket.endpoint 形式的外网域名
func (h *ossHost) domain() string {
	if h.cfg.Domain != "" {
		return h.cfg.Domain
	}
	host := strings.TrimPrefix(strings.TrimPrefix(h.cfg.Endpoint, "https://"), "http://")
	return "https://" + h.cfg.Bucket + "." + strings.TrimRight(host, "/")
}
