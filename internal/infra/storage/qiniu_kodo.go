/*
 * @Description: 七牛云Kodo转存实现
 * @Author: 安知鱼
 * @Date: 2025-01-05 00:00:00
 * @LastEditTime: 2026-03-07 15:10:40
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

	"github.com/qiniu/go-sdk/v7/auth"
	"github.com/qiniu/go-sdk/v7/storage"
)

type qiniuHost struct {
	cfg HostConfig
	mac *auth.Credentials
}

func newQiniuHost(cfg HostConfig) (ImageHost, error) {
	// 七牛没有固定的公网默认域名，必须配置 CDN 域名
	if cfg.Domain == "" {
		return nil, fmt.Errorf("七牛云转存需要配置 Storage.Domain")
	}
	return &qiniuHost{cfg: cfg, mac: auth.New(cfg.AccessKey, cfg.SecretKey)}, nil
}

func (h *qiniuHost) Name() string { return ProviderQiniu }

// uploadConfig 从 Region 或 Endpoint 推断区域
// z0=华东, z1=华北, z2=华南, na0=北美, as0=东南亚
func (h *qiniuHost) uploadConfig() *storage.Config {
	cfg := &storage.Config{UseHTTPS: true}
	hint := strings.ToLower(h.cfg.Region + " " + h.cfg.Endpoint)
	switch {
	case strings.Contains(hint, "z1"):
		cfg.Region = &storage.ZoneHuabei
	case strings.Contains(hint, "z2"):
		cfg.Region = &storage.ZoneHuanan
	case strings.Contains(hint, "na0"):
		cfg.Region = &storage.ZoneBeimei
	case strings.Contains(hint, "as0"):
		cfg.Region = &storage.ZoneXinjiapo
	default:
		cfg.Region = &storage.ZoneHuadong
	}
	return cfg
}

func (h *qiniuHost) Put(ctx context.Context, data []byte, ext string) (string, error) {
	key := buildObjectKey(h.cfg.BasePath, ext, time.Now())
	putPolicy := storage.PutPolicy{Scope: fmt.Sprintf("%s:%s", h.cfg.Bucket, key)}
	upToken := putPolicy.UploadToken(h.mac)

	uploader := storage.NewFormUploader(h.uploadConfig())
	ret := storage.PutRet{}
	extra := storage.PutExtra{MimeType: contentTypeOf(path.Ext(key))}
	if err := uploader.Put(ctx, &ret, upToken, key, bytes.NewReader(data), int64(len(data)), &extra); err != nil {
		return "", fmt.Errorf("上传文件到七牛云失败: %w", err)
	}
	log.Printf("[七牛云] 配图转存成功: key=%s, hash=%s", key, ret.Hash)
	return publicURL(h.cfg.Domain, key), nil
}
