/*
 * @Description: AWS S3 及兼容服务（MinIO、R2 等）转存实现
 * @Author: 安知鱼
 * @Date: 2025-07-30 10:12:31
 * @LastEditTime: 2026-03-07 15:18:05
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Host struct {
	cfg    HostConfig
	client *s3.Client
}

func newS3Host(cfg HostConfig) (ImageHost, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("创建AWS S3配置失败: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // 自定义 endpoint 通常需要 path-style
		}
	})
	return &s3Host{cfg: cfg, client: client}, nil
}

func (h *s3Host) Name() string { return ProviderS3 }

func (h *s3Host) Put(ctx context.Context, data []byte, ext string) (string, error) {
	key := buildObjectKey(h.cfg.BasePath, ext, time.Now())

	// 显式带上长度和 SHA256，兼容 Ceph RGW 等对校验更严格的服务
	sum := sha256.Sum256(data)
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(h.cfg.Bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ContentType:    aws.String(contentTypeOf(path.Ext(key))),
		ChecksumSHA256: aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return "", fmt.Errorf("上传文件到S3失败: %w", err)
	}
	log.Printf("[AWS S3] 配图转存成功: key=%s", key)
	return publicURL(h.domain(), key), nil
}

func (h *s3Host) domain() string {
	if h.cfg.Domain != "" {
		return h.cfg.Domain
	}
	if h.cfg.Endpoint != "" {
		return strings.TrimRight(h.cfg.Endpoint, "/") + "/" + h.cfg.Bucket
	}
	region := h.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", h.cfg.Bucket, region)
}
