/*
 * @Description: Redis 连接，用于 access_token 缓存与跨进程计数
 * @Author: 安知鱼
 * @Date: 2025-06-15 11:30:55
 * @LastEditTime: 2026-02-16 10:04:17
 * @LastEditors: 安知鱼
 */
package database

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 返回 Redis 客户端；未配置或连接失败时返回 nil，上层降级到内存缓存
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisAddr := strings.TrimSpace(cfg.GetString(config.KeyRedisAddr))
	if redisAddr == "" {
		log.Println("⚠️  Redis 地址未配置，将使用内存缓存")
		return nil, nil
	}

	redisDBStr := strings.TrimSpace(cfg.GetString(config.KeyRedisDB))
	if redisDBStr == "" {
		redisDBStr = "10"
	}
	redisDB, err := strconv.Atoi(redisDBStr)
	if err != nil {
		log.Printf("⚠️  无效的 Redis.DB 值 '%s': %v，将使用内存缓存", redisDBStr, err)
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     cfg.GetString(config.KeyRedisPassword),
		DB:           redisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("⚠️  连接 Redis (%s, DB %d) 失败: %v，将使用内存缓存", redisAddr, redisDB, err)
		rdb.Close()
		return nil, nil
	}

	log.Printf("✅ 成功连接到 Redis (%s, DB %d)", redisAddr, redisDB)
	return rdb, nil
}
