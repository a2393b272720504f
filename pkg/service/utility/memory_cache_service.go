/*
 * @Description: 内存缓存服务实现（用于 Redis 不可用时的降级方案）
 * @Author: 安知鱼
 * @Date: 2025-10-05 00:00:00
 * @LastEditTime: 2026-02-17 09:40:51
 * @LastEditors: 安知鱼
 */
package utility

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cacheItem 缓存项结构
type cacheItem struct {
	value      string
	expiration time.Time
	hasExpiry  bool
}

func newCacheItem(value interface{}, expiration time.Duration) *cacheItem {
	item := &cacheItem{value: fmt.Sprintf("%v", value), hasExpiry: expiration > 0}
	if expiration > 0 {
		item.expiration = time.Now().Add(expiration)
	}
	return item
}

func (item *cacheItem) isExpired() bool {
	if !item.hasExpiry {
		return false
	}
	return time.Now().After(item.expiration)
}

// memoryCacheService 是基于内存的缓存服务实现
type memoryCacheService struct {
	data   sync.Map
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewMemoryCacheService 创建内存缓存服务实例
func NewMemoryCacheService() CacheService {
	svc := &memoryCacheService{
		ticker: time.NewTicker(1 * time.Minute), // 每分钟清理一次过期数据
		done:   make(chan struct{}),
	}
	go svc.cleanupExpired()
	return svc
}

func (s *memoryCacheService) cleanupExpired() {
	for {
		select {
		case <-s.ticker.C:
			s.data.Range(func(key, value interface{}) bool {
				if item, ok := value.(*cacheItem); ok && item.isExpired() {
					s.data.Delete(key)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

// Stop 停止清理任务
func (s *memoryCacheService) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}

func (s *memoryCacheService) load(key string) (*cacheItem, bool) {
	value, ok := s.data.Load(key)
	if !ok {
		return nil, false
	}
	item, ok := value.(*cacheItem)
	if !ok || item.isExpired() {
		s.data.CompareAndDelete(key, value)
		return nil, false
	}
	return item, true
}

func (s *memoryCacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.data.Store(key, newCacheItem(value, expiration))
	return nil
}

func (s *memoryCacheService) Get(ctx context.Context, key string) (string, error) {
	item, ok := s.load(key)
	if !ok {
		return "", nil
	}
	return item.value, nil
}

func (s *memoryCacheService) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.data.Delete(key)
	}
	return nil
}

func (s *memoryCacheService) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	item := newCacheItem(value, expiration)
	for {
		existing, loaded := s.data.LoadOrStore(key, item)
		if !loaded {
			return true, nil
		}
		old, ok := existing.(*cacheItem)
		if ok && !old.isExpired() {
			return false, nil
		}
		// 旧值已过期，替换后视为写入成功
		if s.data.CompareAndSwap(key, existing, item) {
			return true, nil
		}
	}
}

// Increment 原子地增加一个键的值
func (s *memoryCacheService) Increment(ctx context.Context, key string) (int64, error) {
	for {
		value, loaded := s.data.LoadOrStore(key, &cacheItem{value: "1"})
		if !loaded {
			return 1, nil
		}
		item := value.(*cacheItem)
		if item.isExpired() {
			if s.data.CompareAndSwap(key, value, &cacheItem{value: "1"}) {
				return 1, nil
			}
			continue
		}

		currentVal, err := strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("键 %s 的值不是整数", key)
		}
		newItem := &cacheItem{
			value:      strconv.FormatInt(currentVal+1, 10),
			expiration: item.expiration,
			hasExpiry:  item.hasExpiry,
		}
		if s.data.CompareAndSwap(key, value, newItem) {
			return currentVal + 1, nil
		}
		// CAS 失败，重试
	}
}

func (s *memoryCacheService) Expire(ctx context.Context, key string, expiration time.Duration) error {
	item, ok := s.load(key)
	if !ok {
		return fmt.Errorf("key not found")
	}
	s.data.Store(key, &cacheItem{value: item.value, expiration: time.Now().Add(expiration), hasExpiry: true})
	return nil
}

// Scan 查找匹配的键（只支持 * 通配符）
func (s *memoryCacheService) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	s.data.Range(func(key, value interface{}) bool {
		keyStr := key.(string)
		if item, ok := value.(*cacheItem); ok && !item.isExpired() && matchPattern(keyStr, pattern) {
			keys = append(keys, keyStr)
		}
		return true
	})
	return keys, nil
}

// matchPattern 简单的模式匹配（支持 * 通配符）
func matchPattern(s, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return s == pattern
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		pos := strings.Index(s, part)
		if pos == -1 {
			return false
		}
		s = s[pos+len(part):]
	}
	return strings.HasSuffix(s, last)
}
