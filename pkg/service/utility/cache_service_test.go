package utility

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetExpire(t *testing.T) {
	svc := NewMemoryCacheService()
	defer svc.(*memoryCacheService).Stop()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", "v", 0))
	v, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, svc.Set(ctx, "short", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	v, _ = svc.Get(ctx, "short")
	assert.Empty(t, v, "过期键应返回空")

	v, _ = svc.Get(ctx, "missing")
	assert.Empty(t, v)
}

func TestMemoryCache_SetNX(t *testing.T) {
	svc := NewMemoryCacheService()
	defer svc.(*memoryCacheService).Stop()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := svc.SetNX(ctx, "marker", 1, time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins, "并发 SetNX 只能有一个成功")

	require.NoError(t, svc.Delete(ctx, "marker"))
	ok, err := svc.SetNX(ctx, "marker", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_IncrementAndScan(t *testing.T) {
	svc := NewMemoryCacheService()
	defer svc.(*memoryCacheService).Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Increment(ctx, "task:pending:t1:f1")
		require.NoError(t, err)
	}
	v, _ := svc.Get(ctx, "task:pending:t1:f1")
	assert.Equal(t, "3", v)
	require.NoError(t, svc.Set(ctx, "task:pending:t2:f9", 1, 0))
	require.NoError(t, svc.Set(ctx, "wechat:token:x", 1, 0))

	keys, err := svc.Scan(ctx, "task:pending:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task:pending:t1:f1", "task:pending:t2:f9"}, keys)
}

func TestMatchPattern(t *testing.T) {
	testCases := []struct {
		name    string
		s       string
		pattern string
		want    bool
	}{
		{"无通配符相等", "abc", "abc", true},
		{"前缀", "task:pending:1", "task:pending:*", true},
		{"中间通配", "task:pending:t1:f1", "task:*:t1:*", true},
		{"前缀不符", "wechat:token", "task:*", false},
		{"后缀", "a.b.c", "*.c", true},
		{"后缀不符", "a.b.c", "*.d", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchPattern(tc.s, tc.pattern))
		})
	}
}

func TestPathLocker_Serializes(t *testing.T) {
	locker := NewPathLocker()
	var counter, maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locker.Lock("alice.jsonl")
			defer locker.Unlock("alice.jsonl")
			cur := atomic.AddInt32(&counter, 1)
			if cur > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, cur)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, locker.locks, "无等待者时应回收锁对象")
}
