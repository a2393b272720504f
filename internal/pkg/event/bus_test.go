package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var wg sync.WaitGroup
	got := make([]int, 0)
	wg.Add(2)
	bus.Subscribe(ArticlesCrawled, func(payload interface{}) {
		defer wg.Done()
		p := payload.(*ArticlesCrawledPayload)
		mu.Lock()
		got = append(got, p.Count)
		mu.Unlock()
	})

	bus.Publish(ArticlesCrawled, &ArticlesCrawledPayload{Count: 1})
	bus.Publish(ArticlesCrawled, &ArticlesCrawledPayload{Count: 2})
	bus.Publish(NoticeCreated, "无人订阅的事件会被忽略")
	wg.Wait()
	bus.Shutdown()

	assert.ElementsMatch(t, []int{1, 2}, got)
}
