package draft

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := NewJournal(t.TempDir(), nil)
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	j.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return j
}

func TestSafeOwner(t *testing.T) {
	testCases := []struct {
		name  string
		owner string
		want  string
	}{
		{name: "普通ID", owner: "user_01-a.b", want: "user_01-a.b"},
		{name: "路径字符被替换", owner: "../etc/passwd", want: ".._etc_passwd"},
		{name: "中文被替换", owner: "安知鱼", want: "___"},
		{name: "空ID", owner: "", want: "anonymous"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SafeOwner(tc.owner))
		})
	}
}

func TestJournal_AppendListGet(t *testing.T) {
	j := newTestJournal(t)

	var ids []string
	for i := 0; i < 3; i++ {
		d, err := j.Append("u1", Entry{ArticleID: fmt.Sprintf("a%d", i), Title: fmt.Sprintf(" 标题%d ", i), Content: "正文", Platform: " WeChat "})
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	_, err := j.Append("u2", Entry{Title: "别人的草稿"})
	require.NoError(t, err)

	list, err := j.List("u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "最新的在前")
	assert.Equal(t, ids[1], list[1].ID)
	assert.Equal(t, "标题2", list[0].Title)
	assert.Equal(t, "wechat", list[0].Platform)
	assert.Equal(t, "create", list[0].Mode)

	got, err := j.Get("u1", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a0", got.ArticleID)

	_, err = j.Get("u2", ids[0])
	assert.ErrorIs(t, err, constant.ErrNotFound)

	empty, err := j.List("nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestJournal_SkipsBrokenLines(t *testing.T) {
	j := newTestJournal(t)
	d, err := j.Append("u1", Entry{Title: "好的"})
	require.NoError(t, err)

	f, err := os.OpenFile(j.path("u1"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	list, err := j.List("u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d.ID, list[0].ID)
}

func TestJournal_UpdateAndDelete(t *testing.T) {
	j := newTestJournal(t)
	a, _ := j.Append("u1", Entry{Title: "A", Metadata: map[string]interface{}{"k": "v"}})
	b, _ := j.Append("u1", Entry{Title: "B"})
	c, _ := j.Append("u1", Entry{Title: "C"})

	updated, err := j.Update("u1", a.ID, Patch{Title: "A2", Content: "新正文", Mode: "Rewrite"})
	require.NoError(t, err)
	assert.Equal(t, "A2", updated.Title)
	assert.Equal(t, "rewrite", updated.Mode)
	assert.Equal(t, "v", updated.Metadata["k"], "Metadata 为 nil 时保留原值")
	assert.NotEmpty(t, updated.UpdatedAt)

	_, err = j.Update("u1", "missing", Patch{Title: "x"})
	assert.ErrorIs(t, err, constant.ErrNotFound)

	ok, err := j.Delete("u1", b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = j.Delete("u1", b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := j.DeleteBatch("u1", []string{a.ID, c.ID, "missing", " "})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, _ := j.List("u1", 10)
	assert.Empty(t, list)

	leftovers, _ := filepath.Glob(filepath.Join(j.dir, "*.tmp"))
	assert.Empty(t, leftovers, "临时文件应已 rename")
}

func TestJournal_MarkDelivery(t *testing.T) {
	j := newTestJournal(t)
	d, _ := j.Append("u1", Entry{Title: "投递"})

	got, err := j.MarkDelivery("u1", d.ID, Delivery{Platform: "wechat", Status: "FAILED", Message: "网络错误", Source: SourceMessageTaskAuto, TaskID: "t1"})
	require.NoError(t, err)
	st := DeliveryStates(got)["wechat"]
	assert.Equal(t, model.DeliveryStatusFailed, st.Status)
	assert.Empty(t, st.DeliveredAt)
	assert.Equal(t, "t1", st.TaskID)
	require.Len(t, st.History, 1)

	got, err = j.MarkDelivery("u1", d.ID, Delivery{
		Platform: "wechat",
		Status:   "success",
		Message:  "ok",
		Extra:    map[string]interface{}{"media_id": "m1", strings.Repeat("k", 80): strings.Repeat("长", 1200)},
	})
	require.NoError(t, err)
	st = DeliveryStates(got)["wechat"]
	assert.Equal(t, model.DeliveryStatusSuccess, st.Status)
	assert.NotEmpty(t, st.DeliveredAt)
	assert.Equal(t, SourceMessageTaskAuto, st.Source, "未提供来源时沿用上次")
	assert.Equal(t, "m1", st.Extra["media_id"])
	assert.Equal(t, 1000, len([]rune(st.Extra[strings.Repeat("k", 64)].(string))))
	require.Len(t, st.History, 2)
	assert.Equal(t, "success", st.History[0].Status, "新记录在前")

	for i := 0; i < 30; i++ {
		_, err = j.MarkDelivery("u1", d.ID, Delivery{Platform: "wechat", Status: "failed"})
		require.NoError(t, err)
	}
	reloaded, err := j.Get("u1", d.ID)
	require.NoError(t, err)
	assert.Len(t, DeliveryStates(reloaded)["wechat"].History, model.DeliveryHistoryLimit)

	_, err = j.MarkDelivery("u1", "missing", Delivery{Platform: "csdn", Status: "success"})
	assert.ErrorIs(t, err, constant.ErrNotFound)
}

func TestJournal_ConcurrentWrites(t *testing.T) {
	j := newTestJournal(t)
	d, _ := j.Append("u1", Entry{Title: "并发"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = j.Append("u1", Entry{Title: "追加"})
		}()
		go func() {
			defer wg.Done()
			_, _ = j.MarkDelivery("u1", d.ID, Delivery{Platform: "csdn", Status: "failed"})
		}()
	}
	wg.Wait()

	list, err := j.List("u1", 100)
	require.NoError(t, err)
	assert.Len(t, list, 11)
	got, _ := j.Get("u1", d.ID)
	assert.Len(t, DeliveryStates(got)["csdn"].History, 10)
}

func TestCoverURL(t *testing.T) {
	assert.Equal(t, "https://a/c.png", CoverURL(&model.Draft{Metadata: map[string]interface{}{"cover_url": "https://a/c.png"}, Content: "![x](https://b/x.png)"}))
	assert.Equal(t, "https://b/x.png", CoverURL(&model.Draft{Content: "前言 ![x](https://b/x.png)"}))
	assert.Empty(t, CoverURL(&model.Draft{Content: "纯文本"}))
	assert.Empty(t, CoverURL(nil))
}
