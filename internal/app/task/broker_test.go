package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/sqlstore"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/crawler"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/pipeline"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingRunner struct {
	mu      sync.Mutex
	ticks   []pipeline.Tick
	active  map[string]int
	peak    map[string]int
	started chan struct{}
	release chan struct{}
}

func newRecordingRunner(blocking bool) *recordingRunner {
	r := &recordingRunner{started: make(chan struct{}, 16), active: map[string]int{}, peak: map[string]int{}}
	if blocking {
		r.release = make(chan struct{})
	}
	return r
}

func (r *recordingRunner) Run(ctx context.Context, tick pipeline.Tick) *pipeline.Report {
	id := tick.Task.ID
	r.mu.Lock()
	r.ticks = append(r.ticks, tick)
	r.active[id]++
	r.peak[id] = max(r.peak[id], r.active[id])
	r.mu.Unlock()
	r.started <- struct{}{}
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	r.active[id]--
	r.mu.Unlock()
	return &pipeline.Report{}
}

func (r *recordingRunner) peakOf(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak[taskID]
}

// spyTasks 统计 FindByID 次数，并可以让任务从启用列表中消失
type spyTasks struct {
	repository.TaskRepository
	finds  atomic.Int64
	hidden map[string]bool
}

func (s *spyTasks) FindByID(ctx context.Context, id string) (*model.Task, error) {
	s.finds.Add(1)
	return s.TaskRepository.FindByID(ctx, id)
}

func (s *spyTasks) ListActive(ctx context.Context, ownerID string) ([]*model.Task, error) {
	tasks, err := s.TaskRepository.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if !s.hidden[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func waitStarted(t *testing.T, r *recordingRunner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.started:
		case <-time.After(3 * time.Second):
			t.Fatalf("等待第 %d 次执行超时", i+1)
		}
	}
}

func newRepos(t *testing.T) repository.Repositories {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "task.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrationService(db, "sqlite").RunMigrations(ctx))
	return sqlstore.NewRepositories(db, "sqlite")
}

func seedFeeds(t *testing.T, repos repository.Repositories, owner string, n int) []*model.Feed {
	t.Helper()
	var feeds []*model.Feed
	for i := 0; i < n; i++ {
		f := &model.Feed{OwnerID: owner, SourceID: "MzA" + string(rune('a'+i)), DisplayName: "号" + string(rune('A'+i))}
		require.NoError(t, repos.Feed.Create(context.Background(), f))
		feeds = append(feeds, f)
	}
	return feeds
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"标准五段", "*/5 * * * *", false},
		{"带秒六段", "0 */5 * * * *", false},
		{"描述符", "@every 1m", false},
		{"空表达式", "  ", true},
		{"非法表达式", "every five minutes", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec(tt.expr)
			if tt.wantErr {
				assert.True(t, errors.Is(err, constant.ErrBadRequest))
				return
			}
			assert.NoError(t, err)
		})
	}

	runs, err := NextRuns("0 9 * * *", time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, runs[0].Day())
	assert.Equal(t, 3, runs[1].Day())
}

func TestBroker_ScheduleAndReload(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	b := NewBroker(Deps{Tasks: repos.Task, Feeds: repos.Feed, Runner: newRecordingRunner(false)}, Options{})
	defer b.Stop()

	t1 := &model.Task{OwnerID: "u1", Name: "任务1", CronExpr: "*/5 * * * *"}
	t2 := &model.Task{OwnerID: "u2", Name: "任务2", CronExpr: "0 8 * * *"}
	require.NoError(t, repos.Task.Create(ctx, t1))
	require.NoError(t, repos.Task.Create(ctx, t2))

	_, err := b.Schedule(t1)
	require.NoError(t, err)
	_, err = b.Schedule(t1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().Scheduled, "重复注册只保留一个条目")

	_, err = b.Schedule(&model.Task{ID: "bad", CronExpr: "nope"})
	assert.True(t, errors.Is(err, constant.ErrBadRequest))

	n, err := b.Reload(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, b.Stats().Scheduled)

	n, err = b.Reload(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, b.Stats().Scheduled)

	b.Unschedule(t1.ID)
	assert.Equal(t, 1, b.Stats().Scheduled)
}

func TestBroker_RunNowCrawlFansOutPerFeed(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	feeds := seedFeeds(t, repos, "u1", 2)
	runner := newRecordingRunner(false)
	b := NewBroker(Deps{Tasks: repos.Task, Feeds: repos.Feed, Runner: runner}, Options{Workers: 1})
	defer b.Stop()

	task := &model.Task{OwnerID: "u1", Name: "抓取", CronExpr: "*/5 * * * *"}
	require.NoError(t, repos.Task.Create(ctx, task))

	n, err := b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "未选择订阅源时覆盖用户全部订阅源")
	waitStarted(t, runner, 2)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	var got []string
	for _, tick := range runner.ticks {
		require.Len(t, tick.Feeds, 1)
		got = append(got, tick.Feeds[0].ID)
	}
	assert.ElementsMatch(t, []string{feeds[0].ID, feeds[1].ID}, got)
}

func TestBroker_PublishTickDedupe(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	feeds := seedFeeds(t, repos, "u1", 3)
	runner := newRecordingRunner(true)
	b := NewBroker(Deps{Tasks: repos.Task, Feeds: repos.Feed, Runner: runner}, Options{Workers: 1})

	task := &model.Task{
		OwnerID:  "u1",
		Name:     "发布",
		CronExpr: "*/5 * * * *",
		TaskType: model.TaskTypePublish,
		FeedIDs:  model.IDList{feeds[0].ID, feeds[2].ID},
	}
	require.NoError(t, repos.Task.Create(ctx, task))

	n, err := b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitStarted(t, runner, 1)

	// worker 正在执行第一次，此时再入队一次
	n, err = b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 已有待执行的同一任务，静默丢弃
	n, err = b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, b.Stats().Pending)

	close(runner.release)
	waitStarted(t, runner, 1)
	b.Stop()

	assert.Equal(t, 2, runner.count())
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.ticks[0].Feeds, 2, "发布任务一次携带全部选中的订阅源")
}

func TestBroker_DisabledTaskNotQueued(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seedFeeds(t, repos, "u1", 1)
	b := NewBroker(Deps{Tasks: repos.Task, Feeds: repos.Feed, Runner: newRecordingRunner(false)}, Options{})
	defer b.Stop()

	task := &model.Task{OwnerID: "u1", Name: "停用", CronExpr: "*/5 * * * *", Status: model.TaskStatusDisabled}
	require.NoError(t, repos.Task.Create(ctx, task))
	_, err := b.RunNow(ctx, task.ID)
	assert.True(t, errors.Is(err, constant.ErrInvalidOperation))

	_, err = b.RunNow(ctx, "missing")
	assert.True(t, errors.Is(err, constant.ErrNotFound))
}

func TestBroker_SameTaskRunsSerially(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seedFeeds(t, repos, "u1", 1)
	runner := newRecordingRunner(true)
	b := NewBroker(Deps{Tasks: repos.Task, Feeds: repos.Feed, Runner: runner}, Options{Workers: 2})

	task := &model.Task{OwnerID: "u1", Name: "抓取", CronExpr: "*/5 * * * *"}
	other := &model.Task{OwnerID: "u1", Name: "另一个任务", CronExpr: "*/5 * * * *"}
	require.NoError(t, repos.Task.Create(ctx, task))
	require.NoError(t, repos.Task.Create(ctx, other))

	n, err := b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	waitStarted(t, runner, 1)

	// 第二次触发被空闲的 worker 取走，但要排在第一次之后
	n, err = b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Eventually(t, func() bool { return b.Stats().Waiting == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, runner.count())

	n, err = b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "等待中的触发仍计为待执行")

	// 其他任务不受影响，可以并行执行
	n, err = b.RunNow(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	waitStarted(t, runner, 1)

	close(runner.release)
	waitStarted(t, runner, 1)
	b.Stop()

	assert.Equal(t, 3, runner.count())
	assert.Equal(t, 1, runner.peakOf(task.ID), "同一任务不能同时执行")
	assert.Zero(t, b.Stats().Running)
	assert.Zero(t, b.Stats().Waiting)
}

func TestBroker_ReloadKeepsPendingTicks(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seedFeeds(t, repos, "u1", 1)
	runner := newRecordingRunner(true)
	spy := &spyTasks{TaskRepository: repos.Task, hidden: map[string]bool{}}
	b := NewBroker(Deps{Tasks: spy, Feeds: repos.Feed, Runner: runner}, Options{Workers: 1})

	keep := &model.Task{OwnerID: "u1", Name: "保留", CronExpr: "*/5 * * * *"}
	drop := &model.Task{OwnerID: "u1", Name: "移除", CronExpr: "*/5 * * * *"}
	require.NoError(t, repos.Task.Create(ctx, keep))
	require.NoError(t, repos.Task.Create(ctx, drop))
	n, err := b.Reload(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = b.RunNow(ctx, keep.ID)
	require.NoError(t, err)
	waitStarted(t, runner, 1)
	_, err = b.RunNow(ctx, keep.ID)
	require.NoError(t, err)
	_, err = b.RunNow(ctx, drop.ID)
	require.NoError(t, err)
	require.Equal(t, 2, b.Stats().Pending)

	spy.hidden[drop.ID] = true
	n, err = b.Reload(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.Stats().Pending, "只清除不再启用的任务的标记")

	n, err = b.RunNow(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "重载后已排队的触发仍然去重")

	close(runner.release)
	b.Stop()
	assert.Equal(t, 3, runner.count())
}

func TestBroker_CronFireOnlyEnqueues(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seedFeeds(t, repos, "u1", 1)
	runner := newRecordingRunner(true)
	spy := &spyTasks{TaskRepository: repos.Task, hidden: map[string]bool{}}
	b := NewBroker(Deps{Tasks: spy, Feeds: repos.Feed, Runner: runner}, Options{Workers: 1})

	task := &model.Task{OwnerID: "u1", Name: "抓取", CronExpr: "*/5 * * * *"}
	require.NoError(t, repos.Task.Create(ctx, task))
	_, err := b.RunNow(ctx, task.ID)
	require.NoError(t, err)
	waitStarted(t, runner, 1)

	before := spy.finds.Load()
	b.onTick(task.ID, task.OwnerID)
	b.onTick(task.ID, task.OwnerID)
	assert.Equal(t, before, spy.finds.Load(), "cron 协程上不读库")
	assert.Equal(t, 1, b.Stats().Queued, "重复触发只入队一次")

	close(runner.release)
	waitStarted(t, runner, 1)
	b.Stop()
	assert.Equal(t, 2, runner.count())
}

type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakeFetcher) FetchArticleContent(ctx context.Context, url string) (string, error) {
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.pages[url], nil
}

func TestContentBackfillJob(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	feed := seedFeeds(t, repos, "u1", 1)[0]
	for _, a := range []*model.Article{
		{ID: "ok", Title: "正常", URL: "https://mp/ok"},
		{ID: "gone", Title: "已删除", URL: "https://mp/gone"},
		{ID: "bare", Title: "没有正文", Description: "一段摘要", URL: "https://mp/bare"},
		{ID: "down", Title: "请求失败", URL: "https://mp/down"},
	} {
		a.OwnerID, a.FeedID = "u1", feed.ID
		_, err := repos.Article.Upsert(ctx, a)
		require.NoError(t, err)
	}

	job := NewContentBackfillJob(repos.Article, &fakeFetcher{
		pages: map[string]string{"https://mp/ok": "<p>正文</p>"},
		errs: map[string]error{
			"https://mp/gone": crawler.ErrArticleDeleted,
			"https://mp/bare": crawler.ErrContentNotFound,
			"https://mp/down": errors.New("timeout"),
		},
	}, testLogger)

	filled, err := job.backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, filled)

	ok, err := repos.Article.FindByID(ctx, "u1", "ok")
	require.NoError(t, err)
	assert.Equal(t, "<p>正文</p>", ok.Content)

	bare, err := repos.Article.FindByID(ctx, "u1", "bare")
	require.NoError(t, err)
	assert.Equal(t, "<p>一段摘要</p>", bare.Content)

	gone, err := repos.Article.FindByID(ctx, "u1", "gone")
	require.NoError(t, err)
	assert.Equal(t, model.ArticleStatusDeleted, gone.Status)

	rest, err := repos.Article.ListMissingContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "down", rest[0].ID)
}

type fakeSweeper struct{ users []string }

func (f *fakeSweeper) SweepExpired(ctx context.Context, limit int) (quota.SweepResult, error) {
	return quota.SweepResult{Total: len(f.users), Users: f.users}, nil
}

type memNotices struct {
	mu     sync.Mutex
	owners []string
}

func (m *memNotices) Notify(ctx context.Context, ownerID, title, content, noticeType, refID string) *model.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners = append(m.owners, ownerID)
	return &model.Notice{OwnerID: ownerID, Title: title, NoticeType: noticeType}
}
func (m *memNotices) List(ctx context.Context, ownerID string, unreadOnly bool, limit int) ([]*model.Notice, error) {
	return nil, nil
}
func (m *memNotices) MarkRead(ctx context.Context, ownerID, id string) error       { return nil }
func (m *memNotices) CountUnread(ctx context.Context, ownerID string) (int, error) { return 0, nil }
func (m *memNotices) System(ctx context.Context, title, text, tag string)          {}

func TestSubscriptionSweepJob_NotifiesDowngradedUsers(t *testing.T) {
	notices := &memNotices{}
	NewSubscriptionSweepJob(&fakeSweeper{users: []string{"u1", "u2"}}, notices, testLogger).Run()
	assert.Equal(t, []string{"u1", "u2"}, notices.owners)
}

func TestOptionsNormalize(t *testing.T) {
	o := Options{RetryInterval: time.Second, SweepInterval: time.Minute}.normalize()
	assert.Equal(t, 1, o.Workers)
	assert.Equal(t, 10*time.Second, o.RetryInterval)
	assert.Equal(t, 300*time.Second, o.SweepInterval)
	assert.Equal(t, 10*time.Minute, o.BackfillInterval)
}
