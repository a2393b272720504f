package composequeue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/sqlstore"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
)

type fakeGenerator struct {
	urls   []string
	during func()
}

func (f *fakeGenerator) Generate(ctx context.Context, prompts []string) ([]string, string) {
	if f.during != nil {
		f.during()
	}
	return f.urls[:min(len(prompts), len(f.urls))], "本地生图完成"
}

type fixture struct {
	repos   repository.Repositories
	queue   *Queue
	journal *draft.Journal
	gen     *fakeGenerator
	article *model.Article
}

func newFixture(t *testing.T, tier string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrationService(db, "sqlite").RunMigrations(ctx))
	repos := sqlstore.NewRepositories(db, "sqlite")

	require.NoError(t, repos.User.Create(ctx, &model.User{OwnerID: "u1", Role: model.RoleUser, Plan: model.PlanState{Tier: tier}}))
	feed := &model.Feed{OwnerID: "u1", SourceID: "MzAfake", DisplayName: "测试号"}
	require.NoError(t, repos.Feed.Create(ctx, feed))
	article := &model.Article{ID: "a1", OwnerID: "u1", FeedID: feed.ID, Title: "AI 运营实战", URL: "https://mp/a1", Content: "<p>源文内容</p>", PublishTS: 100}
	_, err = repos.Article.Upsert(ctx, article)
	require.NoError(t, err)

	cfg := config.NewFromMap(map[string]interface{}{
		config.KeyAIAPIKey:         "mock",
		config.KeyAILocalRulesFile: filepath.Join(t.TempDir(), "none.yaml"),
	})
	gen := &fakeGenerator{urls: []string{"https://img/c.png", "https://img/1.png"}}
	composer := compose.NewService(cfg, compose.NewChatClient(nil), gen, nil, nil)
	journal := draft.NewJournal(t.TempDir(), utility.NewPathLocker())
	guard := quota.NewGuard(repos.User, repos.DailyUsage, 60)
	q := NewQueue(repos, guard, composer, journal, nil, Options{Workers: 2, BatchSize: 3, IdleSleep: 10 * time.Millisecond})
	return &fixture{repos: repos, queue: q, journal: journal, gen: gen, article: article}
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, model.TierPro)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "u1", "a1", "translate", nil)
	assert.True(t, errors.Is(err, constant.ErrBadRequest))

	_, err = f.queue.Enqueue(ctx, "u1", "missing", model.ComposeModeCreate, nil)
	assert.True(t, errors.Is(err, constant.ErrNotFound))

	_, err = f.queue.Enqueue(ctx, "u2", "a1", model.ComposeModeCreate, nil)
	assert.True(t, errors.Is(err, constant.ErrNotFound), "不能为他人的文章创建任务")

	job, err := f.queue.Enqueue(ctx, " u1 ", "a1", " CREATE ", map[string]interface{}{"image_count": 2})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "任务已进入队列", job.StatusMsg)
	assert.Equal(t, model.ComposeModeCreate, job.Mode)

	n, err := f.queue.Count(ctx, "u1", []string{" PENDING "})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t, model.TierPro)
	ctx := context.Background()
	job, err := f.queue.Enqueue(ctx, "u1", "a1", model.ComposeModeCreate, map[string]interface{}{"image_count": 2, "instruction": "口语化"})
	require.NoError(t, err)

	handled, err := f.queue.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	got, err := f.queue.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, got.Status)
	assert.Equal(t, "任务完成", got.StatusMsg)
	require.NotNil(t, got.FinishedAt)
	assert.Contains(t, got.Result["result"], "![封面图](https://img/c.png)")
	assert.Equal(t, "a1", got.Result["article_id"])
	assert.NotNil(t, got.Result["local_draft"])

	drafts, err := f.journal.List("u1", 10)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "https://img/c.png", drafts[0].Metadata["cover_url"])
	assert.Equal(t, "口语化", drafts[0].Metadata["instruction"])

	user, err := f.repos.User.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, user.Plan.MonthlyAIUsed)
	assert.Equal(t, 2, user.Plan.MonthlyImageUsed)

	t.Run("终态任务不再处理", func(t *testing.T) {
		assert.NoError(t, f.queue.Process(ctx, got))
	})
	t.Run("抢占失败", func(t *testing.T) {
		stale := *got
		stale.Status = model.JobStatusPending
		assert.True(t, errors.Is(f.queue.Process(ctx, &stale), constant.ErrTaskStateChanged))
	})
}

func TestProcess_PlanRejected(t *testing.T) {
	f := newFixture(t, model.TierFree)
	ctx := context.Background()
	job, err := f.queue.Enqueue(ctx, "u1", "a1", model.ComposeModeCreate, map[string]interface{}{"image_count": 1})
	require.NoError(t, err)

	err = f.queue.Process(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, constant.ErrPlanForbidden))

	got, err := f.queue.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "任务失败", got.StatusMsg)
	assert.Contains(t, got.ErrorMsg, "图片生成")

	t.Run("关闭配图后免费用户可以创作", func(t *testing.T) {
		job, err := f.queue.Enqueue(ctx, "u1", "a1", model.ComposeModeCreate, map[string]interface{}{"generate_images": false})
		require.NoError(t, err)
		require.NoError(t, f.queue.Process(ctx, job))
	})
}

func TestRequestOptions(t *testing.T) {
	opts, instruction, generate := requestOptions(model.JSONMap{"platform": "CSDN", "image_count": float64(12), "instruction": " 简洁 "})
	assert.Equal(t, "csdn", opts.Platform)
	assert.Equal(t, compose.MaxImagePrompts, opts.ImageCount)
	assert.Equal(t, "简洁", instruction)
	assert.True(t, generate)

	opts, _, _ = requestOptions(model.JSONMap{})
	assert.Equal(t, defaultImageCount, opts.ImageCount)
	assert.Equal(t, compose.DefaultStyle, opts.Style)
}

func TestRun_WorkersDrainQueue(t *testing.T) {
	f := newFixture(t, model.TierPremium)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.queue.Run(ctx) }()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.queue.Enqueue(context.Background(), "u1", "a1", model.ComposeModeAnalyze, nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	require.Eventually(t, func() bool {
		n, err := f.queue.Count(context.Background(), "u1", []string{model.JobStatusSuccess})
		return err == nil && n == len(ids)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker 未退出")
	}
}

func TestProcess_InterruptedJobReturnsToQueue(t *testing.T) {
	f := newFixture(t, model.TierPro)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job, err := f.queue.Enqueue(ctx, "u1", "a1", model.ComposeModeCreate, map[string]interface{}{"image_count": 1})
	require.NoError(t, err)

	// 生图过程中服务停止
	f.gen.during = cancel
	err = f.queue.Process(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	bg := context.Background()
	got, err := f.queue.Get(bg, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status, "中断的任务不能停在 processing")
	assert.Nil(t, got.StartedAt)

	drafts, err := f.journal.List("u1", 10)
	require.NoError(t, err)
	assert.Empty(t, drafts, "中断时不写草稿")
	user, err := f.repos.User.FindByOwner(bg, "u1")
	require.NoError(t, err)
	assert.Zero(t, user.Plan.MonthlyAIUsed, "中断时不扣额度")

	f.gen.during = nil
	require.NoError(t, f.queue.Process(bg, got))
	got, err = f.queue.Get(bg, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, got.Status)
}

func TestRun_RequeuesStaleProcessingJobs(t *testing.T) {
	f := newFixture(t, model.TierPremium)
	bg := context.Background()
	job, err := f.queue.Enqueue(bg, "u1", "a1", model.ComposeModeAnalyze, nil)
	require.NoError(t, err)
	// 模拟上次进程抢占后退出
	ok, err := f.repos.ComposeJob.Claim(bg, job.ID, "任务处理中", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.queue.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := f.queue.Get(bg, "u1", job.ID)
		return err == nil && got.Status == model.JobStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker 未退出")
	}
}
