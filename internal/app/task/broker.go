// internal/app/task/broker.go
package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
)

const (
	queueSize = 1000

	minRetryInterval    = 10 * time.Second
	minSweepInterval    = 300 * time.Second
	defaultBackfillTick = 10 * time.Minute
)

// Options 队列与系统周期任务配置
type Options struct {
	Workers          int
	RetryInterval    time.Duration
	SweepInterval    time.Duration
	BackfillEnabled  bool
	BackfillInterval time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:          cfg.GetIntClamped(config.KeyTaskWorkers, 1, 16),
		RetryInterval:    cfg.GetSeconds(config.KeyAIPublishQueueInterval),
		SweepInterval:    cfg.GetSeconds(config.KeyBillingSweepInterval),
		BackfillEnabled:  cfg.GetBool(config.KeyGatherContentAutoCheck),
		BackfillInterval: time.Duration(cfg.GetInt(config.KeyGatherContentAutoInterval)) * time.Minute,
	}
}

func (o Options) normalize() Options {
	o.Workers = max(1, o.Workers)
	o.RetryInterval = max(minRetryInterval, o.RetryInterval)
	o.SweepInterval = max(minSweepInterval, o.SweepInterval)
	if o.BackfillInterval <= 0 {
		o.BackfillInterval = defaultBackfillTick
	}
	return o
}

// Deps 除 Tasks、Feeds、Runner 外都可以为空，为空时不注册对应的周期任务
type Deps struct {
	Tasks    repository.TaskRepository
	Feeds    repository.FeedRepository
	Articles repository.ArticleRepository
	Runner   Runner
	Retry    RetryProcessor
	Sweeper  Sweeper
	Fetcher  ContentFetcher
	Notices  notice.Service
}

type scheduled struct {
	entry   cron.EntryID
	ownerID string
	spec    string
}

// Stats 队列状态快照
type Stats struct {
	Scheduled int `json:"scheduled"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Workers   int `json:"workers"`
	Dropped   int `json:"dropped"`
	// Running 正在执行的任务数，Waiting 排在同一任务之后等待的触发数
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

// Broker 是整个后台任务模块的核心协调者。cron 触发只负责入队，真正的执行在 worker 中完成
type Broker struct {
	cron     *cron.Cron
	logger   *slog.Logger
	deps     Deps
	opts     Options
	jobQueue chan Job
	wg       sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]scheduled
	// pending 去重标记，值为任务 ID。worker 开始执行时才清除
	pending map[string]string
	// running 同一任务同一时刻只在一个 worker 上执行，其余触发在 waiting 中排队
	running map[string]bool
	waiting map[string][]*TickJob
	dropped int
	stopped bool
}

// NewBroker 是 Broker 的构造函数。
func NewBroker(deps Deps, opts Options) *Broker {
	slogHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(slogHandler).With("system", "task_broker")

	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(time.Local),
		cron.WithChain(
			NewPanicRecoveryWrapper(logger),
			cron.DelayIfStillRunning(cron.DefaultLogger),
		),
	)

	broker := &Broker{
		cron:     c,
		logger:   logger,
		deps:     deps,
		opts:     opts.normalize(),
		jobQueue: make(chan Job, queueSize),
		tasks:    map[string]scheduled{},
		pending:  map[string]string{},
		running:  map[string]bool{},
		waiting:  map[string][]*TickJob{},
	}
	broker.startWorkerPool()
	return broker
}

// startWorkerPool 启动固定数量的 worker，按入队顺序执行
func (b *Broker) startWorkerPool() {
	b.logger.Info("Starting task worker pool", "concurrency", b.opts.Workers)
	chain := cron.NewChain(
		NewPanicRecoveryWrapper(b.logger),
		NewLoggingWrapper(b.logger),
	)
	for i := 0; i < b.opts.Workers; i++ {
		workerID := i + 1
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for job := range b.jobQueue {
				chain.Then(job).Run()
			}
			b.logger.Info("Worker stopped", "worker_id", workerID)
		}()
	}
}

// Dispatch 将任务发送到队列中，队列已满时丢弃并返回 false
func (b *Broker) Dispatch(job Job) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dispatchLocked(job)
}

func (b *Broker) dispatchLocked(job Job) bool {
	if b.stopped {
		return false
	}
	select {
	case b.jobQueue <- job:
		return true
	default:
		b.dropped++
		b.logger.Warn("任务队列已满，丢弃本次任务", "job_name", job.Name())
		return false
	}
}

// RegisterCronJobs 注册系统周期任务
func (b *Broker) RegisterCronJobs() {
	b.logger.Info("Registering all periodic jobs...")

	if b.deps.Retry != nil {
		b.mustAdd("PublishRetryJob", every(b.opts.RetryInterval), NewPublishRetryJob(b.deps.Retry, b.logger))
	}
	if b.deps.Sweeper != nil {
		b.mustAdd("SubscriptionSweepJob", every(b.opts.SweepInterval), NewSubscriptionSweepJob(b.deps.Sweeper, b.deps.Notices, b.logger))
	}
	if b.opts.BackfillEnabled && b.deps.Fetcher != nil && b.deps.Articles != nil {
		b.mustAdd("ContentBackfillJob", every(b.opts.BackfillInterval), NewContentBackfillJob(b.deps.Articles, b.deps.Fetcher, b.logger))
	}

	b.logger.Info("All periodic jobs registered.")
}

func (b *Broker) mustAdd(name, spec string, job cron.Job) {
	if _, err := b.cron.AddJob(spec, cron.NewChain(NewLoggingWrapper(b.logger)).Then(job)); err != nil {
		b.logger.Error("Failed to add '"+name+"'", slog.Any("error", err))
		os.Exit(1)
	}
	b.logger.Info("-> Successfully registered '"+name+"'", "schedule", spec)
}

// Schedule 按任务 ID 幂等注册，已存在的条目先移除
func (b *Broker) Schedule(t *model.Task) (cron.EntryID, error) {
	if _, err := ParseSpec(t.CronExpr); err != nil {
		return 0, err
	}
	taskID, ownerID := t.ID, t.OwnerID
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(taskID)
	id, err := b.cron.AddFunc(t.CronExpr, func() { b.onTick(taskID, ownerID) })
	if err != nil {
		return 0, fmt.Errorf("注册任务失败: %v: %w", err, constant.ErrBadRequest)
	}
	b.tasks[taskID] = scheduled{entry: id, ownerID: ownerID, spec: t.CronExpr}
	b.logger.Info("任务已注册", "task_id", taskID, "owner_id", ownerID, "cron", t.CronExpr)
	return id, nil
}

// Unschedule 移除任务的 cron 条目
func (b *Broker) Unschedule(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(taskID)
}

func (b *Broker) removeLocked(taskID string) {
	if s, ok := b.tasks[taskID]; ok {
		b.cron.Remove(s.entry)
		delete(b.tasks, taskID)
	}
}

// Reload ownerID 为空时重建全部任务，否则只重建该用户的任务。
// 队列中尚未执行的触发保留去重标记，只有不再启用的任务才清除
func (b *Broker) Reload(ctx context.Context, ownerID string) (int, error) {
	tasks, err := b.deps.Tasks.ListActive(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("读取任务失败: %w", err)
	}
	active := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		active[t.ID] = true
	}

	b.mu.Lock()
	removed := map[string]bool{}
	for id, s := range b.tasks {
		if ownerID == "" || s.ownerID == ownerID {
			b.cron.Remove(s.entry)
			delete(b.tasks, id)
			if !active[id] {
				removed[id] = true
			}
		}
	}
	for key, taskID := range b.pending {
		if removed[taskID] {
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if _, err := b.Schedule(t); err != nil {
			b.logger.Warn("任务注册失败，已跳过", "task_id", t.ID, "cron", t.CronExpr, "error", err)
			continue
		}
		n++
	}
	b.logger.Info("任务已重新加载", "owner_id", ownerID, "count", n)
	return n, nil
}

// RunNow 立即入队一次，仍遵守去重规则，返回实际入队的数量
func (b *Broker) RunNow(ctx context.Context, taskID string) (int, error) {
	t, err := b.deps.Tasks.FindByID(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return b.enqueueTask(ctx, t)
}

// onTick 运行在 cron 的调度协程上，只负责入队，读取任务与订阅源放到 worker 中完成
func (b *Broker) onTick(taskID, ownerID string) {
	job := &triggerJob{broker: b, key: tickKey(taskID, triggerFeed), taskID: taskID, ownerID: ownerID}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.pending[job.key]; busy {
		return
	}
	if b.dispatchLocked(job) {
		b.pending[job.key] = taskID
	}
}

func (b *Broker) resolveFeeds(ctx context.Context, t *model.Task) ([]*model.Feed, error) {
	if len(t.FeedIDs) == 0 {
		return b.deps.Feeds.ListActive(ctx, t.OwnerID)
	}
	return b.deps.Feeds.ListActiveByIDs(ctx, t.OwnerID, t.FeedIDs)
}

// 触发标记与发布任务使用的伪订阅源
const (
	triggerFeed = "#trigger"
	allFeeds    = "*"
)

func tickKey(taskID, feedID string) string {
	return taskID + ":" + feedID
}

// enqueueTask 抓取任务每个订阅源一条，发布任务一条覆盖全部订阅源
func (b *Broker) enqueueTask(ctx context.Context, t *model.Task) (int, error) {
	if t.Status != model.TaskStatusActive {
		return 0, fmt.Errorf("任务未启用: %w", constant.ErrInvalidOperation)
	}
	feeds, err := b.resolveFeeds(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("读取订阅源失败: %w", err)
	}
	if len(feeds) == 0 {
		b.logger.Info("任务没有可用的订阅源，跳过", "task_id", t.ID)
		return 0, nil
	}

	var jobs []*TickJob
	if t.IsPublish() {
		jobs = append(jobs, &TickJob{broker: b, key: tickKey(t.ID, allFeeds), taskID: t.ID, ownerID: t.OwnerID, feeds: feeds})
	} else {
		for _, f := range feeds {
			jobs = append(jobs, &TickJob{broker: b, key: tickKey(t.ID, f.ID), taskID: t.ID, ownerID: t.OwnerID, feeds: []*model.Feed{f}})
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	queued := 0
	for _, j := range jobs {
		if _, busy := b.pending[j.key]; busy {
			continue
		}
		if !b.dispatchLocked(j) {
			continue
		}
		b.pending[j.key] = j.taskID
		queued++
	}
	return queued, nil
}

// release worker 开始执行时清除待执行标记
func (b *Broker) release(key string) {
	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
}

// acquire 取得任务的执行权。任务已在其他 worker 上执行时把 job 挂到等待列表并返回 false，
// 等待中的 job 仍保留去重标记
func (b *Broker) acquire(j *TickJob) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running[j.taskID] {
		b.waiting[j.taskID] = append(b.waiting[j.taskID], j)
		return false
	}
	b.running[j.taskID] = true
	return true
}

// handoff 当前执行结束，返回同一任务下一条等待的 job；没有时释放执行权
func (b *Broker) handoff(taskID string) *TickJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.waiting[taskID]; len(q) > 0 {
		next := q[0]
		if len(q) == 1 {
			delete(b.waiting, taskID)
		} else {
			b.waiting[taskID] = q[1:]
		}
		return next
	}
	delete(b.running, taskID)
	return nil
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiting := 0
	for _, q := range b.waiting {
		waiting += len(q)
	}
	return Stats{
		Scheduled: len(b.tasks),
		Pending:   len(b.pending),
		Queued:    len(b.jobQueue),
		Workers:   b.opts.Workers,
		Dropped:   b.dropped,
		Running:   len(b.running),
		Waiting:   waiting,
	}
}

// Start 启动 cron 调度器。
func (b *Broker) Start() {
	b.logger.Info("Task broker started.")
	b.cron.Start()
}

// Stop 停止 cron，等待队列中的任务执行完毕
func (b *Broker) Stop() {
	b.logger.Info("Stopping task broker...")
	ctx := b.cron.Stop()
	<-ctx.Done()
	b.mu.Lock()
	b.stopped = true
	close(b.jobQueue)
	b.mu.Unlock()
	b.wg.Wait()
	b.logger.Info("Task broker gracefully stopped.")
}
