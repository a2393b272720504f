/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-10-17 10:35:28
 * @LastEditTime: 2026-03-06 23:12:51
 * @LastEditors: 安知鱼
 */
// anheyu-mpflow/cmd/server/app.go
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/bootstrap"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/listener"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/task"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/metrics"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/persistence/sqlstore"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/router"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/infra/storage"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/version"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/config"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/crawler"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	ops_handler "github.com/anzhiyu-c/anheyu-mpflow/pkg/handler/ops"
	version_handler "github.com/anzhiyu-c/anheyu-mpflow/pkg/handler/version"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/auth"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/composequeue"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/csdn"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/delivery"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/draft"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/image"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/imagegen"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/notice"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/pipeline"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/publishqueue"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/quota"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/wechat"
)

const shutdownTimeout = 15 * time.Second

// App 结构体，用于封装应用的所有核心组件
type App struct {
	cfg          *config.Config
	engine       *gin.Engine
	taskBroker   *task.Broker
	composeQueue *composequeue.Queue
	sqlDB        *sql.DB
	redisClient  *redis.Client
	eventBus     *event.EventBus

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (a *App) PrintBanner() {
	log.Println("--------------------------------------------------------")
	log.Printf(" Anheyu MPFlow: %s", version.GetVersionString())
	log.Println("--------------------------------------------------------")
}

// NewApp 是应用的构造函数，它执行所有的初始化和依赖注入工作。configPath 为空时使用默认配置文件
func NewApp(configPath string) (*App, func(), error) {
	// --- Phase 1: 加载外部配置 ---
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.NewConfigFromFile(configPath)
	} else {
		cfg, err = config.NewConfig()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// --- Phase 2: 初始化基础设施 ---
	sqlDB, err := database.NewSQLDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("创建数据库连接池失败: %w", err)
	}
	dbType := database.NormalizeType(cfg.GetString(config.KeyDBType))

	// 尝试连接 Redis（如果失败，将自动降级到内存缓存）
	redisClient, err := database.NewRedisClient(context.Background(), cfg)
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("redis 初始化失败: %w", err)
	}

	cleanup := func() {
		log.Println("执行清理操作：关闭数据库连接...")
		sqlDB.Close()
		if redisClient != nil {
			log.Println("关闭 Redis 连接...")
			redisClient.Close()
		}
	}

	// --- Phase 3: 建表与运行目录 ---
	if err := bootstrap.NewBootstrapper(sqlDB, dbType, cfg).Initialize(context.Background()); err != nil {
		return nil, cleanup, fmt.Errorf("初始化失败: %w", err)
	}

	// --- Phase 4: 初始化数据仓库层 ---
	repos := sqlstore.NewRepositories(sqlDB, dbType)
	txManager := sqlstore.NewTransactionManager(sqlDB, dbType)
	eventBus := event.NewEventBus()
	cacheSvc := utility.NewCacheServiceWithFallback(redisClient)

	// --- Phase 5: 初始化外部平台客户端 ---
	userAgent := cfg.GetString(config.KeyGatherUserAgent)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	imageHost, err := storage.NewImageHost(storage.HostConfig{
		Provider:  cfg.GetString(config.KeyStorageProvider),
		AccessKey: cfg.GetString(config.KeyStorageAccessKey),
		SecretKey: cfg.GetString(config.KeyStorageSecretKey),
		Bucket:    cfg.GetString(config.KeyStorageBucket),
		Region:    cfg.GetString(config.KeyStorageRegion),
		Endpoint:  cfg.GetString(config.KeyStorageEndpoint),
		Domain:    cfg.GetString(config.KeyStorageDomain),
		BasePath:  cfg.GetString(config.KeyStorageBasePath),
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("初始化图片转存失败: %w", err)
	}
	if imageHost != nil {
		log.Printf("✅ 生成图片将转存到 %s", imageHost.Name())
	}

	imageSvc := image.NewService(httpClient, userAgent, 0)
	imageGen := imagegen.NewService(cfg)
	// 模型生成耗时较长，单独使用更宽的超时
	chatClient := compose.NewChatClient(&http.Client{Timeout: 180 * time.Second})
	composer := compose.NewService(cfg, chatClient, imageGen, imageSvc, imageHost)

	wechatClient := wechat.NewClient(wechat.Options{
		DefaultCoverPath: cfg.GetString(config.KeyAIWechatDefaultCoverPath),
		HTTPClient:       httpClient,
	}, cacheSvc, imageSvc)
	prober := wechat.NewProber("", httpClient, userAgent)

	csdnPublisher := csdn.NewPublisher(csdn.Options{
		ScreenshotDir: cfg.GetString(config.KeyAICSDNScreenshotDir),
		ExecPath:      cfg.GetString(config.KeyAICSDNChromePath),
		UserAgent:     userAgent,
		Tags:          splitList(cfg.GetString(config.KeyAICSDNTags)),
	})

	mpCrawler, err := crawler.NewCrawler(userAgent, cfg.GetSeconds(config.KeyTaskInterval))
	if err != nil {
		return nil, cleanup, err
	}

	// --- Phase 6: 初始化业务逻辑层 ---
	authSvc := auth.NewAuthService(repos.User, repos.WechatAuth, repos.CSDNAuth, prober, userAgent)
	guard := quota.NewGuard(repos.User, repos.DailyUsage, cfg.GetInt(config.KeyAIDailyLimit))
	billing := quota.NewBilling(txManager, repos.User, repos.BillingOrder)
	journal := draft.NewJournal(cfg.GetString(config.KeyAIDraftDir), utility.NewPathLocker())

	sender := notice.NewSender(httpClient)
	noticeSvc := notice.NewNoticeService(repos.Notice, notice.WebhooksFromConfig(cfg), sender, notice.WithEventBus(eventBus))

	adapters := delivery.NewRegistry(delivery.NewWechatAdapter(wechatClient), delivery.NewCSDNAdapter(csdnPublisher))
	wechatAdapter, err := wechatDelivery(adapters)
	if err != nil {
		return nil, cleanup, err
	}
	csdnAdapter, _ := adapters.Get(model.PlatformCSDN)

	retryQueue := publishqueue.NewQueue(repos.PublishRecord, authSvc, wechatAdapter, journal, noticeSvc)
	composeQueue := composequeue.NewQueue(repos, guard, composer, journal, noticeSvc, composequeue.OptionsFromConfig(cfg))

	mx, err := metrics.New()
	if err != nil {
		return nil, cleanup, err
	}

	runner := pipeline.New(pipeline.Deps{
		Repos:      repos,
		Auth:       authSvc,
		Crawler:    mpCrawler,
		Guard:      guard,
		Composer:   composer,
		Journal:    journal,
		Wechat:     wechatAdapter,
		CSDN:       csdnAdapter,
		Retry:      retryQueue,
		Notices:    noticeSvc,
		Bus:        eventBus,
		ImageCount: pipeline.ImageCountFromConfig(cfg),
		Observer:   mx,
	})

	taskBroker := task.NewBroker(task.Deps{
		Tasks:    repos.Task,
		Feeds:    repos.Feed,
		Articles: repos.Article,
		Runner:   runner,
		Retry:    retryQueue,
		Sweeper:  billing,
		Fetcher:  mpCrawler,
		Notices:  noticeSvc,
	}, task.OptionsFromConfig(cfg))
	if err := mx.WatchBroker(taskBroker.Stats); err != nil {
		return nil, cleanup, err
	}
	if err := mx.WatchCompose(composeQueue); err != nil {
		return nil, cleanup, err
	}

	// --- Phase 7: 事件监听 ---
	listener.NewTaskWebhookListener(eventBus, sender)
	listener.NewSystemNoticeListener(eventBus, noticeSvc)

	// --- Phase 8: HTTP ---
	if cfg.GetBool(config.KeyServerDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.GetBool(config.KeyServerDebug) {
		engine.Use(gin.Logger())
	}
	opsHandler := ops_handler.NewHandler(taskBroker, composeQueue, repos.Task, repos.TaskLog, sqlDB)
	router.NewRouter(opsHandler, version_handler.NewHandler(), router.Options{
		OpsToken:    cfg.GetString(config.KeyServerOpsToken),
		CorsOrigins: splitList(cfg.GetString(config.KeyServerCorsOrigins)),
		Metrics:     mx.Handler(),
	}).Setup(engine)

	app := &App{
		cfg:          cfg,
		engine:       engine,
		taskBroker:   taskBroker,
		composeQueue: composeQueue,
		sqlDB:        sqlDB,
		redisClient:  redisClient,
		eventBus:     eventBus,
	}
	return app, cleanup, nil
}

// wechatDelivery 公众号适配器还需要群发能力
func wechatDelivery(adapters *delivery.Registry) (pipeline.WechatDelivery, error) {
	a, ok := adapters.Get(model.PlatformWechatMP)
	if !ok {
		return nil, errors.New("公众号投递适配器未注册")
	}
	wd, ok := a.(pipeline.WechatDelivery)
	if !ok {
		return nil, errors.New("公众号投递适配器不支持群发")
	}
	return wd, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Run 加载任务并启动后台队列与 HTTP 服务，收到退出信号后优雅停止
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := a.taskBroker.Reload(ctx, "")
	if err != nil {
		return fmt.Errorf("加载定时任务失败: %w", err)
	}
	log.Printf("✅ 已加载 %d 个定时任务", n)
	a.taskBroker.RegisterCronJobs()
	a.taskBroker.Start()

	queueCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.composeQueue.Run(queueCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("AI 创作队列退出: %v", err)
		}
	}()

	port := a.cfg.GetString(config.KeyServerPort)
	if port == "" {
		port = "8092"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("应用程序启动成功，正在监听端口: %s\n", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("收到退出信号，开始关闭服务...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// Stop 停止调度器与创作队列，可以重复调用
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.taskBroker != nil {
			a.taskBroker.Stop()
			log.Println("任务调度器已停止。")
		}
		if a.cancel != nil {
			a.cancel()
			a.wg.Wait()
			log.Println("AI 创作队列已停止。")
		}
		if a.eventBus != nil {
			a.eventBus.Shutdown()
		}
	})
}
