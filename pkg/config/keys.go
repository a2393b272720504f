package config

import "github.com/spf13/viper"

const (
	KeyServerPort  = "System.Port"
	KeyServerDebug = "System.Debug"

	// 运维接口的 Bearer 令牌，留空不鉴权
	KeyServerOpsToken    = "System.OpsToken"
	KeyServerCorsOrigins = "System.CorsOrigins"

	KeyDBType     = "Database.Type"
	KeyDBHost     = "Database.Host"
	KeyDBPort     = "Database.Port"
	KeyDBUser     = "Database.User"
	KeyDBPassword = "Database.Password"
	KeyDBName     = "Database.Name"
	KeyDBDebug    = "Database.Debug"

	KeyRedisAddr     = "Redis.Addr"
	KeyRedisPassword = "Redis.Password"
	KeyRedisDB       = "Redis.DB"

	// AI 创作
	KeyAIBaseURL                  = "AI.BaseURL"
	KeyAIAPIKey                   = "AI.APIKey"
	KeyAIModel                    = "AI.Model"
	KeyAIDailyLimit               = "AI.DailyLimit"
	KeyAIComposeQueueWorkers      = "AI.ComposeQueueWorkers"
	KeyAIComposeQueueBatchSize    = "AI.ComposeQueueBatchSize"
	KeyAIComposeQueueIdleSleep    = "AI.ComposeQueueIdleSleepSeconds"
	KeyAIPublishQueueInterval     = "AI.PublishQueueIntervalSeconds"
	KeyAIRefineEnabled            = "AI.RefineEnabled"
	KeyAIDraftDir                 = "AI.DraftDir"
	KeyAILocalRulesFile           = "AI.LocalRulesFile"
	KeyAIWechatDefaultCoverPath   = "AI.WechatDefaultCoverPath"
	KeyAICSDNScreenshotDir        = "AI.CSDNScreenshotDir"
	KeyAICSDNChromePath           = "AI.CSDNChromePath"
	KeyAICSDNTags                 = "AI.CSDNTags"
	KeyAIPipelineImageCount       = "AI.PipelineImageCount"
	KeyAIJimengChannel            = "AI.JimengChannel"
	KeyAIJimengLocalBaseURL       = "AI.JimengLocalBaseURL"
	KeyAIJimengLocalBaseURLs      = "AI.JimengLocalBaseURLs"
	KeyAIJimengLocalEndpoint      = "AI.JimengLocalEndpoint"
	KeyAIJimengLocalModel         = "AI.JimengLocalModel"
	KeyAIJimengLocalToken         = "AI.JimengLocalToken"
	KeyAIJimengLocalRatio         = "AI.JimengLocalRatio"
	KeyAIJimengLocalResolution    = "AI.JimengLocalResolution"
	KeyAIJimengLocalSendExtra     = "AI.JimengLocalSendExtraParams"
	KeyAIJimengTimeout            = "AI.JimengTimeout"
	KeyAIJimengAccessKey          = "AI.JimengAccessKey"
	KeyAIJimengSecretKey          = "AI.JimengSecretKey"
	KeyAIJimengReqKey             = "AI.JimengReqKey"
	KeyAIJimengFallbackReqKeys    = "AI.JimengFallbackReqKeys"
	KeyAIJimengScale              = "AI.JimengScale"
	KeyAIJimengMaxRetries         = "AI.JimengMaxRetries"
	KeyAIJimengRemoteEndpoint     = "AI.JimengRemoteEndpoint"
	KeyBillingSweepInterval       = "Billing.SubscriptionSweepIntervalSeconds"
	KeyTaskWorkers                = "Task.Workers"
	KeyTaskInterval               = "Task.Interval"
	KeyGatherContentAutoCheck     = "Gather.ContentAutoCheck"
	KeyGatherContentAutoInterval  = "Gather.ContentAutoInterval"
	KeyGatherUserAgent            = "Gather.UserAgent"
	KeyStorageProvider            = "Storage.Provider"
	KeyStorageAccessKey           = "Storage.AccessKey"
	KeyStorageSecretKey           = "Storage.SecretKey"
	KeyStorageBucket              = "Storage.Bucket"
	KeyStorageRegion              = "Storage.Region"
	KeyStorageEndpoint            = "Storage.Endpoint"
	KeyStorageDomain              = "Storage.Domain"
	KeyStorageBasePath            = "Storage.BasePath"
	KeyNoticeDingding             = "Notice.Dingding"
	KeyNoticeFeishu               = "Notice.Feishu"
	KeyNoticeWechat               = "Notice.Wechat"
	KeyNoticeCustom               = "Notice.Custom"
)

// 定义所有已知的配置键，环境变量覆盖只对这些键生效
var allKeys = []string{
	KeyServerPort, KeyServerDebug, KeyServerOpsToken, KeyServerCorsOrigins,
	KeyDBType, KeyDBHost, KeyDBPort, KeyDBUser, KeyDBPassword, KeyDBName, KeyDBDebug,
	KeyRedisAddr, KeyRedisPassword, KeyRedisDB,
	KeyAIBaseURL, KeyAIAPIKey, KeyAIModel, KeyAIDailyLimit,
	KeyAIComposeQueueWorkers, KeyAIComposeQueueBatchSize, KeyAIComposeQueueIdleSleep,
	KeyAIPublishQueueInterval, KeyAIRefineEnabled, KeyAIDraftDir, KeyAILocalRulesFile,
	KeyAIWechatDefaultCoverPath, KeyAICSDNScreenshotDir, KeyAICSDNChromePath, KeyAICSDNTags, KeyAIPipelineImageCount,
	KeyAIJimengChannel, KeyAIJimengLocalBaseURL, KeyAIJimengLocalBaseURLs, KeyAIJimengLocalEndpoint,
	KeyAIJimengLocalModel, KeyAIJimengLocalToken, KeyAIJimengLocalRatio, KeyAIJimengLocalResolution,
	KeyAIJimengLocalSendExtra, KeyAIJimengTimeout, KeyAIJimengAccessKey, KeyAIJimengSecretKey,
	KeyAIJimengReqKey, KeyAIJimengFallbackReqKeys, KeyAIJimengScale, KeyAIJimengMaxRetries,
	KeyAIJimengRemoteEndpoint,
	KeyBillingSweepInterval,
	KeyTaskWorkers, KeyTaskInterval,
	KeyGatherContentAutoCheck, KeyGatherContentAutoInterval, KeyGatherUserAgent,
	KeyStorageProvider, KeyStorageAccessKey, KeyStorageSecretKey, KeyStorageBucket,
	KeyStorageRegion, KeyStorageEndpoint, KeyStorageDomain, KeyStorageBasePath,
	KeyNoticeDingding, KeyNoticeFeishu, KeyNoticeWechat, KeyNoticeCustom,
}

// applyDefaults 写入内部默认值，ini 与环境变量都会覆盖它们
func applyDefaults(vp *viper.Viper) {
	vp.SetDefault(KeyServerPort, "8092")
	vp.SetDefault(KeyDBType, "sqlite")
	vp.SetDefault(KeyRedisDB, "10")

	vp.SetDefault(KeyAIBaseURL, "https://api.moonshot.cn/v1")
	vp.SetDefault(KeyAIModel, "kimi-k2-0711-preview")
	vp.SetDefault(KeyAIDailyLimit, 60)
	vp.SetDefault(KeyAIComposeQueueWorkers, 3)
	vp.SetDefault(KeyAIComposeQueueBatchSize, 3)
	vp.SetDefault(KeyAIComposeQueueIdleSleep, 1.0)
	vp.SetDefault(KeyAIPublishQueueInterval, 45)
	vp.SetDefault(KeyAIRefineEnabled, true)
	vp.SetDefault(KeyAIDraftDir, "./data/ai_drafts")
	vp.SetDefault(KeyAILocalRulesFile, "./data/ai_local_rules.yaml")
	vp.SetDefault(KeyAIWechatDefaultCoverPath, "./data/default_cover.jpg")
	vp.SetDefault(KeyAICSDNScreenshotDir, "./data/csdn_screenshots")
	vp.SetDefault(KeyAICSDNTags, "人工智能,大模型,AI")
	vp.SetDefault(KeyAIPipelineImageCount, 0)

	vp.SetDefault(KeyAIJimengChannel, "local")
	vp.SetDefault(KeyAIJimengLocalBaseURL, "http://127.0.0.1:5100")
	vp.SetDefault(KeyAIJimengLocalEndpoint, "/v1/images/generations")
	vp.SetDefault(KeyAIJimengLocalModel, "jimeng-4.5")
	vp.SetDefault(KeyAIJimengLocalRatio, "1:1")
	vp.SetDefault(KeyAIJimengLocalResolution, "2k")
	vp.SetDefault(KeyAIJimengLocalSendExtra, true)
	vp.SetDefault(KeyAIJimengTimeout, 120)
	vp.SetDefault(KeyAIJimengReqKey, "jimeng_t2i_v40")
	vp.SetDefault(KeyAIJimengFallbackReqKeys, "jimeng_t2i_v30")
	vp.SetDefault(KeyAIJimengScale, 0.5)
	vp.SetDefault(KeyAIJimengMaxRetries, 20)
	vp.SetDefault(KeyAIJimengRemoteEndpoint, "https://visual.volcengineapi.com")

	vp.SetDefault(KeyBillingSweepInterval, 3600)
	vp.SetDefault(KeyTaskWorkers, 1)
	vp.SetDefault(KeyTaskInterval, 10)
	vp.SetDefault(KeyGatherContentAutoInterval, 10)
	vp.SetDefault(KeyGatherUserAgent, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
}
