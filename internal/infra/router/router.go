/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-15 11:30:55
 * @LastEditTime: 2026-02-21 11:02:18
 * @LastEditors: 安知鱼
 */
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/middleware"
	ops_handler "github.com/anzhiyu-c/anheyu-mpflow/pkg/handler/ops"
	version_handler "github.com/anzhiyu-c/anheyu-mpflow/pkg/handler/version"
)

// 运维写操作每个 IP 每分钟的请求上限
const (
	opsWriteRPM   = 30
	opsWriteBurst = 10
)

// NoCacheMiddleware 全局反缓存中间件，确保运维接口的响应不会被代理缓存
func NoCacheMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate, private, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		c.Next()
	})
}

// Options 运维接口的鉴权与跨域设置
type Options struct {
	OpsToken    string
	CorsOrigins []string
	// Metrics 为空时不注册 /metrics
	Metrics http.Handler
}

// Router 封装了运维路由和其依赖的处理器。
type Router struct {
	opsHandler     *ops_handler.Handler
	versionHandler *version_handler.Handler
	opts           Options
}

func NewRouter(opsHandler *ops_handler.Handler, versionHandler *version_handler.Handler, opts Options) *Router {
	return &Router{
		opsHandler:     opsHandler,
		versionHandler: versionHandler,
		opts:           opts,
	}
}

func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Cors(r.opts.CorsOrigins))

	// 探针不走鉴权
	engine.GET("/healthz", r.opsHandler.Healthz)
	if r.opts.Metrics != nil {
		engine.GET("/metrics", middleware.OpsTokenAuth(r.opts.OpsToken), gin.WrapH(r.opts.Metrics))
	}

	apiGroup := engine.Group("/api")
	apiGroup.Use(NoCacheMiddleware())

	r.registerVersionRoutes(apiGroup)
	r.registerOpsRoutes(apiGroup)
}

func (r *Router) registerVersionRoutes(api *gin.RouterGroup) {
	api.GET("/version", r.versionHandler.GetVersion)
	api.GET("/version/string", r.versionHandler.GetVersionString)
}

func (r *Router) registerOpsRoutes(api *gin.RouterGroup) {
	ops := api.Group("/ops").Use(middleware.OpsTokenAuth(r.opts.OpsToken))
	{
		ops.GET("/queue", r.opsHandler.QueueStats)
		ops.GET("/tasks/:id/next-runs", r.opsHandler.NextRuns)
		ops.GET("/tasks/:id/logs", r.opsHandler.TaskLogs)
	}

	write := api.Group("/ops").Use(middleware.OpsTokenAuth(r.opts.OpsToken), middleware.CustomRateLimit(opsWriteRPM, opsWriteBurst))
	{
		write.POST("/reload", r.opsHandler.Reload)
		write.POST("/tasks/:id/run", r.opsHandler.RunNow)
	}
}
