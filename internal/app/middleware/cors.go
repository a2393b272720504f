package middleware

import (
	"log"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Cors 运维面板跨域访问。allowed 为空时回显请求的 Origin
func Cors(allowed []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Authorization", "Content-Type", "X-Requested-With"}
	cfg.AllowCredentials = true
	cfg.MaxAge = 12 * time.Hour

	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if !strings.Contains(o, "://") {
			log.Printf("⚠️  忽略无效的跨域来源: %s", o)
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	inner := cors.New(cfg)

	return func(c *gin.Context) {
		// 只对 API 路由应用 CORS 头部
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		inner(c)
	}
}
