// internal/app/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/response"
)

// OpsTokenAuth 运维接口的 Bearer 令牌校验。token 为空时不校验，只适合绑定在内网地址上
func OpsTokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		log.Printf("[OpsTokenAuth] 未配置运维令牌，运维接口不做鉴权")
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(token)
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			response.Fail(c, http.StatusUnauthorized, "请求未携带Token，无权限访问")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Fail(c, http.StatusUnauthorized, "Token格式不正确")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			log.Printf("[OpsTokenAuth] 令牌校验失败: %s %s", c.Request.Method, c.Request.URL.Path)
			response.Fail(c, http.StatusUnauthorized, "无效的Token")
			c.Abort()
			return
		}
		c.Next()
	}
}
