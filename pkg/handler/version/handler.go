/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-09-26 09:52:32
 * @LastEditTime: 2026-02-21 10:30:02
 * @LastEditors: 安知鱼
 */
package version

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/version"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/response"
)

// Handler 版本信息处理器
type Handler struct{}

// NewHandler 创建版本信息处理器实例
func NewHandler() *Handler {
	return &Handler{}
}

// GetVersion 获取版本信息
func (h *Handler) GetVersion(c *gin.Context) {
	response.Success(c, version.GetBuildInfo(), "获取版本信息成功")
}

// GetVersionString 获取版本字符串
func (h *Handler) GetVersionString(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": version.GetVersionString(),
	})
}
