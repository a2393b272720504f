/*
 * @Description: AI 创作队列任务
 * @Author: 安知鱼
 * @Date: 2026-02-12 09:40:18
 * @LastEditTime: 2026-03-02 22:05:51
 * @LastEditors: 安知鱼
 */
package model

import "time"

const (
	ComposeModeAnalyze = "analyze"
	ComposeModeCreate  = "create"
	ComposeModeRewrite = "rewrite"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusSuccess    = "success"
	JobStatusFailed     = "failed"
)

// IsTerminalJobStatus success 与 failed 为终态，进入后不再变化
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusSuccess || status == JobStatusFailed
}

// ValidComposeMode 校验创作模式
func ValidComposeMode(mode string) bool {
	switch mode {
	case ComposeModeAnalyze, ComposeModeCreate, ComposeModeRewrite:
		return true
	}
	return false
}

// ComposeJob AI 创作队列任务
type ComposeJob struct {
	ID         string
	OwnerID    string
	ArticleID  string
	Mode       string
	Request    JSONMap
	Status     string
	StatusMsg  string
	ErrorMsg   string
	Result     JSONMap
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
