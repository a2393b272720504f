package model

import "time"

const (
	DefaultPublishMaxRetries = 3
	MaxPublishMaxRetries     = 8
	PublishErrorLimit        = 1000
	PublishResponseLimit     = 3000
)

// PublishPayload 重试时重新提交的草稿内容
type PublishPayload struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	Digest           string `json:"digest"`
	Author           string `json:"author"`
	CoverURL         string `json:"cover_url"`
	ContentSourceURL string `json:"content_source_url"`
}

// PublishRecord 公众号草稿投递重试记录
type PublishRecord struct {
	ID            string
	OwnerID       string
	ArticleID     string
	DraftID       string
	Payload       PublishPayload
	Status        string // 复用 JobStatus* 常量
	Retries       int
	MaxRetries    int
	NextAttemptAt *time.Time
	LastError     string
	LastResponse  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
