/*
 * @Description: 抓取到的源文章
 * @Author: 安知鱼
 * @Date: 2026-02-11 10:35:07
 * @LastEditTime: 2026-03-03 15:22:48
 * @LastEditors: 安知鱼
 */
package model

import (
	"strings"
	"time"
)

const (
	ArticleStatusActive  = "active"
	ArticleStatusDeleted = "deleted"
)

// Article 源文章。Content 为空表示正文尚未抓取
type Article struct {
	ID          string
	OwnerID     string
	FeedID      string
	Title       string
	URL         string
	Description string
	Cover       string
	PublishTS   int64
	Content     string
	Status      string
	CreatedAt   time.Time
}

func (a *Article) HasContent() bool {
	return strings.TrimSpace(a.Content) != ""
}

// SourceText 创作素材：正文优先，其次摘要，最后标题
func (a *Article) SourceText() string {
	for _, s := range []string{a.Content, a.Description, a.Title} {
		if v := strings.TrimSpace(s); v != "" {
			return v
		}
	}
	return ""
}
